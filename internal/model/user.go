package model

import "time"

// Roles stored in users.role and carried in the JWT "role" claim.
const (
	RoleAdmin    = "ADMIN"
	RoleEmployee = "EMPLOYEE"
	RoleSecurity = "SECURITY"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r string) bool {
	switch r {
	case RoleAdmin, RoleEmployee, RoleSecurity:
		return true
	}
	return false
}

// User represents a row of the `users` table.  Phone is the login
// identifier.  The attendance engine only looks at ID and IsActive.
//
// Fields:
//
//	ID           – UUID primary key.
//	Name         – display name.
//	Phone        – unique login identifier.
//	PasswordHash – bcrypt hash.
//	Role         – ADMIN, EMPLOYEE or SECURITY.
//	IsActive     – disabled accounts cannot log in or be scanned.
type User struct {
	ID           string    // users.id
	Name         string    // users.name
	Phone        string    // users.phone
	PasswordHash string    // users.password_hash
	Role         string    // users.role
	IsActive     bool      // users.is_active
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// UserSession is the single active login of a user (`user_sessions`).
// Only the SHA-256 hash of the access token is stored.
type UserSession struct {
	UserID    string    // user_sessions.user_id
	TokenHash string    // user_sessions.token_hash
	ExpiresAt time.Time // user_sessions.expires_at
	CreatedAt time.Time // user_sessions.created_at
}
