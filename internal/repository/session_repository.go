package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SessionRepo keeps one active login per user (single 'token_hash' column).
// Storing a new session replaces the previous one, logging the user out of
// any other device.
type SessionRepo struct{ DB *sql.DB }

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{DB: db} }

// Store records tokenHash as the user's only valid session.
func (r *SessionRepo) Store(ctx context.Context, userID, tokenHash string, exp time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"REPLACE INTO user_sessions (user_id, token_hash, expires_at, created_at) VALUES (?,?,?,?)",
		userID, tokenHash, exp.UTC(), time.Now().UTC())
	return err
}

// Validate reports whether tokenHash is the user's current, unexpired
// session and returns the user's role as stored now, so a role change takes
// effect without a new login.  A missing or replaced session yields
// ErrNotFound; a session of a deactivated account yields ErrDisabled.
func (r *SessionRepo) Validate(ctx context.Context, userID, tokenHash string) (string, error) {
	var (
		stored    string
		expiresAt time.Time
		role      string
		active    bool
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT s.token_hash, s.expires_at, u.role, u.is_active
		   FROM user_sessions s JOIN users u ON u.id = s.user_id
		  WHERE s.user_id=? LIMIT 1`,
		userID).Scan(&stored, &expiresAt, &role, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if stored != tokenHash || time.Now().UTC().After(expiresAt) {
		return "", ErrNotFound
	}
	if !active {
		return "", ErrDisabled
	}
	return role, nil
}

// Revoke deletes the user's session.
func (r *SessionRepo) Revoke(ctx context.Context, userID string) error {
	_, err := r.DB.ExecContext(ctx, "DELETE FROM user_sessions WHERE user_id=?", userID)
	return err
}
