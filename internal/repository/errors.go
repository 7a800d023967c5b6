// Package repository holds the SQL data access for users, sessions,
// attendance records and meal allowances.  Queries stick to the subset of
// SQL shared by MySQL and SQLite: '?' placeholders, timestamps supplied by
// the caller in UTC, and no vendor upsert syntax.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a lookup by key matches no row.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write loses a race: a unique key was
// taken by a concurrent transaction or the database chose this
// transaction as a deadlock victim.  The whole transaction may be retried.
var ErrConflict = errors.New("conflict")

// ErrDisabled is returned when the account behind a session is inactive.
var ErrDisabled = errors.New("account disabled")

// ErrPhoneExists is returned by UserRepo.Create for a duplicate phone.
var ErrPhoneExists = errors.New("phone already exists")

// MySQL error numbers treated as a lost race.
const (
	mysqlDuplicateEntry = 1062
	mysqlDeadlock       = 1213
)

// isConflict reports whether err is a unique violation or deadlock on
// either supported database.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDuplicateEntry || me.Number == mysqlDeadlock
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "database is locked")
}

// classify maps driver errors onto the package sentinels.
func classify(err error) error {
	if isConflict(err) {
		return errors.Join(ErrConflict, err)
	}
	return err
}
