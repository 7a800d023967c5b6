// Package service implements the attendance engine: QR issuance, the scan
// state machine, allowance payroll, the daily summary and history reads.
// It depends on storage only through the interfaces in store.go.
package service

import "errors"

var (
	// ErrUserNotFound is returned when a token names an unknown user.
	ErrUserNotFound = errors.New("user not found")
	// ErrAccountDisabled is returned when the scanned user is inactive.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAlreadyComplete is returned on a third scan of the same day.
	ErrAlreadyComplete = errors.New("attendance already complete for today")
	// ErrConstraintConflict is returned when concurrent scans for one user
	// keep colliding after every retry.
	ErrConstraintConflict = errors.New("concurrent scan conflict")
	// ErrInvalidRange is returned when a period starts after it ends.
	ErrInvalidRange = errors.New("start must not be after end")
)
