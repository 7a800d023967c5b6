package model

import "time"

// MealAllowance is the same-day meal allowance attached to one attendance
// record (`meal_allowances`, unique attendance_id).  It is written at
// check-in and flipped to paid by an administrator.
type MealAllowance struct {
	ID           string     `json:"id"`
	AttendanceID string     `json:"attendance_id"`
	IsEligible   bool       `json:"is_eligible"`
	Amount       int64      `json:"amount"` // whole currency units
	IsPaid       bool       `json:"is_paid"`
	PaidAt       *time.Time `json:"paid_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// AllowanceSummary totals unpaid eligible allowances over a period.
type AllowanceSummary struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Total int64     `json:"total"`
	Count int64     `json:"count"`
}
