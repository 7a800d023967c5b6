package model

import "time"

// Attendance statuses recorded at check-in.
const (
	StatusOnTime = "ON_TIME"
	StatusLate   = "LATE"
)

// Attendance is one user's presence for exactly one site-local day
// (`attendances`).  AttendanceDate is the UTC midnight of that calendar
// date.  The pair (UserID, AttendanceDate) is unique.
//
// Fields:
//
//	CheckInAt  – nil until the first scan of the day.
//	CheckOutAt – nil until the second scan, or closed at end of day when the
//	             user never checked out.
//	Status     – ON_TIME or LATE; empty until checked in.
type Attendance struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	AttendanceDate time.Time  `json:"attendance_date"`
	CheckInAt      *time.Time `json:"check_in_at"`
	CheckOutAt     *time.Time `json:"check_out_at"`
	Status         string     `json:"status,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	// Allowance is populated by readers that join meal_allowances.
	Allowance *MealAllowance `json:"meal_allowance,omitempty"`
}

// CheckedIn reports whether the record has a check-in time.
func (a *Attendance) CheckedIn() bool { return a.CheckInAt != nil }

// Complete reports whether both scans of the day happened.
func (a *Attendance) Complete() bool { return a.CheckInAt != nil && a.CheckOutAt != nil }
