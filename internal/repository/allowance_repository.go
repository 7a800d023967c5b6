package repository

import (
	"context"
	"database/sql"
	"time"
)

// AllowanceRepo answers payroll questions over meal_allowances.  Rows are
// selected by their created_at, which is the check-in instant.
type AllowanceRepo struct {
	db *sql.DB
}

func NewAllowanceRepo(db *sql.DB) *AllowanceRepo { return &AllowanceRepo{db: db} }

// SummarizeUnpaid totals eligible, unpaid allowances created in
// [start, end].
func (r *AllowanceRepo) SummarizeUnpaid(ctx context.Context, start, end time.Time) (total, count int64, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM meal_allowances
		 WHERE is_eligible = ? AND is_paid = ? AND created_at >= ? AND created_at <= ?`,
		true, false, start.UTC(), end.UTC()).Scan(&total, &count)
	return total, count, err
}

// MarkPaid flags eligible, unpaid allowances created in [start, end] as
// paid at paidAt.  A non-empty userID restricts the update to that user's
// records.  It returns the number of rows changed; zero is not an error.
func (r *AllowanceRepo) MarkPaid(ctx context.Context, start, end time.Time, userID string, paidAt time.Time) (int64, error) {
	q := `UPDATE meal_allowances SET is_paid = ?, paid_at = ?, updated_at = ?
	      WHERE is_eligible = ? AND is_paid = ? AND created_at >= ? AND created_at <= ?`
	args := []any{true, paidAt.UTC(), paidAt.UTC(), true, false, start.UTC(), end.UTC()}
	if userID != "" {
		q += ` AND attendance_id IN (SELECT id FROM attendances WHERE user_id = ?)`
		args = append(args, userID)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
