package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/presensi-qr/internal/model"
)

// AttendanceRepo provides access to the attendances table and the meal
// allowance written alongside a check-in.  All instants are stored in UTC;
// attendance_date holds the UTC midnight of the site-local date.
type AttendanceRepo struct {
	db *sql.DB
}

// NewAttendanceRepo returns a new AttendanceRepo bound to the given database.
func NewAttendanceRepo(db *sql.DB) *AttendanceRepo { return &AttendanceRepo{db: db} }

const attendanceColumns = "a.id, a.user_id, a.attendance_date, a.check_in_at, a.check_out_at, a.status, a.created_at, a.updated_at"

const allowanceJoinColumns = "m.id, m.is_eligible, m.amount, m.is_paid, m.paid_at, m.created_at, m.updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttendance(rs rowScanner, extra ...any) (model.Attendance, error) {
	var (
		a        model.Attendance
		checkIn  sql.NullTime
		checkOut sql.NullTime
		status   sql.NullString
	)
	dest := append([]any{&a.ID, &a.UserID, &a.AttendanceDate, &checkIn, &checkOut, &status, &a.CreatedAt, &a.UpdatedAt}, extra...)
	if err := rs.Scan(dest...); err != nil {
		return model.Attendance{}, err
	}
	a.AttendanceDate = a.AttendanceDate.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	a.CheckInAt = nullTimePtr(checkIn)
	a.CheckOutAt = nullTimePtr(checkOut)
	a.Status = status.String
	return a, nil
}

// joinedAllowance holds the nullable columns of a LEFT JOIN on
// meal_allowances.
type joinedAllowance struct {
	id        sql.NullString
	eligible  sql.NullBool
	amount    sql.NullInt64
	paid      sql.NullBool
	paidAt    sql.NullTime
	createdAt sql.NullTime
	updatedAt sql.NullTime
}

func (j *joinedAllowance) dest() []any {
	return []any{&j.id, &j.eligible, &j.amount, &j.paid, &j.paidAt, &j.createdAt, &j.updatedAt}
}

func (j *joinedAllowance) attach(a *model.Attendance) {
	if !j.id.Valid {
		return
	}
	a.Allowance = &model.MealAllowance{
		ID:           j.id.String,
		AttendanceID: a.ID,
		IsEligible:   j.eligible.Bool,
		Amount:       j.amount.Int64,
		IsPaid:       j.paid.Bool,
		PaidAt:       nullTimePtr(j.paidAt),
		CreatedAt:    j.createdAt.Time.UTC(),
		UpdatedAt:    j.updatedAt.Time.UTC(),
	}
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// WithinTx runs fn inside one database transaction.  The transaction is
// committed when fn returns nil and rolled back otherwise.  Unique key
// violations and deadlocks, whether raised by a statement or by the
// commit, are reported as ErrConflict.
func (r *AttendanceRepo) WithinTx(ctx context.Context, fn func(*AttendanceTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&AttendanceTx{repo: r, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	committed = true
	return nil
}

// AttendanceTx binds the repository's Tx methods to one open transaction.
type AttendanceTx struct {
	repo *AttendanceRepo
	tx   *sql.Tx
}

func (t *AttendanceTx) OpenBefore(ctx context.Context, userID string, day time.Time) ([]model.Attendance, error) {
	return t.repo.OpenBeforeTx(ctx, t.tx, userID, day)
}

func (t *AttendanceTx) FindByUserDay(ctx context.Context, userID string, day time.Time) (model.Attendance, error) {
	return t.repo.FindByUserDayTx(ctx, t.tx, userID, day)
}

func (t *AttendanceTx) Create(ctx context.Context, a *model.Attendance) error {
	return t.repo.CreateTx(ctx, t.tx, a)
}

func (t *AttendanceTx) SetCheckIn(ctx context.Context, id string, at time.Time, status string, now time.Time) error {
	return t.repo.SetCheckInTx(ctx, t.tx, id, at, status, now)
}

func (t *AttendanceTx) SetCheckOut(ctx context.Context, id string, at, now time.Time) error {
	return t.repo.SetCheckOutTx(ctx, t.tx, id, at, now)
}

func (t *AttendanceTx) UpsertAllowance(ctx context.Context, m *model.MealAllowance) error {
	return t.repo.UpsertAllowanceTx(ctx, t.tx, m)
}

// OpenBeforeTx lists the user's records dated strictly before day that were
// never checked out.
func (r *AttendanceRepo) OpenBeforeTx(ctx context.Context, tx *sql.Tx, userID string, day time.Time) ([]model.Attendance, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+attendanceColumns+` FROM attendances a
		 WHERE a.user_id = ? AND a.attendance_date < ? AND a.check_out_at IS NULL
		 ORDER BY a.attendance_date`,
		userID, day.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Attendance
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// FindByUserDayTx returns the user's record for day or ErrNotFound.
func (r *AttendanceRepo) FindByUserDayTx(ctx context.Context, tx *sql.Tx, userID string, day time.Time) (model.Attendance, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+attendanceColumns+` FROM attendances a WHERE a.user_id = ? AND a.attendance_date = ? LIMIT 1`,
		userID, day.UTC())
	a, err := scanAttendance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Attendance{}, ErrNotFound
	}
	return a, err
}

// CreateTx inserts a new record.  ID is generated when empty.  A second
// record for the same user and day yields ErrConflict.
func (r *AttendanceRepo) CreateTx(ctx context.Context, tx *sql.Tx, a *model.Attendance) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	var status any
	if a.Status != "" {
		status = a.Status
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO attendances (id, user_id, attendance_date, check_in_at, check_out_at, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.AttendanceDate.UTC(), utcPtr(a.CheckInAt), utcPtr(a.CheckOutAt), status,
		a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	return classify(err)
}

// SetCheckInTx stamps the check-in of a record that has none yet.  If a
// concurrent transaction got there first, ErrConflict is returned.
func (r *AttendanceRepo) SetCheckInTx(ctx context.Context, tx *sql.Tx, id string, at time.Time, status string, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE attendances SET check_in_at = ?, status = ?, updated_at = ? WHERE id = ? AND check_in_at IS NULL`,
		at.UTC(), status, now.UTC(), id)
	return expectOneRow(res, err)
}

// SetCheckOutTx stamps the check-out of a record that has none yet.  If a
// concurrent transaction got there first, ErrConflict is returned.
func (r *AttendanceRepo) SetCheckOutTx(ctx context.Context, tx *sql.Tx, id string, at, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE attendances SET check_out_at = ?, updated_at = ? WHERE id = ? AND check_out_at IS NULL`,
		at.UTC(), now.UTC(), id)
	return expectOneRow(res, err)
}

func expectOneRow(res sql.Result, err error) error {
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrConflict
	}
	return nil
}

// UpsertAllowanceTx writes the allowance for m.AttendanceID.  A new row is
// inserted unpaid.  An existing unpaid row gets the new eligibility and
// amount.  An existing paid row is left as it is and m is overwritten with
// the stored state.
func (r *AttendanceRepo) UpsertAllowanceTx(ctx context.Context, tx *sql.Tx, m *model.MealAllowance) error {
	var (
		cur    model.MealAllowance
		paidAt sql.NullTime
	)
	err := tx.QueryRowContext(ctx,
		`SELECT id, attendance_id, is_eligible, amount, is_paid, paid_at, created_at, updated_at
		 FROM meal_allowances WHERE attendance_id = ? LIMIT 1`, m.AttendanceID).
		Scan(&cur.ID, &cur.AttendanceID, &cur.IsEligible, &cur.Amount, &cur.IsPaid, &paidAt, &cur.CreatedAt, &cur.UpdatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.IsPaid = false
		m.PaidAt = nil
		_, err = tx.ExecContext(ctx,
			`INSERT INTO meal_allowances (id, attendance_id, is_eligible, amount, is_paid, paid_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, NULL, ?, ?)`,
			m.ID, m.AttendanceID, m.IsEligible, m.Amount, false, m.CreatedAt.UTC(), m.UpdatedAt.UTC())
		return classify(err)
	case err != nil:
		return err
	}

	cur.PaidAt = nullTimePtr(paidAt)
	cur.CreatedAt = cur.CreatedAt.UTC()
	cur.UpdatedAt = cur.UpdatedAt.UTC()
	if cur.IsPaid {
		*m = cur
		return nil
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE meal_allowances SET is_eligible = ?, amount = ?, is_paid = ?, paid_at = NULL, updated_at = ?
		 WHERE id = ? AND is_paid = ?`,
		m.IsEligible, m.Amount, false, m.UpdatedAt.UTC(), cur.ID, false)
	if err != nil {
		return classify(err)
	}
	m.ID = cur.ID
	m.CreatedAt = cur.CreatedAt
	m.IsPaid = false
	m.PaidAt = nil
	return nil
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// ListByUser returns a page of the user's records, newest day first, with
// their allowances.
func (r *AttendanceRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.Attendance, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+attendanceColumns+`, `+allowanceJoinColumns+`
		 FROM attendances a LEFT JOIN meal_allowances m ON m.attendance_id = a.id
		 WHERE a.user_id = ?
		 ORDER BY a.attendance_date DESC, a.created_at DESC
		 LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Attendance{}
	for rows.Next() {
		var j joinedAllowance
		a, err := scanAttendance(rows, j.dest()...)
		if err != nil {
			return nil, err
		}
		j.attach(&a)
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountByUser counts the user's records.
func (r *AttendanceRepo) CountByUser(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendances WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

// LatestCreatedBetween returns the user's most recently created record with
// created_at in [start, end], or ErrNotFound.
func (r *AttendanceRepo) LatestCreatedBetween(ctx context.Context, userID string, start, end time.Time) (model.Attendance, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+attendanceColumns+`, `+allowanceJoinColumns+`
		 FROM attendances a LEFT JOIN meal_allowances m ON m.attendance_id = a.id
		 WHERE a.user_id = ? AND a.created_at >= ? AND a.created_at <= ?
		 ORDER BY a.created_at DESC LIMIT 1`,
		userID, start.UTC(), end.UTC())
	var j joinedAllowance
	a, err := scanAttendance(row, j.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Attendance{}, ErrNotFound
	}
	if err != nil {
		return model.Attendance{}, err
	}
	j.attach(&a)
	return a, nil
}

// ListCreatedBetween returns every record with created_at in [start, end].
func (r *AttendanceRepo) ListCreatedBetween(ctx context.Context, start, end time.Time) ([]model.Attendance, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+attendanceColumns+` FROM attendances a
		 WHERE a.created_at >= ? AND a.created_at <= ?
		 ORDER BY a.created_at`,
		start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Attendance
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListOpenBefore lists records of any user dated before day that were
// never checked out.
func (r *AttendanceRepo) ListOpenBefore(ctx context.Context, day time.Time) ([]model.Attendance, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+attendanceColumns+` FROM attendances a
		 WHERE a.attendance_date < ? AND a.check_out_at IS NULL
		 ORDER BY a.attendance_date, a.user_id`,
		day.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Attendance
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CloseOpen sets check_out_at on a record that is still open.  It reports
// false when the record was already closed by someone else.
func (r *AttendanceRepo) CloseOpen(ctx context.Context, id string, at, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE attendances SET check_out_at = ?, updated_at = ? WHERE id = ? AND check_out_at IS NULL`,
		at.UTC(), now.UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
