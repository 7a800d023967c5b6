package service

import (
	"context"
	"time"

	"github.com/iliyamo/presensi-qr/internal/model"
	"github.com/iliyamo/presensi-qr/internal/queue"
	"github.com/iliyamo/presensi-qr/internal/repository"
)

// Lookups that find nothing return repository.ErrNotFound, and writes that
// lose a race return repository.ErrConflict, whatever the implementation.

// UserStore loads users by id.
type UserStore interface {
	GetByID(ctx context.Context, id string) (model.User, error)
}

// ActiveUserLister lists the ids of active users.
type ActiveUserLister interface {
	ListActiveIDs(ctx context.Context) ([]string, error)
}

// ScanTx is the set of writes the scan state machine performs inside one
// transaction.
type ScanTx interface {
	OpenBefore(ctx context.Context, userID string, day time.Time) ([]model.Attendance, error)
	FindByUserDay(ctx context.Context, userID string, day time.Time) (model.Attendance, error)
	Create(ctx context.Context, a *model.Attendance) error
	SetCheckIn(ctx context.Context, id string, at time.Time, status string, now time.Time) error
	SetCheckOut(ctx context.Context, id string, at, now time.Time) error
	UpsertAllowance(ctx context.Context, m *model.MealAllowance) error
}

// ScanStore runs fn atomically: every write fn made is committed when it
// returns nil and discarded otherwise.
type ScanStore interface {
	WithinTx(ctx context.Context, fn func(ScanTx) error) error
}

// SQLScanStore adapts the SQL attendance repository to ScanStore.
type SQLScanStore struct {
	Repo *repository.AttendanceRepo
}

func (s SQLScanStore) WithinTx(ctx context.Context, fn func(ScanTx) error) error {
	return s.Repo.WithinTx(ctx, func(tx *repository.AttendanceTx) error { return fn(tx) })
}

// AttendanceReader serves history, today and summary reads.
type AttendanceReader interface {
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.Attendance, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
	LatestCreatedBetween(ctx context.Context, userID string, start, end time.Time) (model.Attendance, error)
	ListCreatedBetween(ctx context.Context, start, end time.Time) ([]model.Attendance, error)
}

// AllowanceStore aggregates and settles meal allowances.
type AllowanceStore interface {
	SummarizeUnpaid(ctx context.Context, start, end time.Time) (total, count int64, err error)
	MarkPaid(ctx context.Context, start, end time.Time, userID string, paidAt time.Time) (int64, error)
}

// EventPublisher delivers scan events.  Delivery is best effort.
type EventPublisher interface {
	PublishScan(ctx context.Context, ev queue.ScanEvent) error
}
