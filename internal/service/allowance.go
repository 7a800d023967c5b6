package service

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/presensi-qr/internal/model"
)

// DefaultSummaryWindow is the period summarized when no bounds are given.
const DefaultSummaryWindow = 14 * 24 * time.Hour

// Selector picks allowances by creation instant, inclusive at both ends,
// optionally restricted to one user.
type Selector struct {
	Start  time.Time
	End    time.Time
	UserID string
}

// AllowanceService reports and settles unpaid meal allowances.
type AllowanceService struct {
	store AllowanceStore
	now   func() time.Time
}

func NewAllowanceService(store AllowanceStore) *AllowanceService {
	return &AllowanceService{store: store, now: time.Now}
}

// WithClock replaces the clock used for defaults and paid_at.
func (s *AllowanceService) WithClock(now func() time.Time) *AllowanceService {
	s.now = now
	return s
}

// DefaultRange returns the last DefaultSummaryWindow ending now.
func (s *AllowanceService) DefaultRange() (time.Time, time.Time) {
	end := s.now().UTC()
	return end.Add(-DefaultSummaryWindow), end
}

// SummarizeUnpaid totals eligible, unpaid allowances created in
// [start, end].
func (s *AllowanceService) SummarizeUnpaid(ctx context.Context, start, end time.Time) (model.AllowanceSummary, error) {
	if start.After(end) {
		return model.AllowanceSummary{}, ErrInvalidRange
	}
	total, count, err := s.store.SummarizeUnpaid(ctx, start, end)
	if err != nil {
		return model.AllowanceSummary{}, fmt.Errorf("summarize allowances: %w", err)
	}
	return model.AllowanceSummary{Start: start.UTC(), End: end.UTC(), Total: total, Count: count}, nil
}

// MarkPaid flags every eligible, unpaid allowance matched by sel as paid
// now and returns how many changed.  Zero matches is a normal result.
func (s *AllowanceService) MarkPaid(ctx context.Context, sel Selector) (int64, error) {
	if sel.Start.After(sel.End) {
		return 0, ErrInvalidRange
	}
	n, err := s.store.MarkPaid(ctx, sel.Start, sel.End, sel.UserID, s.now().UTC().Truncate(time.Millisecond))
	if err != nil {
		return 0, fmt.Errorf("mark allowances paid: %w", err)
	}
	return n, nil
}
