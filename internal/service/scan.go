package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/presensi-qr/internal/logger"
	"github.com/iliyamo/presensi-qr/internal/model"
	"github.com/iliyamo/presensi-qr/internal/qrtoken"
	"github.com/iliyamo/presensi-qr/internal/queue"
	"github.com/iliyamo/presensi-qr/internal/repository"
)

// DefaultMaxAttempts bounds how often a scan transaction is run when it
// keeps losing races to concurrent scans of the same user.
const DefaultMaxAttempts = 3

// DefaultPublishTimeout bounds how long a committed scan waits on its event.
const DefaultPublishTimeout = 2 * time.Second

// ScanMode tells which transition a scan performed.
type ScanMode string

const (
	ModeCheckIn  ScanMode = "CHECK_IN"
	ModeCheckOut ScanMode = "CHECK_OUT"
)

// ScanResult is the outcome of a successful scan.
type ScanResult struct {
	Mode       ScanMode             `json:"mode"`
	Attendance model.Attendance     `json:"attendance"`
	Allowance  *model.MealAllowance `json:"meal_allowance,omitempty"`
	// ClosedStale counts earlier open records closed by this scan.
	ClosedStale int `json:"closed_stale"`
}

// Scanner advances a user's daily attendance record from a QR token.
//
// Per user and day the record moves NONE -> CHECKED_IN -> CHECKED_OUT; a
// further scan fails with ErrAlreadyComplete.  Every scan first closes the
// user's records from earlier days that were never checked out, stamping
// them with the end of their own day.
type Scanner struct {
	codec       *qrtoken.Codec
	users       UserStore
	store       ScanStore
	policy      Policy
	events      EventPublisher
	log         logger.Logger
	now         func() time.Time
	maxAttempts int
	pubTimeout  time.Duration
}

// NewScanner wires a Scanner.  events may be nil to disable publishing.
func NewScanner(codec *qrtoken.Codec, users UserStore, store ScanStore, policy Policy, events EventPublisher, log logger.Logger) *Scanner {
	return &Scanner{
		codec:       codec,
		users:       users,
		store:       store,
		policy:      policy,
		events:      events,
		log:         log,
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
		pubTimeout:  DefaultPublishTimeout,
	}
}

// WithClock replaces the scan clock.
func (s *Scanner) WithClock(now func() time.Time) *Scanner {
	s.now = now
	return s
}

// WithMaxAttempts overrides DefaultMaxAttempts; values below 1 mean 1.
func (s *Scanner) WithMaxAttempts(n int) *Scanner {
	if n < 1 {
		n = 1
	}
	s.maxAttempts = n
	return s
}

// WithPublishTimeout overrides DefaultPublishTimeout; non-positive values
// are ignored.
func (s *Scanner) WithPublishTimeout(d time.Duration) *Scanner {
	if d > 0 {
		s.pubTimeout = d
	}
	return s
}

// Scan validates token and applies the next transition for its user.
// Token errors from qrtoken are returned unchanged.
func (s *Scanner) Scan(ctx context.Context, token string) (ScanResult, error) {
	userID, issuedAt, err := s.codec.Decode(token)
	if err != nil {
		return ScanResult{}, err
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	if err := s.codec.CheckFreshness(issuedAt, now); err != nil {
		return ScanResult{}, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return ScanResult{}, ErrUserNotFound
	}
	if err != nil {
		return ScanResult{}, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return ScanResult{}, ErrAccountDisabled
	}

	var res ScanResult
	for attempt := 1; ; attempt++ {
		res, err = s.scanOnce(ctx, userID, now)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrConflict) {
			return ScanResult{}, err
		}
		if attempt >= s.maxAttempts {
			s.log.Warnf("scan: user %s still conflicting after %d attempts: %v", userID, attempt, err)
			return ScanResult{}, ErrConstraintConflict
		}
		s.log.Debugf("scan: conflict for user %s on attempt %d, retrying", userID, attempt)
	}

	s.publish(ctx, res, now)
	return res, nil
}

func (s *Scanner) scanOnce(ctx context.Context, userID string, now time.Time) (ScanResult, error) {
	var res ScanResult
	zone := s.policy.Zone
	today := zone.Day(now)

	err := s.store.WithinTx(ctx, func(tx ScanTx) error {
		res = ScanResult{}

		open, err := tx.OpenBefore(ctx, userID, today)
		if err != nil {
			return fmt.Errorf("list open records: %w", err)
		}
		for _, rec := range open {
			if err := tx.SetCheckOut(ctx, rec.ID, zone.EndOfSiteDay(rec.AttendanceDate), now); err != nil {
				return fmt.Errorf("close record %s: %w", rec.ID, err)
			}
			res.ClosedStale++
		}

		decision := s.policy.Evaluate(now)

		rec, err := tx.FindByUserDay(ctx, userID, today)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			checkIn := now
			rec = model.Attendance{
				UserID:         userID,
				AttendanceDate: today,
				CheckInAt:      &checkIn,
				Status:         decision.Status,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := tx.Create(ctx, &rec); err != nil {
				return fmt.Errorf("create record: %w", err)
			}
		case err != nil:
			return fmt.Errorf("load today's record: %w", err)
		case rec.CheckInAt == nil:
			if err := tx.SetCheckIn(ctx, rec.ID, now, decision.Status, now); err != nil {
				return fmt.Errorf("check in: %w", err)
			}
			checkIn := now
			rec.CheckInAt = &checkIn
			rec.Status = decision.Status
			rec.UpdatedAt = now
		case rec.CheckOutAt == nil:
			if err := tx.SetCheckOut(ctx, rec.ID, now, now); err != nil {
				return fmt.Errorf("check out: %w", err)
			}
			checkOut := now
			rec.CheckOutAt = &checkOut
			rec.UpdatedAt = now
			res.Mode = ModeCheckOut
			res.Attendance = rec
			return nil
		default:
			return ErrAlreadyComplete
		}

		allowance := &model.MealAllowance{
			AttendanceID: rec.ID,
			IsEligible:   decision.Eligible,
			Amount:       decision.Amount,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.UpsertAllowance(ctx, allowance); err != nil {
			return fmt.Errorf("write allowance: %w", err)
		}
		rec.Allowance = allowance
		res.Mode = ModeCheckIn
		res.Attendance = rec
		res.Allowance = allowance
		return nil
	})
	return res, err
}

func (s *Scanner) publish(ctx context.Context, res ScanResult, now time.Time) {
	if s.events == nil {
		return
	}
	a := res.Attendance
	ev := queue.ScanEvent{
		AttendanceID:   a.ID,
		UserID:         a.UserID,
		Mode:           string(res.Mode),
		Status:         a.Status,
		AttendanceDate: a.AttendanceDate.Format("2006-01-02"),
		ClosedStale:    res.ClosedStale,
		ScannedAt:      now.Format(time.RFC3339Nano),
	}
	if a.CheckInAt != nil {
		ev.CheckInAt = a.CheckInAt.Format(time.RFC3339Nano)
	}
	if a.CheckOutAt != nil {
		ev.CheckOutAt = a.CheckOutAt.Format(time.RFC3339Nano)
	}
	if res.Allowance != nil {
		ev.AllowanceEligible = res.Allowance.IsEligible
		ev.AllowanceAmount = res.Allowance.Amount
	}
	// The record is committed, so a cancelled request must not drop the event.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.pubTimeout)
	defer cancel()
	if err := s.events.PublishScan(ctx, ev); err != nil {
		s.log.Warnf("scan: publish event for attendance %s failed: %v", a.ID, err)
	}
}
