// Package jobs holds the scheduled background work of the server.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/iliyamo/presensi-qr/internal/logger"
	"github.com/iliyamo/presensi-qr/internal/model"
	"github.com/iliyamo/presensi-qr/internal/sitetime"
)

// OpenRecords finds and closes records left without a check-out.
type OpenRecords interface {
	ListOpenBefore(ctx context.Context, day time.Time) ([]model.Attendance, error)
	CloseOpen(ctx context.Context, id string, at, now time.Time) (bool, error)
}

// Pruner drops limiter state that can no longer reject anything.
type Pruner interface {
	Prune(now time.Time) int
}

// Sweeper closes every record dated before today that was never checked
// out, stamping it with the last millisecond of its own site day.  A scan
// does the same for its own user, so the two never disagree on the value.
type Sweeper struct {
	store OpenRecords
	zone  sitetime.Zone
	log   logger.Logger
	now   func() time.Time
}

func NewSweeper(store OpenRecords, zone sitetime.Zone, log logger.Logger) *Sweeper {
	return &Sweeper{store: store, zone: zone, log: log, now: time.Now}
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run performs one sweep and returns how many records it closed.  Records
// closed concurrently by a scan are skipped.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	now := s.now().UTC().Truncate(time.Millisecond)
	open, err := s.store.ListOpenBefore(ctx, s.zone.Day(now))
	if err != nil {
		return 0, fmt.Errorf("list open records: %w", err)
	}
	closed := 0
	for _, rec := range open {
		ok, err := s.store.CloseOpen(ctx, rec.ID, s.zone.EndOfSiteDay(rec.AttendanceDate), now)
		if err != nil {
			return closed, fmt.Errorf("close record %s: %w", rec.ID, err)
		}
		if ok {
			closed++
		}
	}
	return closed, nil
}

// NewCron returns a scheduler whose specs are read in the site offset, so
// "5 0 * * *" fires five minutes after site midnight.
func NewCron(zone sitetime.Zone) *cron.Cron {
	loc := time.FixedZone("SITE", int(zone.Offset().Seconds()))
	return cron.New(cron.WithLocation(loc))
}

// Schedule lists the jobs to register.  Empty specs and nil targets are
// skipped.
type Schedule struct {
	SweepSpec string
	Sweeper   *Sweeper
	PruneSpec string
	Pruner    Pruner
	Timeout   time.Duration
}

// Register adds the configured jobs to c.  It does not start c.
func Register(c *cron.Cron, sch Schedule, log logger.Logger) error {
	timeout := sch.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	if sch.Sweeper != nil && sch.SweepSpec != "" {
		_, err := c.AddFunc(sch.SweepSpec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			n, err := sch.Sweeper.Run(ctx)
			if err != nil {
				log.Errorf("sweeper: %v (closed %d before failing)", err, n)
				return
			}
			log.Infof("sweeper: closed %d open record(s)", n)
		})
		if err != nil {
			return fmt.Errorf("sweep schedule %q: %w", sch.SweepSpec, err)
		}
	}
	if sch.Pruner != nil && sch.PruneSpec != "" {
		_, err := c.AddFunc(sch.PruneSpec, func() {
			if n := sch.Pruner.Prune(time.Now()); n > 0 {
				log.Debugf("limiter: pruned %d idle key(s)", n)
			}
		})
		if err != nil {
			return fmt.Errorf("prune schedule %q: %w", sch.PruneSpec, err)
		}
	}
	return nil
}
