// Package sitetime converts absolute instants into the calendar days and
// cutoffs of the site.  The site runs on a fixed UTC offset with no daylight
// saving, so every conversion is plain instant arithmetic: shift by the
// offset, operate on the wall clock as if it were UTC, shift back.  No other
// package adds or subtracts the offset itself.
package sitetime

import (
	"fmt"
	"strings"
	"time"
)

// DefaultOffset is the site offset used when none is configured (UTC+8).
const DefaultOffset = 8 * time.Hour

// MaxOffset bounds the accepted offsets.  Negative offsets are rejected
// because a calendar day is stored as the UTC midnight of its date, which
// only re-normalizes to the same date when the offset is non-negative.
const MaxOffset = 14 * time.Hour

// Zone performs day and cutoff arithmetic for one fixed offset.
type Zone struct {
	offset time.Duration
}

// New returns a Zone for the given offset.
func New(offset time.Duration) (Zone, error) {
	if offset < 0 || offset > MaxOffset {
		return Zone{}, fmt.Errorf("sitetime: offset %s outside [0, %s]", offset, MaxOffset)
	}
	return Zone{offset: offset}, nil
}

// MustNew is like New but panics on an invalid offset.  Intended for tests
// and package-level defaults.
func MustNew(offset time.Duration) Zone {
	z, err := New(offset)
	if err != nil {
		panic(err)
	}
	return z
}

// Offset reports the configured offset.
func (z Zone) Offset() time.Duration { return z.offset }

// local returns t shifted into site wall-clock time, expressed in UTC.
func (z Zone) local(t time.Time) time.Time { return t.UTC().Add(z.offset) }

// Day returns the site-local calendar date of t as the UTC midnight of that
// date.  Day values are offset-free and compare and store uniformly.
func (z Zone) Day(t time.Time) time.Time {
	l := z.local(t)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, time.UTC)
}

// StartOfDay returns the instant at which the site-local day containing t
// begins (00:00:00.000 local).
func (z Zone) StartOfDay(t time.Time) time.Time {
	return z.Day(t).Add(-z.offset)
}

// EndOfDay returns the last millisecond of the site-local day containing t
// (23:59:59.999 local).
func (z Zone) EndOfDay(t time.Time) time.Time {
	return z.Day(t).Add(24*time.Hour - time.Millisecond - z.offset)
}

// EndOfSiteDay is EndOfDay for a value already produced by Day.  It reads
// day as a calendar date rather than an instant.
func (z Zone) EndOfSiteDay(day time.Time) time.Time {
	d := day.UTC()
	d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return d.Add(24*time.Hour - time.Millisecond - z.offset)
}

// StartOfSiteDay is StartOfDay for a value already produced by Day.
func (z Zone) StartOfSiteDay(day time.Time) time.Time {
	return z.EndOfSiteDay(day).Add(time.Millisecond - 24*time.Hour)
}

// CutoffAt returns the instant at hour:minute:00.000 site-local time on the
// site-local day containing t.
func (z Zone) CutoffAt(t time.Time, hour, minute int) time.Time {
	return z.Day(t).Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute - z.offset)
}

// ParseBound reads an RFC 3339 instant, or a YYYY-MM-DD site date taken as
// the first millisecond of that day (the last one when end is set).
func (z Zone) ParseBound(raw string, end bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want RFC 3339 or YYYY-MM-DD", raw)
	}
	if end {
		return z.EndOfSiteDay(d), nil
	}
	return z.StartOfSiteDay(d), nil
}
