package service

import (
	"time"

	"github.com/iliyamo/presensi-qr/internal/model"
	"github.com/iliyamo/presensi-qr/internal/sitetime"
)

// DefaultAllowanceAmount is paid for an eligible check-in, in whole
// currency units.
const DefaultAllowanceAmount int64 = 35000

// Clock is a site-local hour and minute.
type Clock struct {
	Hour   int
	Minute int
}

// Policy holds the check-in cutoffs.  Both cutoffs are inclusive: a
// check-in at exactly the cutoff instant is on time or eligible.
type Policy struct {
	Zone            sitetime.Zone
	OnTime          Clock
	Allowance       Clock
	AllowanceAmount int64
}

// DefaultPolicy is on time until 08:00 and eligible until 08:01.
func DefaultPolicy(zone sitetime.Zone) Policy {
	return Policy{
		Zone:            zone,
		OnTime:          Clock{Hour: 8, Minute: 0},
		Allowance:       Clock{Hour: 8, Minute: 1},
		AllowanceAmount: DefaultAllowanceAmount,
	}
}

// Decision is the outcome of evaluating a check-in instant.
type Decision struct {
	Status   string
	Eligible bool
	Amount   int64
}

// Evaluate classifies a check-in at now.
func (p Policy) Evaluate(now time.Time) Decision {
	d := Decision{Status: model.StatusLate}
	if !now.After(p.Zone.CutoffAt(now, p.OnTime.Hour, p.OnTime.Minute)) {
		d.Status = model.StatusOnTime
	}
	if !now.After(p.Zone.CutoffAt(now, p.Allowance.Hour, p.Allowance.Minute)) {
		d.Eligible = true
		d.Amount = p.AllowanceAmount
	}
	return d
}
