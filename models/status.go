package models

import (
	"time"

	"billing-core/errs"
)

// Status is the invoice lifecycle state.
//
//	draft -> sent -> paid
//	         sent -> overdue -> paid
//	draft|sent|overdue -> cancelled
//
// paid and cancelled are terminal. overdue is derived from the clock, never
// requested by a command.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusPaid, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is legal from s.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

var legalTransitions = map[Status][]Status{
	StatusDraft:   {StatusSent, StatusCancelled},
	StatusSent:    {StatusPaid, StatusOverdue, StatusCancelled},
	StatusOverdue: {StatusPaid, StatusCancelled},
}

// ApplyTransition validates a requested status change and returns the status
// to persist. Pure function, no I/O. Requesting the current non-terminal
// status is a no-op; any request against a terminal status fails.
func ApplyTransition(current, requested Status, now time.Time) (Status, error) {
	if !requested.Valid() {
		return current, errs.Validationf("unknown status %q", requested)
	}
	if current.Terminal() {
		return current, errs.Transitionf("invoice is %s", current)
	}
	if requested == current {
		return current, nil
	}
	for _, next := range legalTransitions[current] {
		if next == requested {
			return requested, nil
		}
	}
	return current, errs.Transitionf("%s -> %s", current, requested)
}

// DeriveStatus computes the effective status at read time: a sent invoice
// past its due date reads as overdue. Idempotent; never touches terminal
// states.
func DeriveStatus(current Status, dueDate, now time.Time) Status {
	if current == StatusSent && dueDate.Before(now) {
		return StatusOverdue
	}
	return current
}

// Frequency is the recurring billing cadence.
type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyBiweekly  Frequency = "biweekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyAnnually  Frequency = "annually"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly, FrequencyQuarterly, FrequencyAnnually:
		return true
	}
	return false
}

// Next advances a date by one period. Month-based cadences use calendar
// arithmetic and clamp the day-of-month when the target month is shorter
// (Jan 31 + monthly = Feb 28/29).
func (f Frequency) Next(from time.Time) time.Time {
	switch f {
	case FrequencyWeekly:
		return from.AddDate(0, 0, 7)
	case FrequencyBiweekly:
		return from.AddDate(0, 0, 14)
	case FrequencyMonthly:
		return addMonthsClamped(from, 1)
	case FrequencyQuarterly:
		return addMonthsClamped(from, 3)
	case FrequencyAnnually:
		return addMonthsClamped(from, 12)
	}
	return from
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	// First of the target month, then clamp the day to its length.
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	h, min, sec := t.Clock()
	return time.Date(first.Year(), first.Month(), d, h, min, sec, t.Nanosecond(), t.Location())
}
