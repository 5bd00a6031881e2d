// Package sla computes legally meaningful business-day deadlines and
// escalation levels. Everything here is pure: no I/O, no hidden clock, safe
// for concurrent and repeated calls.
package sla

import (
	"time"

	dErrors "veriqan/pkg/domainerrors"
)

// EscalationLevel is the derived urgency classification for a case.
type EscalationLevel string

const (
	EscalationNone     EscalationLevel = "none"
	EscalationWarning  EscalationLevel = "warning"
	EscalationCritical EscalationLevel = "critical"
	EscalationBreached EscalationLevel = "breached"
)

// Status is recomputed on demand and never stored as authoritative.
type Status struct {
	Deadline   time.Time
	Remaining  time.Duration
	Escalation EscalationLevel
	Breached   bool
}

// Calendar decides which days count toward a deadline. Holiday calendars
// plug in here; they are configuration, not a hard-coded list.
type Calendar interface {
	IsBusinessDay(t time.Time) bool
}

// Weekends is the default calendar: Monday through Friday are business days.
type Weekends struct{}

func (Weekends) IsBusinessDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// Config carries the escalation thresholds and the calendar. Thresholds are
// configuration so escalation stays deterministic and testable for any pair.
type Config struct {
	WarningThreshold  time.Duration
	CriticalThreshold time.Duration
	Calendar          Calendar
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		WarningThreshold:  48 * time.Hour,
		CriticalThreshold: 8 * time.Hour,
		Calendar:          Weekends{},
	}
}

// ComputeStatus derives the deadline and escalation level for a case.
// Deterministic: identical inputs always yield an identical Status.
// Invalid inputs are rejected as a distinct validation error, never a
// miscalculated deadline.
func (c Config) ComputeStatus(intake time.Time, daysAllowed int, now time.Time) (Status, error) {
	if intake.IsZero() {
		return Status{}, dErrors.New(dErrors.CodeValidation, "intake timestamp must be set")
	}
	if now.IsZero() {
		return Status{}, dErrors.New(dErrors.CodeValidation, "now timestamp must be set")
	}
	if daysAllowed <= 0 {
		return Status{}, dErrors.New(dErrors.CodeValidation, "days allowed must be positive")
	}

	cal := c.Calendar
	if cal == nil {
		cal = Weekends{}
	}

	deadline := advanceBusinessDays(intake, daysAllowed, cal)
	remaining := deadline.Sub(now)
	breached := remaining <= 0

	return Status{
		Deadline:   deadline,
		Remaining:  remaining,
		Breached:   breached,
		Escalation: c.escalation(remaining, breached),
	}, nil
}

// escalation applies the ordered rule set; first match wins. Thresholds are
// boundary inclusive: remaining exactly at the warning threshold is Warning.
func (c Config) escalation(remaining time.Duration, breached bool) EscalationLevel {
	switch {
	case breached:
		return EscalationBreached
	case remaining <= c.CriticalThreshold:
		return EscalationCritical
	case remaining <= c.WarningThreshold:
		return EscalationWarning
	default:
		return EscalationNone
	}
}

// advanceBusinessDays moves t forward by n business days, skipping any day
// the calendar rejects. The time of day is preserved.
func advanceBusinessDays(t time.Time, n int, cal Calendar) time.Time {
	d := t
	for remaining := n; remaining > 0; {
		d = d.AddDate(0, 0, 1)
		if cal.IsBusinessDay(d) {
			remaining--
		}
	}
	return d
}
