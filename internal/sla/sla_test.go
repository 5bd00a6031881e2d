package sla

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// =============================================================================
// SLA Calculator Test Suite
// =============================================================================
// The deadline calculator is pure and feeds both the health projection and the
// pipeline's audit details, so every rule is pinned down here: business-day
// arithmetic, boundary-inclusive escalation, and input validation.

type SLASuite struct {
	suite.Suite
	cfg Config
}

func TestSLASuite(t *testing.T) {
	suite.Run(t, new(SLASuite))
}

func (s *SLASuite) SetupTest() {
	s.cfg = DefaultConfig()
}

// date builds a UTC timestamp at 09:00 so time-of-day preservation is visible.
func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 9, 0, 0, 0, time.UTC)
}

// =============================================================================
// Business Day Arithmetic
// =============================================================================

func (s *SLASuite) TestDeadlineSkipsWeekends() {
	s.Run("friday plus one business day lands on monday", func() {
		friday := date(2026, time.March, 6)
		status, err := s.cfg.ComputeStatus(friday, 1, friday)
		s.Require().NoError(err)
		s.Equal(date(2026, time.March, 9), status.Deadline)
	})

	s.Run("friday plus five business days lands on next friday", func() {
		friday := date(2026, time.March, 6)
		status, err := s.cfg.ComputeStatus(friday, 5, friday)
		s.Require().NoError(err)
		s.Equal(date(2026, time.March, 13), status.Deadline)
	})

	s.Run("saturday intake starts counting from monday", func() {
		saturday := date(2026, time.March, 7)
		status, err := s.cfg.ComputeStatus(saturday, 1, saturday)
		s.Require().NoError(err)
		s.Equal(date(2026, time.March, 9), status.Deadline)
	})

	s.Run("time of day is preserved", func() {
		intake := time.Date(2026, time.March, 2, 14, 30, 0, 0, time.UTC)
		status, err := s.cfg.ComputeStatus(intake, 2, intake)
		s.Require().NoError(err)
		s.Equal(time.Date(2026, time.March, 4, 14, 30, 0, 0, time.UTC), status.Deadline)
	})
}

func (s *SLASuite) TestCustomCalendar() {
	// Holiday calendar that also skips 2026-03-03 (a Tuesday).
	holiday := date(2026, time.March, 3)
	cal := calendarFunc(func(t time.Time) bool {
		if t.Year() == holiday.Year() && t.YearDay() == holiday.YearDay() {
			return false
		}
		return Weekends{}.IsBusinessDay(t)
	})
	cfg := s.cfg
	cfg.Calendar = cal

	monday := date(2026, time.March, 2)
	status, err := cfg.ComputeStatus(monday, 2, monday)
	s.Require().NoError(err)
	// Tuesday is a holiday, so two business days land on Thursday.
	s.Equal(date(2026, time.March, 5), status.Deadline)
}

type calendarFunc func(time.Time) bool

func (f calendarFunc) IsBusinessDay(t time.Time) bool { return f(t) }

// =============================================================================
// Escalation Levels
// =============================================================================

func (s *SLASuite) TestEscalation() {
	intake := date(2026, time.March, 2) // Monday
	deadline := date(2026, time.March, 9)

	s.Run("far from deadline is none", func() {
		status, err := s.cfg.ComputeStatus(intake, 5, intake)
		s.Require().NoError(err)
		s.Equal(EscalationNone, status.Escalation)
		s.False(status.Breached)
	})

	s.Run("exactly at warning threshold is warning", func() {
		now := deadline.Add(-s.cfg.WarningThreshold)
		status, err := s.cfg.ComputeStatus(intake, 5, now)
		s.Require().NoError(err)
		s.Equal(EscalationWarning, status.Escalation)
	})

	s.Run("exactly at critical threshold is critical", func() {
		now := deadline.Add(-s.cfg.CriticalThreshold)
		status, err := s.cfg.ComputeStatus(intake, 5, now)
		s.Require().NoError(err)
		s.Equal(EscalationCritical, status.Escalation)
	})

	s.Run("exactly at deadline is breached", func() {
		status, err := s.cfg.ComputeStatus(intake, 5, deadline)
		s.Require().NoError(err)
		s.Equal(EscalationBreached, status.Escalation)
		s.True(status.Breached)
		s.Equal(time.Duration(0), status.Remaining)
	})

	s.Run("past deadline stays breached", func() {
		status, err := s.cfg.ComputeStatus(intake, 5, deadline.Add(72*time.Hour))
		s.Require().NoError(err)
		s.Equal(EscalationBreached, status.Escalation)
		s.Negative(int64(status.Remaining))
	})
}

// =============================================================================
// Determinism and Validation
// =============================================================================

func (s *SLASuite) TestDeterminism() {
	intake := date(2026, time.March, 2)
	now := date(2026, time.March, 4)

	first, err := s.cfg.ComputeStatus(intake, 5, now)
	s.Require().NoError(err)
	for i := 0; i < 100; i++ {
		again, err := s.cfg.ComputeStatus(intake, 5, now)
		s.Require().NoError(err)
		s.Equal(first, again)
	}
}

func (s *SLASuite) TestValidation() {
	valid := date(2026, time.March, 2)

	s.Run("zero intake is rejected", func() {
		_, err := s.cfg.ComputeStatus(time.Time{}, 5, valid)
		s.Error(err)
	})

	s.Run("zero now is rejected", func() {
		_, err := s.cfg.ComputeStatus(valid, 5, time.Time{})
		s.Error(err)
	})

	s.Run("zero days allowed is rejected", func() {
		_, err := s.cfg.ComputeStatus(valid, 0, valid)
		s.Error(err)
	})

	s.Run("negative days allowed is rejected", func() {
		_, err := s.cfg.ComputeStatus(valid, -3, valid)
		s.Error(err)
	})
}
