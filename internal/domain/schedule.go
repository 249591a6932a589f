package domain

import (
	"fmt"
	"time"
)

const (
	defaultRunsPerDay  = 4
	defaultCutoffHours = 24
	hoursPerDay        = 24
)

// Schedule is the per-credential acquisition configuration. NextRunAt is
// always recomputed after a run, never left stale.
type Schedule struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	CredentialID string `gorm:"type:uuid;not null"`
	RunsPerDay   int    `gorm:"not null;default:4"`
	HourInterval int    `gorm:"not null;default:0"`
	CutoffHours  int    `gorm:"not null;default:24"`
	Active       bool   `gorm:"not null;default:true"`
	LastRunAt    *time.Time
	NextRunAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s *Schedule) Validate() error {
	if s.CredentialID == "" {
		return fmt.Errorf("%w: credential id is required", ErrValidation)
	}
	if s.RunsPerDay < 0 || s.RunsPerDay > hoursPerDay {
		return fmt.Errorf("%w: runs per day must be within [0, %d]", ErrValidation, hoursPerDay)
	}
	if s.HourInterval < 0 {
		return fmt.Errorf("%w: hour interval must not be negative", ErrValidation)
	}
	return nil
}

// Due reports whether the schedule should run at the given instant.
func (s *Schedule) Due(now time.Time) bool {
	if !s.Active {
		return false
	}
	return s.NextRunAt == nil || !s.NextRunAt.After(now)
}

// EffectiveInterval resolves runs-per-day and hour-interval into the gap
// between runs. The wider of the two wins so an explicit hour interval can
// slow a schedule down but never speed it past its daily budget.
func (s *Schedule) EffectiveInterval() time.Duration {
	runs := s.RunsPerDay
	if runs <= 0 {
		runs = defaultRunsPerDay
	}
	fromRuns := time.Duration(hoursPerDay/runs) * time.Hour
	if fromRuns < time.Hour {
		fromRuns = time.Hour
	}
	fromHours := time.Duration(s.HourInterval) * time.Hour
	if fromHours > fromRuns {
		return fromHours
	}
	return fromRuns
}

// EffectiveCutoff resolves the lookback window for notifications.
func (s *Schedule) EffectiveCutoff() time.Duration {
	hours := s.CutoffHours
	if hours <= 0 {
		hours = defaultCutoffHours
	}
	return time.Duration(hours) * time.Hour
}

// ComputeNextRun returns the first grid point strictly after now. The grid
// is anchored at the later of LastRunAt and the start of now's day, stepping
// by the effective interval. Calling it twice with the same inputs and no
// intervening run yields the same timestamp.
func (s *Schedule) ComputeNextRun(now time.Time) time.Time {
	interval := s.EffectiveInterval()

	anchor := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if s.LastRunAt != nil && s.LastRunAt.After(anchor) {
		anchor = *s.LastRunAt
	}

	next := anchor.Add(interval)
	for !next.After(now) {
		next = next.Add(interval)
	}
	return next
}
