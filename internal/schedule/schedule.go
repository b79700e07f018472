// Package schedule defines when a rotation unit is due to rotate.
package schedule

import (
	"fmt"
	"time"
)

// Schedule types.
const (
	TypeTime    = "time"
	TypeTrigger = "trigger"
)

const (
	// MinIntervalMinutes is the engine-enforced floor for time schedules,
	// guarding against thrashing the provider API.
	MinIntervalMinutes = 5

	// DefaultIntervalMinutes applies to records configured without an
	// explicit schedule.
	DefaultIntervalMinutes = 30
)

// Schedule is a tagged union: either a fixed-interval time schedule or a
// trigger-based schedule referencing a usage trigger by ID.
type Schedule struct {
	Type            string `json:"type" yaml:"type"`
	IntervalMinutes int    `json:"interval_minutes,omitempty" yaml:"interval_minutes,omitempty"`
	TriggerID       string `json:"trigger_id,omitempty" yaml:"trigger_id,omitempty"`
}

// Default returns the schedule applied to records that do not declare one.
func Default() *Schedule {
	return &Schedule{Type: TypeTime, IntervalMinutes: DefaultIntervalMinutes}
}

// Validate checks the schedule's structural constraints.
func (s *Schedule) Validate() error {
	switch s.Type {
	case TypeTime:
		if s.IntervalMinutes < MinIntervalMinutes {
			return fmt.Errorf("interval_minutes %d below minimum of %d", s.IntervalMinutes, MinIntervalMinutes)
		}
	case TypeTrigger:
		if s.TriggerID == "" {
			return fmt.Errorf("trigger schedule requires trigger_id")
		}
	default:
		return fmt.Errorf("unknown schedule type %q", s.Type)
	}
	return nil
}

// Due reports whether a time schedule is due at now, given the unit's last
// rotation time. A zero lastRotated (never rotated) is always due.
// Trigger schedules are resolved by the engine against fired-trigger state,
// not here.
func (s *Schedule) Due(lastRotated, now time.Time) bool {
	if s.Type != TypeTime {
		return false
	}
	interval := time.Duration(s.IntervalMinutes) * time.Minute
	return now.Sub(lastRotated) >= interval
}
