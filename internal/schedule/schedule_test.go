package schedule

import (
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		s       Schedule
		wantErr bool
	}{
		{"valid time schedule", Schedule{Type: TypeTime, IntervalMinutes: 30}, false},
		{"minimum interval", Schedule{Type: TypeTime, IntervalMinutes: 5}, false},
		{"below interval floor", Schedule{Type: TypeTime, IntervalMinutes: 4}, true},
		{"zero interval", Schedule{Type: TypeTime}, true},
		{"valid trigger schedule", Schedule{Type: TypeTrigger, TriggerID: "t1"}, false},
		{"trigger without id", Schedule{Type: TypeTrigger}, true},
		{"unknown type", Schedule{Type: "cron"}, true},
		{"empty type", Schedule{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDue(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	s := Schedule{Type: TypeTime, IntervalMinutes: 30}

	t.Run("31 minutes ago is due", func(t *testing.T) {
		if !s.Due(now.Add(-31*time.Minute), now) {
			t.Error("expected due")
		}
	})

	t.Run("10 minutes ago is not due", func(t *testing.T) {
		if s.Due(now.Add(-10*time.Minute), now) {
			t.Error("expected not due")
		}
	})

	t.Run("exactly at interval is due", func(t *testing.T) {
		if !s.Due(now.Add(-30*time.Minute), now) {
			t.Error("expected due at exact interval")
		}
	})

	t.Run("never rotated is always due", func(t *testing.T) {
		if !s.Due(time.Time{}, now) {
			t.Error("expected zero lastRotated to be due")
		}
	})

	t.Run("trigger schedules are never due here", func(t *testing.T) {
		trig := Schedule{Type: TypeTrigger, TriggerID: "t1"}
		if trig.Due(time.Time{}, now) {
			t.Error("trigger schedule must be resolved by the engine, not Due")
		}
	})
}
