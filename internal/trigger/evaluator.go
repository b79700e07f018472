// Package trigger evaluates usage triggers: it compares agent-reported
// traffic volume against thresholds and records firings at most once per
// period instance.
package trigger

import (
	"context"
	"log/slog"
	"time"

	"github.com/rotodns/rotodns/internal/config"
	"github.com/rotodns/rotodns/internal/usage"
)

const bytesPerGB = 1 << 30

// Evaluator checks triggers against usage sources and maintains the
// fired-triggers state map (trigger ID -> RFC3339 timestamp).
type Evaluator struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewEvaluator creates an evaluator.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger, now: time.Now}
}

// Evaluate checks one trigger and records a firing in fired if its
// threshold is exceeded and it has not already fired within the current
// period instance. Returns whether this evaluation fired the trigger and
// the measured usage in bytes.
//
// A usage fetch failure skips the trigger for this pass without touching
// state.
func (e *Evaluator) Evaluate(ctx context.Context, trig *config.Trigger, source usage.Source, fired map[string]string) (bool, int64) {
	sample, err := source.FetchUsage(ctx, trig.Period)
	if err != nil {
		e.logger.Warn("usage fetch failed, skipping trigger",
			"trigger", trig.ID, "agent", source.Name(), "error", err)
		return false, 0
	}

	actual := sample.Dimension(trig.VolumeType)
	threshold := int64(trig.VolumeGB * bytesPerGB)

	if actual <= threshold {
		return false, actual
	}

	now := e.now()
	if e.firedThisPeriod(trig, fired, now) {
		return false, actual
	}

	fired[trig.ID] = now.UTC().Format(time.RFC3339)
	if trig.Alert {
		e.logger.Warn("trigger fired",
			"alert", true,
			"trigger", trig.ID,
			"name", trig.Name,
			"usage_bytes", actual,
			"threshold_bytes", threshold,
			"period", trig.Period,
		)
	} else {
		e.logger.Info("trigger fired",
			"trigger", trig.ID,
			"usage_bytes", actual,
			"threshold_bytes", threshold,
			"period", trig.Period,
		)
	}
	return true, actual
}

// firedThisPeriod reports whether the trigger's recorded firing falls in
// the same period instance as now.
func (e *Evaluator) firedThisPeriod(trig *config.Trigger, fired map[string]string, now time.Time) bool {
	stored, ok := fired[trig.ID]
	if !ok {
		return false
	}

	firedAt, err := time.Parse(time.RFC3339, stored)
	if err != nil {
		// Unparseable state must not permanently block a trigger.
		e.logger.Error("unparseable fired-trigger timestamp, treating as not fired",
			"trigger", trig.ID, "value", stored, "error", err)
		return false
	}

	same, known := SamePeriod(trig.Period, firedAt, now)
	if !known {
		e.logger.Warn("unknown trigger period, treating as not previously fired",
			"trigger", trig.ID, "period", trig.Period)
		return false
	}
	return same
}

// SamePeriod reports whether a and b fall within the same instance of the
// period: the same calendar date for daily, the same ISO (year, week) for
// weekly, the same (year, month) for monthly. The second return value is
// false for unsupported period strings.
func SamePeriod(period string, a, b time.Time) (same, known bool) {
	a, b = a.UTC(), b.UTC()
	switch period {
	case config.PeriodDaily:
		ay, am, ad := a.Date()
		by, bm, bd := b.Date()
		return ay == by && am == bm && ad == bd, true
	case config.PeriodWeekly:
		ay, aw := a.ISOWeek()
		by, bw := b.ISOWeek()
		return ay == by && aw == bw, true
	case config.PeriodMonthly:
		return a.Year() == b.Year() && a.Month() == b.Month(), true
	default:
		return false, false
	}
}

// FiredWithinPeriod reports whether a stored fired-trigger timestamp is
// still fresh: it parses and falls within the current instance of the
// trigger's period. The engine uses this to resolve trigger-based
// schedules.
func FiredWithinPeriod(period, stored string, now time.Time) bool {
	firedAt, err := time.Parse(time.RFC3339, stored)
	if err != nil {
		return false
	}
	same, known := SamePeriod(period, firedAt, now)
	return known && same
}
