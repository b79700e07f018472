package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultProcNetDev is the kernel's cumulative interface counters file.
const DefaultProcNetDev = "/proc/net/dev"

// LocalAgent self-monitors traffic by sampling an interface's cumulative
// rx/tx byte counters and subtracting a baseline captured at the start of
// each period instance. The baseline is persisted so restarts within a
// period don't reset usage to zero.
type LocalAgent struct {
	iface        string
	procNetDev   string
	baselinePath string
	now          func() time.Time
}

// NewLocalAgent creates the self-monitoring usage source. baselinePath is
// where period baselines are persisted (typically inside the state dir).
// procNetDev may be empty to use the system default.
func NewLocalAgent(iface, procNetDev, baselinePath string) *LocalAgent {
	if procNetDev == "" {
		procNetDev = DefaultProcNetDev
	}
	return &LocalAgent{
		iface:        iface,
		procNetDev:   procNetDev,
		baselinePath: baselinePath,
		now:          time.Now,
	}
}

// Name implements Source.
func (a *LocalAgent) Name() string {
	return "self"
}

// baseline is the persisted counter snapshot for one period type.
type baseline struct {
	PeriodKey string `json:"period_key"`
	RX        int64  `json:"rx"`
	TX        int64  `json:"tx"`
}

// FetchUsage implements Source. Usage for the current period instance is
// the counter delta since the period's baseline. A new period instance, a
// missing baseline, or a counter reset (reboot) re-anchors the baseline at
// the current counters.
func (a *LocalAgent) FetchUsage(_ context.Context, period string) (Sample, error) {
	current, err := a.readCounters()
	if err != nil {
		return Sample{}, err
	}

	key := periodKey(period, a.now())

	baselines := a.loadBaselines()
	b, ok := baselines[period]
	if !ok || b.PeriodKey != key || current.RX < b.RX || current.TX < b.TX {
		baselines[period] = baseline{PeriodKey: key, RX: current.RX, TX: current.TX}
		if err := a.saveBaselines(baselines); err != nil {
			return Sample{}, err
		}
		return Sample{}, nil
	}

	return Sample{RX: current.RX - b.RX, TX: current.TX - b.TX}, nil
}

// readCounters parses the interface's cumulative byte counters.
func (a *LocalAgent) readCounters() (Sample, error) {
	data, err := os.ReadFile(a.procNetDev)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to read %s: %w", a.procNetDev, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		name, rest, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		if strings.TrimSpace(name) != a.iface {
			continue
		}

		fields := strings.Fields(rest)
		// Receive bytes is field 0, transmit bytes is field 8.
		if len(fields) < 9 {
			return Sample{}, fmt.Errorf("malformed counters line for %s", a.iface)
		}
		rx, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return Sample{}, fmt.Errorf("bad rx counter for %s: %w", a.iface, err)
		}
		tx, err := strconv.ParseInt(fields[8], 10, 64)
		if err != nil {
			return Sample{}, fmt.Errorf("bad tx counter for %s: %w", a.iface, err)
		}
		return Sample{RX: rx, TX: tx}, nil
	}

	return Sample{}, fmt.Errorf("interface %s not found in %s", a.iface, a.procNetDev)
}

// periodKey identifies the current instance of a period: the calendar date
// for daily, the ISO (year, week) pair for weekly, the (year, month) pair
// for monthly. Unknown periods key on the date.
func periodKey(period string, now time.Time) string {
	switch period {
	case "w":
		year, week := now.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case "m":
		return now.Format("2006-01")
	default:
		return now.Format("2006-01-02")
	}
}

func (a *LocalAgent) loadBaselines() map[string]baseline {
	data, err := os.ReadFile(a.baselinePath)
	if err != nil {
		return make(map[string]baseline)
	}
	var baselines map[string]baseline
	if err := json.Unmarshal(data, &baselines); err != nil || baselines == nil {
		return make(map[string]baseline)
	}
	return baselines
}

func (a *LocalAgent) saveBaselines(baselines map[string]baseline) error {
	data, err := json.MarshalIndent(baselines, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(a.baselinePath, data, 0o644)
}
