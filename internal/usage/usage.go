// Package usage provides traffic usage sources for trigger evaluation:
// remote HTTP monitoring agents and a local self-monitoring source.
package usage

import "context"

// Sample is one usage measurement in bytes.
type Sample struct {
	RX int64 `json:"rx"`
	TX int64 `json:"tx"`
}

// Total returns received plus transmitted bytes.
func (s Sample) Total() int64 {
	return s.RX + s.TX
}

// Dimension extracts the named volume dimension ("rx", "tx" or "total").
// Unknown dimensions fall back to total.
func (s Sample) Dimension(name string) int64 {
	switch name {
	case "rx":
		return s.RX
	case "tx":
		return s.TX
	default:
		return s.Total()
	}
}

// Source produces the latest usage sample for a trigger period ("d", "w" or
// "m"). Implementations map the period onto whatever granularity their
// backend offers.
type Source interface {
	// Name identifies the source in logs.
	Name() string
	// FetchUsage returns the usage accumulated in the current instance of
	// the given period.
	FetchUsage(ctx context.Context, period string) (Sample, error)
}
