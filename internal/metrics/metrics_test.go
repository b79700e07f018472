package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestInitAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Init(reg); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	RecordRotation("cycle", "success")
	RecordRotation("cycle", "success")
	RecordRotation("shift", "failure")
	RecordPassDuration(0.42)
	RecordTriggerFire("trig-daily")
	RecordAPIError("authentication")

	text, err := GetMetricsText(reg)
	if err != nil {
		t.Fatalf("GetMetricsText failed: %v", err)
	}

	checks := []string{
		`rotodns_engine_rotations_total{outcome="success",strategy="cycle"} 2`,
		`rotodns_engine_rotations_total{outcome="failure",strategy="shift"} 1`,
		`rotodns_engine_pass_duration_seconds_count 1`,
		`rotodns_engine_trigger_fires_total{trigger="trig-daily"} 1`,
		`rotodns_engine_api_errors_total{kind="authentication"} 1`,
		`rotodns_engine_info{version="1.0.0"} 1`,
	}
	for _, want := range checks {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestInitDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Init(reg); err != nil {
		t.Fatalf("first Init failed: %v", err)
	}
	if err := Init(reg); err == nil {
		t.Error("second Init on the same registry should fail")
	}
}

func TestRecordBeforeInitDoesNotPanic(t *testing.T) {
	// Records against whatever state the atomics hold are safe either way;
	// the nil checks make these no-ops before Init.
	RecordRotation("cycle", "success")
	RecordPassDuration(0.1)
	RecordTriggerFire("t")
	RecordAPIError("network")
}
