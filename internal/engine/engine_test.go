package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/rotodns/rotodns/internal/config"
	"github.com/rotodns/rotodns/internal/history"
	"github.com/rotodns/rotodns/internal/schedule"
	"github.com/rotodns/rotodns/internal/state"
	"github.com/rotodns/rotodns/internal/testutil/mockagent"
	"github.com/rotodns/rotodns/internal/testutil/mockcf"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEngine wires an engine against a mock provider and a temp state
// dir. The config's APIBaseURL and StateDir are filled in here.
func newTestEngine(t *testing.T, cfg *config.Config, cf *mockcf.Server, hist *history.Store) (*Engine, *state.Store) {
	t.Helper()

	cfg.Settings.APIBaseURL = cf.URL()
	if cfg.Settings.StateDir == "" {
		cfg.Settings.StateDir = t.TempDir()
	}

	store, err := state.NewStore(cfg.Settings.StateDir, discardLogger())
	if err != nil {
		t.Fatalf("failed to create state store: %v", err)
	}
	return New(cfg, store, hist, discardLogger()), store
}

func singleRecordConfig(zoneID string, ips []string) *config.Config {
	return &config.Config{
		Accounts: []config.Account{{
			Name:     "prod",
			APIToken: "test-token",
			Zones: []config.Zone{{
				Domain: "example.com",
				ZoneID: zoneID,
				Records: []config.Record{{
					Name:     "edge.example.com",
					Type:     "A",
					IPs:      ips,
					Schedule: &schedule.Schedule{Type: schedule.TypeTime, IntervalMinutes: 30},
				}},
			}},
		}},
	}
}

func TestRunPassRotatesDueRecord(t *testing.T) {
	cf := mockcf.New()
	defer cf.Close()

	zoneID := cf.AddZone("example.com")
	cf.AddRecord(zoneID, "edge.example.com", "A", "203.0.113.1")

	ips := []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"}
	eng, store := newTestEngine(t, singleRecordConfig(zoneID, ips), cf, nil)

	if err := eng.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if got := cf.RecordContent(zoneID, "edge.example.com"); got != "203.0.113.2" {
		t.Errorf("record content = %q, want next candidate", got)
	}

	status := store.LoadRotationStatus()
	key := state.UnitKey(zoneID, "edge.example.com")
	if _, ok := status[key]; !ok {
		t.Error("rotation timestamp was not persisted")
	}

	// Immediately re-running: the unit is no longer due.
	before := cf.UpdateCount()
	if err := eng.RunPass(context.Background()); err != nil {
		t.Fatalf("second RunPass failed: %v", err)
	}
	if cf.UpdateCount() != before {
		t.Error("unit rotated again before its interval elapsed")
	}
}

func TestRunPassResyncsUnknownContent(t *testing.T) {
	cf := mockcf.New()
	defer cf.Close()

	zoneID := cf.AddZone("example.com")
	// Live content is not in the candidate list: resync to the first.
	cf.AddRecord(zoneID, "edge.example.com", "A", "198.51.100.99")

	ips := []string{"203.0.113.1", "203.0.113.2"}
	eng, _ := newTestEngine(t, singleRecordConfig(zoneID, ips), cf, nil)

	if err := eng.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if got := cf.RecordContent(zoneID, "edge.example.com"); got != "203.0.113.1" {
		t.Errorf("record content = %q, want resync to first candidate", got)
	}
}

func TestRunPassGroupShift(t *testing.T) {
	cf := mockcf.New()
	defer cf.Close()

	zoneID := cf.AddZone("example.com")
	cf.AddRecord(zoneID, "a.example.com", "A", "203.0.113.1")
	cf.AddRecord(zoneID, "b.example.com", "A", "203.0.113.2")
	cf.AddRecord(zoneID, "c.example.com", "A", "203.0.113.3")

	cfg := &config.Config{
		Accounts: []config.Account{{
			Name:     "prod",
			APIToken: "test-token",
			Zones: []config.Zone{{
				Domain: "example.com",
				ZoneID: zoneID,
				RotationGroups: []config.RotationGroup{{
					Name:     "edge-pool",
					Records:  []string{"a.example.com", "b.example.com", "c.example.com"},
					Schedule: &schedule.Schedule{Type: schedule.TypeTime, IntervalMinutes: 30},
				}},
			}},
		}},
	}
	eng, _ := newTestEngine(t, cfg, cf, nil)

	if err := eng.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	want := map[string]string{
		"a.example.com": "203.0.113.3",
		"b.example.com": "203.0.113.1",
		"c.example.com": "203.0.113.2",
	}
	for name, content := range want {
		if got := cf.RecordContent(zoneID, name); got != content {
			t.Errorf("%s = %q, want %q", name, got, content)
		}
	}
}

func TestRunPassGroupPartialFailure(t *testing.T) {
	cf := mockcf.New()
	defer cf.Close()

	zoneID := cf.AddZone("example.com")
	cf.AddRecord(zoneID, "a.example.com", "A", "203.0.113.1")
	failID := cf.AddRecord(zoneID, "b.example.com", "A", "203.0.113.2")
	cf.AddRecord(zoneID, "c.example.com", "A", "203.0.113.3")
	cf.FailUpdatesFor(failID)

	cfg := &config.Config{
		Accounts: []config.Account{{
			Name:     "prod",
			APIToken: "test-token",
			Zones: []config.Zone{{
				Domain: "example.com",
				ZoneID: zoneID,
				RotationGroups: []config.RotationGroup{{
					Name:     "edge-pool",
					Records:  []string{"a.example.com", "b.example.com", "c.example.com"},
					Schedule: &schedule.Schedule{Type: schedule.TypeTime, IntervalMinutes: 30},
				}},
			}},
		}},
	}
	eng, store := newTestEngine(t, cfg, cf, nil)

	if err := eng.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	// The failing member keeps its old content; the others still moved.
	if got := cf.RecordContent(zoneID, "b.example.com"); got != "203.0.113.2" {
		t.Errorf("failing member content = %q, want unchanged", got)
	}
	if got := cf.RecordContent(zoneID, "a.example.com"); got != "203.0.113.3" {
		t.Errorf("a = %q, want shifted content", got)
	}
	if got := cf.RecordContent(zoneID, "c.example.com"); got != "203.0.113.2" {
		t.Errorf("c = %q, want shifted content", got)
	}

	// Timer still resets so the group is retried on schedule, not every pass.
	status := store.LoadRotationStatus()
	if _, ok := status[state.UnitKey(zoneID, "edge-pool")]; !ok {
		t.Error("group timer was not reset after partial failure")
	}
}

func TestRunPassGlobalRotation(t *testing.T) {
	cf := mockcf.New()
	defer cf.Close()

	zoneID := cf.AddZone("example.com")
	cf.AddRecord(zoneID, "g1.example.com", "A", "198.51.100.1")
	cf.AddRecord(zoneID, "g2.example.com", "A", "198.51.100.2")

	cfg := &config.Config{
		Accounts: []config.Account{{Name: "prod", APIToken: "test-token"}},
	}
	eng, store := newTestEngine(t, cfg, cf, nil)

	es := state.NewEngineState()
	es.GlobalRotations["edge-global"] = &state.GlobalRotation{
		Account: "prod",
		ZoneID:  zoneID,
		Records: []string{"g1.example.com", "g2.example.com"},
		Pool:    []string{"203.0.113.10", "203.0.113.11", "203.0.113.12"},
		Schedule: &schedule.Schedule{
			Type: schedule.TypeTime, IntervalMinutes: 30,
		},
		RotationIndex: 0,
	}
	if err := store.SaveEngineState(es); err != nil {
		t.Fatal(err)
	}

	if err := eng.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	// index 0: member i gets pool[(0+i) % 3].
	if got := cf.RecordContent(zoneID, "g1.example.com"); got != "203.0.113.10" {
		t.Errorf("g1 = %q, want pool[0]", got)
	}
	if got := cf.RecordContent(zoneID, "g2.example.com"); got != "203.0.113.11" {
		t.Errorf("g2 = %q, want pool[1]", got)
	}

	saved := store.LoadEngineState()
	gr := saved.GlobalRotations["edge-global"]
	if gr == nil {
		t.Fatal("global rotation vanished from state")
	}
	if gr.RotationIndex != 2 {
		t.Errorf("rotation index = %d, want backward step to 2", gr.RotationIndex)
	}
	if gr.LastRotatedAt == 0 {
		t.Error("last_rotated_at was not set")
	}
}

func TestEngine_TriggerConsumption(t *testing.T) {
	cf := mockcf.New()
	defer cf.Close()
	agent := mockagent.New("agent-key")
	defer agent.Close()

	zoneID := cf.AddZone("example.com")
	cf.AddRecord(zoneID, "edge.example.com", "A", "203.0.113.1")

	cfg := &config.Config{
		Accounts: []config.Account{{
			Name:     "prod",
			APIToken: "test-token",
			Zones: []config.Zone{{
				Domain: "example.com",
				ZoneID: zoneID,
				Records: []config.Record{{
					Name: "edge.example.com",
					Type: "A",
					IPs:  []string{"203.0.113.1", "203.0.113.2"},
					Schedule: &schedule.Schedule{
						Type: schedule.TypeTrigger, TriggerID: "daily-50",
					},
				}},
			}},
		}},
		Agents: []config.Agent{{Name: "edge-agent", URL: agent.URL(), APIKey: "agent-key"}},
		Triggers: []config.Trigger{{
			ID:         "daily-50",
			Name:       "daily 1GB",
			Agent:      "edge-agent",
			Period:     "d",
			VolumeGB:   1,
			VolumeType: "total",
		}},
	}
	eng, store := newTestEngine(t, cfg, cf, nil)

	// Over threshold: the trigger fires and the dependent record rotates in
	// the same pass.
	agent.SetSamples("d", mockagent.Sample{RX: 2 << 30, TX: 0})
	if err := eng.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if got := cf.RecordContent(zoneID, "edge.example.com"); got != "203.0.113.2" {
		t.Errorf("record content = %q, want rotated", got)
	}

	// The fired entry is one-shot: consumed by the rotation.
	es := store.LoadEngineState()
	if _, ok := es.FiredTriggers["daily-50"]; ok {
		t.Error("fired-trigger entry was not consumed after rotation")
	}

	// Under threshold: nothing fires, nothing rotates.
	agent.SetSamples("d", mockagent.Sample{RX: 100, TX: 100})
	before := cf.UpdateCount()
	if err := eng.RunPass(context.Background()); err != nil {
		t.Fatalf("second RunPass failed: %v", err)
	}
	if cf.UpdateCount() != before {
		t.Error("record rotated without a fired trigger")
	}
}

func TestRunPassAuthFailureIsolation(t *testing.T) {
	cf := mockcf.New()
	defer cf.Close()

	zoneA := cf.AddZone("bad.example")
	cf.AddRecord(zoneA, "edge.bad.example", "A", "203.0.113.1")
	zoneB := cf.AddZone("good.example")
	cf.AddRecord(zoneB, "edge.good.example", "A", "203.0.113.1")

	sched := &schedule.Schedule{Type: schedule.TypeTime, IntervalMinutes: 30}
	cfg := &config.Config{
		Accounts: []config.Account{
			{
				// Empty token: the provider rejects every request.
				Name:     "bad",
				APIToken: "",
				Zones: []config.Zone{{
					Domain: "bad.example",
					ZoneID: zoneA,
					Records: []config.Record{{
						Name: "edge.bad.example", Type: "A",
						IPs:      []string{"203.0.113.1", "203.0.113.2"},
						Schedule: sched,
					}},
				}},
			},
			{
				Name:     "good",
				APIToken: "test-token",
				Zones: []config.Zone{{
					Domain: "good.example",
					ZoneID: zoneB,
					Records: []config.Record{{
						Name: "edge.good.example", Type: "A",
						IPs:      []string{"203.0.113.1", "203.0.113.2"},
						Schedule: sched,
					}},
				}},
			},
		},
	}
	eng, _ := newTestEngine(t, cfg, cf, nil)

	if err := eng.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if got := cf.RecordContent(zoneA, "edge.bad.example"); got != "203.0.113.1" {
		t.Errorf("bad account's record = %q, want unchanged", got)
	}
	if got := cf.RecordContent(zoneB, "edge.good.example"); got != "203.0.113.2" {
		t.Errorf("good account's record = %q, want rotated despite sibling auth failure", got)
	}
}

func TestRunPassWritesHistory(t *testing.T) {
	cf := mockcf.New()
	defer cf.Close()

	zoneID := cf.AddZone("example.com")
	cf.AddRecord(zoneID, "edge.example.com", "A", "203.0.113.1")

	hist, err := history.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open history: %v", err)
	}
	defer hist.Close() //nolint:errcheck

	ips := []string{"203.0.113.1", "203.0.113.2"}
	eng, _ := newTestEngine(t, singleRecordConfig(zoneID, ips), cf, hist)

	if err := eng.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	events, err := hist.RecentRotations(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentRotations failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d audit rows, want 1", len(events))
	}
	ev := events[0]
	if ev.RecordName != "edge.example.com" || ev.Outcome != "success" ||
		ev.OldContent != "203.0.113.1" || ev.NewContent != "203.0.113.2" {
		t.Errorf("audit row mismatch: %+v", ev)
	}
	if ev.PassID == "" {
		t.Error("audit row missing pass id")
	}
}

func TestRunLoopStopsOnCancel(t *testing.T) {
	cf := mockcf.New()
	defer cf.Close()
	zoneID := cf.AddZone("example.com")
	cf.AddRecord(zoneID, "edge.example.com", "A", "203.0.113.1")

	eng, _ := newTestEngine(t, singleRecordConfig(zoneID, []string{"203.0.113.1", "203.0.113.2"}), cf, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx, time.Hour) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
