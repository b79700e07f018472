package history

import (
	"context"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open history store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordRotation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	events := []RotationEvent{
		{
			PassID:     "pass-1",
			Account:    "prod",
			ZoneID:     "zone-a",
			RecordName: "edge.example.com",
			Strategy:   "cycle",
			OldContent: "203.0.113.10",
			NewContent: "203.0.113.11",
			Outcome:    "success",
		},
		{
			PassID:     "pass-1",
			Account:    "prod",
			ZoneID:     "zone-a",
			RecordName: "relay.example.com",
			Strategy:   "shift",
			OldContent: "203.0.113.20",
			NewContent: "203.0.113.21",
			Outcome:    "failure",
			Detail:     "api error 500",
		},
	}
	for _, ev := range events {
		if err := store.RecordRotation(ctx, ev); err != nil {
			t.Fatalf("RecordRotation failed: %v", err)
		}
	}

	got, err := store.RecentRotations(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRotations failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}

	// Newest first.
	if got[0].RecordName != "relay.example.com" {
		t.Errorf("first event = %q, want newest", got[0].RecordName)
	}
	if got[0].Outcome != "failure" || got[0].Detail != "api error 500" {
		t.Errorf("failure outcome not preserved: %+v", got[0])
	}
	if got[1].Strategy != "cycle" || got[1].NewContent != "203.0.113.11" {
		t.Errorf("event fields not preserved: %+v", got[1])
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("created_at was not populated")
	}
}

func TestRecordTrigger(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ev := TriggerEvent{
		PassID:     "pass-7",
		TriggerID:  "trig-daily",
		Agent:      "edge-1",
		Period:     "d",
		UsageBytes: 64424509440,
	}
	if err := store.RecordTrigger(ctx, ev); err != nil {
		t.Fatalf("RecordTrigger failed: %v", err)
	}

	got, err := store.RecentTriggers(ctx, 10)
	if err != nil {
		t.Fatalf("RecentTriggers failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].TriggerID != "trig-daily" || got[0].UsageBytes != 64424509440 {
		t.Errorf("trigger event not preserved: %+v", got[0])
	}
}

func TestRecentRotationsLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ev := RotationEvent{
			PassID:     "pass-1",
			Account:    "prod",
			ZoneID:     "zone-a",
			RecordName: "edge.example.com",
			Strategy:   "cycle",
			Outcome:    "success",
		}
		if err := store.RecordRotation(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.RecentRotations(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("got %d events, want limit of 3", len(got))
	}
}

func TestSchemaIdempotent(t *testing.T) {
	store := newTestStore(t)

	if err := initSchema(store.db); err != nil {
		t.Fatalf("re-running schema init failed: %v", err)
	}
}
