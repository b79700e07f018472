// Package testenv provides a reusable in-process test environment for the
// rotation engine: a mock Cloudflare server, a mock usage agent, a temp
// state directory, and helpers to build configurations against them.
package testenv

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rotodns/rotodns/internal/config"
	"github.com/rotodns/rotodns/internal/engine"
	"github.com/rotodns/rotodns/internal/history"
	"github.com/rotodns/rotodns/internal/state"
	"github.com/rotodns/rotodns/internal/testutil/mockagent"
	"github.com/rotodns/rotodns/internal/testutil/mockcf"
)

// AgentAPIKey is the API key the mock usage agent expects.
const AgentAPIKey = "testenv-agent-key"

// Env is a fully wired in-process environment.
type Env struct {
	CF       *mockcf.Server
	Agent    *mockagent.Server
	StateDir string
	Config   *config.Config
}

// Setup starts the mock servers and prepares a base configuration with one
// account. Callers add zones/records/triggers before calling Engine.
// Cleanup is registered automatically.
func Setup(t *testing.T) *Env {
	t.Helper()

	cf := mockcf.New()
	agent := mockagent.New(AgentAPIKey)
	t.Cleanup(func() {
		cf.Close()
		agent.Close()
	})

	stateDir := t.TempDir()
	cfg := &config.Config{
		Accounts: []config.Account{{
			Name:     "testenv",
			APIToken: "testenv-token",
		}},
		Agents: []config.Agent{{
			Name:   "agent-1",
			URL:    agent.URL(),
			APIKey: AgentAPIKey,
		}},
		Settings: config.Settings{
			StateDir:   stateDir,
			APIBaseURL: cf.URL(),
			LogLevel:   "error",
		},
	}

	return &Env{
		CF:       cf,
		Agent:    agent,
		StateDir: stateDir,
		Config:   cfg,
	}
}

// AddZone seeds a zone in the mock provider and registers it on the first
// account. Returns the zone ID.
func (e *Env) AddZone(t *testing.T, domain string) string {
	t.Helper()

	zoneID := e.CF.AddZone(domain)
	e.Config.Accounts[0].Zones = append(e.Config.Accounts[0].Zones, config.Zone{
		Domain: domain,
		ZoneID: zoneID,
	})
	return zoneID
}

// zone returns the configured zone with the given ID.
func (e *Env) zone(t *testing.T, zoneID string) *config.Zone {
	t.Helper()

	zones := e.Config.Accounts[0].Zones
	for i := range zones {
		if zones[i].ZoneID == zoneID {
			return &zones[i]
		}
	}
	t.Fatalf("zone %s not configured", zoneID)
	return nil
}

// AddRecordUnit seeds a live record and its rotation-unit configuration.
func (e *Env) AddRecordUnit(t *testing.T, zoneID string, rec config.Record, liveContent string) {
	t.Helper()

	e.CF.AddRecord(zoneID, rec.Name, rec.Type, liveContent)
	zone := e.zone(t, zoneID)
	zone.Records = append(zone.Records, rec)
}

// AddGroupUnit seeds live member records and the group configuration.
// contents holds one live content per member, in group order.
func (e *Env) AddGroupUnit(t *testing.T, zoneID string, grp config.RotationGroup, contents []string) {
	t.Helper()

	require.Len(t, contents, len(grp.Records), "one live content per group member")
	for i, name := range grp.Records {
		e.CF.AddRecord(zoneID, name, "A", contents[i])
	}
	zone := e.zone(t, zoneID)
	zone.RotationGroups = append(zone.RotationGroups, grp)
}

// Engine builds an engine over the current configuration. Call after all
// zones and units are registered. The config must validate.
func (e *Env) Engine(t *testing.T) *engine.Engine {
	t.Helper()

	require.NoError(t, e.Config.Validate(), "testenv config must be valid")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := state.NewStore(e.StateDir, logger)
	require.NoError(t, err)

	var hist *history.Store
	if e.Config.Settings.HistoryDB != "" {
		hist, err = history.New(e.Config.Settings.HistoryDB)
		require.NoError(t, err)
		t.Cleanup(func() { _ = hist.Close() })
	}

	return engine.New(e.Config, store, hist, logger)
}

// StateStore opens the environment's state directory for assertions.
func (e *Env) StateStore(t *testing.T) *state.Store {
	t.Helper()

	store, err := state.NewStore(e.StateDir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return store
}

// WriteConfigFile marshals the current configuration to a JSON file inside
// the state dir, for tests exercising the file-loading path.
func (e *Env) WriteConfigFile(t *testing.T) string {
	t.Helper()

	data, err := json.MarshalIndent(e.Config, "", "  ")
	require.NoError(t, err)

	path := filepath.Join(e.StateDir, "config.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}
