// Package engine orchestrates rotation passes: it evaluates usage
// triggers, processes global rotations and per-zone rotation units, applies
// record updates through the Cloudflare client, and persists state.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rotodns/rotodns/internal/cloudflare"
	"github.com/rotodns/rotodns/internal/config"
	"github.com/rotodns/rotodns/internal/history"
	"github.com/rotodns/rotodns/internal/metrics"
	"github.com/rotodns/rotodns/internal/rotation"
	"github.com/rotodns/rotodns/internal/schedule"
	"github.com/rotodns/rotodns/internal/state"
	"github.com/rotodns/rotodns/internal/trigger"
	"github.com/rotodns/rotodns/internal/usage"
)

// Strategy labels used in metrics and the audit log.
const (
	strategyCycle  = "cycle"
	strategyShift  = "shift"
	strategyGlobal = "global"
)

// Engine runs rotation passes against a configuration.
type Engine struct {
	cfg     *config.Config
	store   *state.Store
	history *history.Store // nil disables the audit log
	logger  *slog.Logger

	eval    *trigger.Evaluator
	clients map[string]*cloudflare.Client // account name -> client
	sources map[string]usage.Source       // agent name -> source
	now     func() time.Time
}

// New assembles an engine from validated configuration. The state store
// must already exist; hist may be nil to disable the audit log.
func New(cfg *config.Config, store *state.Store, hist *history.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	clients := make(map[string]*cloudflare.Client, len(cfg.Accounts))
	for i := range cfg.Accounts {
		acct := &cfg.Accounts[i]
		opts := []cloudflare.Option{
			cloudflare.WithHTTPClient(&http.Client{
				Timeout:   30 * time.Second,
				Transport: &cloudflare.LoggingTransport{Logger: logger},
			}),
		}
		if cfg.Settings.APIBaseURL != "" {
			opts = append(opts, cloudflare.WithBaseURL(cfg.Settings.APIBaseURL))
		}
		clients[acct.Name] = cloudflare.NewClient(acct.APIToken, opts...)
	}

	sources := make(map[string]usage.Source)
	for i := range cfg.Agents {
		agent := &cfg.Agents[i]
		sources[agent.Name] = usage.NewRemoteAgent(agent.Name, agent.URL, agent.APIKey)
	}
	if cfg.SelfMonitor != nil && cfg.SelfMonitor.Enabled {
		sources[config.SelfMonitorAgent] = usage.NewLocalAgent(
			cfg.SelfMonitor.Interface,
			cfg.SelfMonitor.ProcNetDev,
			filepath.Join(cfg.Settings.StateDir, "self_monitor.json"),
		)
	}

	return &Engine{
		cfg:     cfg,
		store:   store,
		history: hist,
		logger:  logger,
		eval:    trigger.NewEvaluator(logger),
		clients: clients,
		sources: sources,
		now:     time.Now,
	}
}

// RunPass executes one full rotation pass. Unit-level failures are isolated
// per the partial-failure rules; only state persistence failure is returned
// as an error.
func (e *Engine) RunPass(ctx context.Context) error {
	passID := uuid.NewString()
	logger := e.logger.With("pass_id", passID)
	start := e.now()

	logger.Info("rotation pass starting")

	status := e.store.LoadRotationStatus()
	es := e.store.LoadEngineState()

	pass := &passState{
		id:         passID,
		logger:     logger,
		status:     status,
		engine:     es,
		authFailed: make(map[string]bool),
		consumed:   make(map[string]bool),
	}

	e.evaluateTriggers(ctx, pass)
	e.processGlobalRotations(ctx, pass)
	for i := range e.cfg.Accounts {
		e.processAccount(ctx, pass, &e.cfg.Accounts[i])
	}

	// Fired entries that justified a successful rotation are one-shot.
	for id := range pass.consumed {
		delete(es.FiredTriggers, id)
	}

	var firstErr error
	if err := e.store.SaveRotationStatus(status); err != nil {
		logger.Error("failed to persist rotation status", "error", err)
		firstErr = err
	}
	if err := e.store.SaveEngineState(es); err != nil {
		logger.Error("failed to persist engine state", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	elapsed := e.now().Sub(start)
	metrics.RecordPassDuration(elapsed.Seconds())
	logger.Info("rotation pass finished",
		"duration_ms", elapsed.Milliseconds(),
		"rotated", pass.rotated,
		"failed", pass.failed,
	)
	return firstErr
}

// passState carries the mutable products of one pass between phases.
type passState struct {
	id     string
	logger *slog.Logger
	status state.RotationStatus
	engine *state.EngineState

	// authFailed marks accounts whose credential was rejected this pass;
	// their remaining units are skipped.
	authFailed map[string]bool
	// consumed collects trigger IDs whose fired entry justified a rotation.
	consumed map[string]bool

	rotated int
	failed  int
}

func (e *Engine) evaluateTriggers(ctx context.Context, pass *passState) {
	for i := range e.cfg.Triggers {
		trig := &e.cfg.Triggers[i]
		source, ok := e.sources[trig.Agent]
		if !ok {
			pass.logger.Warn("trigger references unconfigured agent, skipping",
				"trigger", trig.ID, "agent", trig.Agent)
			continue
		}

		fired, usageBytes := e.eval.Evaluate(ctx, trig, source, pass.engine.FiredTriggers)
		if !fired {
			continue
		}
		metrics.RecordTriggerFire(trig.ID)
		e.auditTrigger(ctx, pass, trig, usageBytes)
	}
}

// processGlobalRotations handles the pool-cursor units stored in engine
// state. They run before per-zone units, in name order, so passes are
// deterministic.
func (e *Engine) processGlobalRotations(ctx context.Context, pass *passState) {
	names := make([]string, 0, len(pass.engine.GlobalRotations))
	for name := range pass.engine.GlobalRotations {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		e.processGlobalRotation(ctx, pass, name, pass.engine.GlobalRotations[name])
	}
}

func (e *Engine) processGlobalRotation(ctx context.Context, pass *passState, name string, gr *state.GlobalRotation) {
	logger := pass.logger.With("unit", name, "strategy", strategyGlobal)

	if pass.authFailed[gr.Account] {
		return
	}
	client, ok := e.clients[gr.Account]
	if !ok {
		logger.Warn("global rotation references unknown account, skipping", "account", gr.Account)
		return
	}
	if len(gr.Pool) == 0 || len(gr.Records) == 0 {
		logger.Warn("global rotation has empty pool or member list, skipping")
		return
	}

	sched := gr.Schedule
	if sched == nil {
		sched = schedule.Default()
	}
	var last time.Time
	if gr.LastRotatedAt > 0 {
		last = time.Unix(gr.LastRotatedAt, 0)
	}
	due, consumes := e.unitDue(logger, sched, last, pass.engine)
	if !due {
		return
	}

	live, err := client.ListRecords(ctx, gr.ZoneID)
	if err != nil {
		e.noteAPIError(pass, logger, gr.Account, err)
		return
	}
	byName := indexRecords(live)

	assignments := rotation.PoolAssignments(gr.Pool, len(gr.Records), gr.RotationIndex)

	failures := 0
	for i, recName := range gr.Records {
		rec, ok := byName[recName]
		if !ok {
			logger.Warn("member record not found in zone, skipping member", "record", recName)
			failures++
			continue
		}
		if rec.Content == assignments[i] {
			continue
		}
		if err := e.applyUpdate(ctx, pass, client, gr.Account, gr.ZoneID, rec, assignments[i], strategyGlobal); err != nil {
			failures++
			if cloudflare.IsAuthentication(err) {
				return
			}
		}
	}

	// Cursor and timer advance even on partial failure; stragglers converge
	// on the next due rotation.
	gr.RotationIndex = rotation.AdvanceCursor(gr.RotationIndex, len(gr.Pool))
	gr.LastRotatedAt = e.now().Unix()

	if failures == 0 && consumes != "" {
		pass.consumed[consumes] = true
	}
}

func (e *Engine) processAccount(ctx context.Context, pass *passState, acct *config.Account) {
	if pass.authFailed[acct.Name] {
		return
	}
	client := e.clients[acct.Name]

	for zi := range acct.Zones {
		zone := &acct.Zones[zi]
		logger := pass.logger.With("account", acct.Name, "zone", zone.Domain)

		if pass.authFailed[acct.Name] {
			return
		}

		// Anything due in this zone?
		if !e.zoneHasDueUnit(logger, zone, pass) {
			continue
		}

		live, err := client.ListRecords(ctx, zone.ZoneID)
		if err != nil {
			e.noteAPIError(pass, logger, acct.Name, err)
			continue
		}
		byName := indexRecords(live)

		for ri := range zone.Records {
			if pass.authFailed[acct.Name] {
				return
			}
			e.processRecord(ctx, pass, client, acct.Name, zone, &zone.Records[ri], byName)
		}
		for gi := range zone.RotationGroups {
			if pass.authFailed[acct.Name] {
				return
			}
			e.processGroup(ctx, pass, client, acct.Name, zone, &zone.RotationGroups[gi], byName)
		}
	}
}

// zoneHasDueUnit avoids listing records for zones with nothing to do.
func (e *Engine) zoneHasDueUnit(logger *slog.Logger, zone *config.Zone, pass *passState) bool {
	for ri := range zone.Records {
		rec := &zone.Records[ri]
		key := state.UnitKey(zone.ZoneID, rec.Name)
		if due, _ := e.unitDue(logger, rec.Schedule, pass.status.LastRotated(key), pass.engine); due {
			return true
		}
	}
	for gi := range zone.RotationGroups {
		grp := &zone.RotationGroups[gi]
		sched := grp.Schedule
		if sched == nil {
			sched = schedule.Default()
		}
		key := state.UnitKey(zone.ZoneID, grp.Name)
		if due, _ := e.unitDue(logger, sched, pass.status.LastRotated(key), pass.engine); due {
			return true
		}
	}
	return false
}

func (e *Engine) processRecord(ctx context.Context, pass *passState, client *cloudflare.Client, account string, zone *config.Zone, rec *config.Record, byName map[string]*cloudflare.Record) {
	logger := pass.logger.With("account", account, "zone", zone.Domain, "record", rec.Name)

	key := state.UnitKey(zone.ZoneID, rec.Name)
	due, consumes := e.unitDue(logger, rec.Schedule, pass.status.LastRotated(key), pass.engine)
	if !due {
		return
	}

	live, ok := byName[rec.Name]
	if !ok {
		logger.Warn("record not found in zone, skipping")
		return
	}

	next := rotation.NextIP(rec.IPs, live.Content)
	if next == live.Content {
		// Nothing to change; the timer still resets so the unit is not
		// re-examined every pass.
		pass.status[key] = e.now().Unix()
		if consumes != "" {
			pass.consumed[consumes] = true
		}
		logger.Debug("rotation is a no-op", "content", live.Content)
		return
	}

	if err := e.applyUpdate(ctx, pass, client, account, zone.ZoneID, live, next, strategyCycle); err != nil {
		return
	}
	pass.status[key] = e.now().Unix()
	if consumes != "" {
		pass.consumed[consumes] = true
	}
}

func (e *Engine) processGroup(ctx context.Context, pass *passState, client *cloudflare.Client, account string, zone *config.Zone, grp *config.RotationGroup, byName map[string]*cloudflare.Record) {
	logger := pass.logger.With("account", account, "zone", zone.Domain, "group", grp.Name)

	sched := grp.Schedule
	if sched == nil {
		sched = schedule.Default()
	}
	key := state.UnitKey(zone.ZoneID, grp.Name)
	due, consumes := e.unitDue(logger, sched, pass.status.LastRotated(key), pass.engine)
	if !due {
		return
	}

	members := make([]*cloudflare.Record, len(grp.Records))
	contents := make([]string, len(grp.Records))
	for i, name := range grp.Records {
		rec, ok := byName[name]
		if !ok {
			logger.Warn("group member not found in zone, skipping group", "record", name)
			return
		}
		members[i] = rec
		contents[i] = rec.Content
	}

	next := rotation.ShiftLeft(contents)

	failures := 0
	for i, rec := range members {
		if next[i] == contents[i] {
			continue
		}
		if err := e.applyUpdate(ctx, pass, client, account, zone.ZoneID, rec, next[i], strategyShift); err != nil {
			failures++
			if cloudflare.IsAuthentication(err) {
				return
			}
		}
	}

	pass.status[key] = e.now().Unix()
	if failures == 0 && consumes != "" {
		pass.consumed[consumes] = true
	}
}

// unitDue resolves a schedule against the clock and fired-trigger state.
// For trigger schedules the returned consumes is the trigger ID whose fired
// entry should be deleted once the unit rotates.
func (e *Engine) unitDue(logger *slog.Logger, sched *schedule.Schedule, lastRotated time.Time, es *state.EngineState) (due bool, consumes string) {
	switch sched.Type {
	case schedule.TypeTime:
		return sched.Due(lastRotated, e.now()), ""
	case schedule.TypeTrigger:
		trig, ok := e.cfg.TriggerByID(sched.TriggerID)
		if !ok {
			logger.Warn("schedule references unknown trigger, unit never due", "trigger", sched.TriggerID)
			return false, ""
		}
		stored, ok := es.FiredTriggers[trig.ID]
		if !ok {
			return false, ""
		}
		if !trigger.FiredWithinPeriod(trig.Period, stored, e.now()) {
			return false, ""
		}
		return true, trig.ID
	default:
		logger.Warn("unknown schedule type, unit never due", "type", sched.Type)
		return false, ""
	}
}

// applyUpdate performs one record content change and records its outcome in
// metrics and the audit log.
func (e *Engine) applyUpdate(ctx context.Context, pass *passState, client *cloudflare.Client, account, zoneID string, rec *cloudflare.Record, newContent, strategy string) error {
	logger := pass.logger.With("account", account, "zone_id", zoneID, "record", rec.Name)

	_, err := client.UpdateRecord(ctx, zoneID, rec.ID, &cloudflare.UpdateRecordRequest{
		Name:    rec.Name,
		Type:    rec.Type,
		Content: newContent,
		TTL:     rec.TTL,
		Proxied: rec.Proxied,
	})
	if err != nil {
		e.noteAPIError(pass, logger, account, err)
		pass.failed++
		metrics.RecordRotation(strategy, "failure")
		e.auditRotation(ctx, pass, history.RotationEvent{
			PassID:     pass.id,
			Account:    account,
			ZoneID:     zoneID,
			RecordName: rec.Name,
			Strategy:   strategy,
			OldContent: rec.Content,
			NewContent: newContent,
			Outcome:    "failure",
			Detail:     err.Error(),
		})
		return err
	}

	pass.rotated++
	metrics.RecordRotation(strategy, "success")
	logger.Info("record rotated", "old", rec.Content, "new", newContent, "strategy", strategy)
	e.auditRotation(ctx, pass, history.RotationEvent{
		PassID:     pass.id,
		Account:    account,
		ZoneID:     zoneID,
		RecordName: rec.Name,
		Strategy:   strategy,
		OldContent: rec.Content,
		NewContent: newContent,
		Outcome:    "success",
	})
	return nil
}

// noteAPIError classifies a provider error for metrics and marks the
// account when the credential itself was rejected.
func (e *Engine) noteAPIError(pass *passState, logger *slog.Logger, account string, err error) {
	var apiErr *cloudflare.APIError
	switch {
	case cloudflare.IsAuthentication(err):
		metrics.RecordAPIError("authentication")
		pass.authFailed[account] = true
		logger.Error("authentication rejected, skipping remaining units for account",
			"account", account, "error", err)
	case errors.Is(err, cloudflare.ErrNotFound):
		metrics.RecordAPIError("not_found")
		logger.Error("resource not found", "error", err)
	case errors.As(err, &apiErr):
		metrics.RecordAPIError("api")
		logger.Error("provider API error", "error", err)
	default:
		metrics.RecordAPIError("network")
		logger.Error("provider unreachable", "error", err)
	}
}

func (e *Engine) auditRotation(ctx context.Context, pass *passState, ev history.RotationEvent) {
	if e.history == nil {
		return
	}
	if err := e.history.RecordRotation(ctx, ev); err != nil {
		pass.logger.Error("failed to append rotation audit row", "error", err)
	}
}

func (e *Engine) auditTrigger(ctx context.Context, pass *passState, trig *config.Trigger, usageBytes int64) {
	if e.history == nil {
		return
	}
	ev := history.TriggerEvent{
		PassID:     pass.id,
		TriggerID:  trig.ID,
		Agent:      trig.Agent,
		Period:     trig.Period,
		UsageBytes: usageBytes,
	}
	if err := e.history.RecordTrigger(ctx, ev); err != nil {
		pass.logger.Error("failed to append trigger audit row", "error", err)
	}
}

func indexRecords(records []cloudflare.Record) map[string]*cloudflare.Record {
	byName := make(map[string]*cloudflare.Record, len(records))
	for i := range records {
		byName[records[i].Name] = &records[i]
	}
	return byName
}
