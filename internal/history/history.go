// Package history persists an audit log of rotation passes: every record
// update and trigger firing goes into a SQLite database so operators can
// reconstruct what the engine did and when.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed audit log.
type Store struct {
	db *sql.DB
}

// RotationEvent is one DNS record change made by the engine.
type RotationEvent struct {
	ID         int64
	PassID     string
	Account    string
	ZoneID     string
	RecordName string
	Strategy   string // "cycle", "shift" or "global"
	OldContent string
	NewContent string
	Outcome    string // "success" or "failure"
	Detail     string
	CreatedAt  time.Time
}

// TriggerEvent is one trigger firing.
type TriggerEvent struct {
	ID         int64
	PassID     string
	TriggerID  string
	Agent      string
	Period     string
	UsageBytes int64
	CreatedAt  time.Time
}

// New opens (or creates) the audit database at dbPath and initializes the
// schema. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	// WAL mode tolerates the engine writing while an operator reads.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// modernc.org/sqlite requires a single connection for in-process file
	// databases to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	return &Store{db: db}, nil
}

// initSchema creates the audit tables. Idempotent.
func initSchema(db *sql.DB) error {
	ddlStatements := []string{
		`CREATE TABLE IF NOT EXISTS rotation_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pass_id TEXT NOT NULL,
			account TEXT NOT NULL,
			zone_id TEXT NOT NULL,
			record_name TEXT NOT NULL,
			strategy TEXT NOT NULL,
			old_content TEXT NOT NULL,
			new_content TEXT NOT NULL,
			outcome TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_rotation_events_record
			ON rotation_events(zone_id, record_name)`,

		`CREATE INDEX IF NOT EXISTS idx_rotation_events_pass
			ON rotation_events(pass_id)`,

		`CREATE TABLE IF NOT EXISTS trigger_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pass_id TEXT NOT NULL,
			trigger_id TEXT NOT NULL,
			agent TEXT NOT NULL,
			period TEXT NOT NULL,
			usage_bytes INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_trigger_events_trigger
			ON trigger_events(trigger_id)`,
	}

	for _, stmt := range ddlStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute DDL: %w", err)
		}
	}
	return nil
}

// RecordRotation appends one rotation event.
func (s *Store) RecordRotation(ctx context.Context, ev RotationEvent) error {
	query := `INSERT INTO rotation_events
		(pass_id, account, zone_id, record_name, strategy, old_content, new_content, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		ev.PassID, ev.Account, ev.ZoneID, ev.RecordName, ev.Strategy,
		ev.OldContent, ev.NewContent, ev.Outcome, ev.Detail)
	if err != nil {
		return fmt.Errorf("failed to record rotation event: %w", err)
	}
	return nil
}

// RecordTrigger appends one trigger firing.
func (s *Store) RecordTrigger(ctx context.Context, ev TriggerEvent) error {
	query := `INSERT INTO trigger_events
		(pass_id, trigger_id, agent, period, usage_bytes)
		VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		ev.PassID, ev.TriggerID, ev.Agent, ev.Period, ev.UsageBytes)
	if err != nil {
		return fmt.Errorf("failed to record trigger event: %w", err)
	}
	return nil
}

// RecentRotations returns up to limit rotation events, newest first.
func (s *Store) RecentRotations(ctx context.Context, limit int) ([]RotationEvent, error) {
	query := `SELECT id, pass_id, account, zone_id, record_name, strategy,
		old_content, new_content, outcome, detail, created_at
		FROM rotation_events ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rotation events: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var events []RotationEvent
	for rows.Next() {
		var ev RotationEvent
		if err := rows.Scan(&ev.ID, &ev.PassID, &ev.Account, &ev.ZoneID,
			&ev.RecordName, &ev.Strategy, &ev.OldContent, &ev.NewContent,
			&ev.Outcome, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rotation event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// RecentTriggers returns up to limit trigger events, newest first.
func (s *Store) RecentTriggers(ctx context.Context, limit int) ([]TriggerEvent, error) {
	query := `SELECT id, pass_id, trigger_id, agent, period, usage_bytes, created_at
		FROM trigger_events ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trigger events: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var events []TriggerEvent
	for rows.Next() {
		var ev TriggerEvent
		if err := rows.Scan(&ev.ID, &ev.PassID, &ev.TriggerID, &ev.Agent,
			&ev.Period, &ev.UsageBytes, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trigger event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
