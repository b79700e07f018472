// Package state persists the engine's two mutable documents: rotation
// cursors/timestamps and fired-trigger timestamps. Writes are crash-safe
// (write-then-rename); corrupt or missing documents reset to empty.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rotodns/rotodns/internal/schedule"
)

const (
	rotationStatusFile = "rotation_status.json"
	engineStateFile    = "engine_state.json"
)

// RotationStatus maps rotation-unit keys ("<zoneID>_<name>") to the unit's
// last-rotated-at time in epoch seconds.
type RotationStatus map[string]int64

// UnitKey builds the rotation-status key for a record or group in a zone.
func UnitKey(zoneID, name string) string {
	return zoneID + "_" + name
}

// LastRotated returns the unit's last rotation time, or the zero time if it
// has never rotated (so first runs always fire).
func (rs RotationStatus) LastRotated(key string) time.Time {
	sec, ok := rs[key]
	if !ok {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// GlobalRotation is a multi-record rotation unit whose configuration and
// mutable cursor are colocated and persisted together.
type GlobalRotation struct {
	Account       string             `json:"account"`
	ZoneID        string             `json:"zone_id"`
	Records       []string           `json:"records"`
	Pool          []string           `json:"pool"`
	Schedule      *schedule.Schedule `json:"schedule,omitempty"`
	RotationIndex int                `json:"rotation_index"`
	LastRotatedAt int64              `json:"last_rotated_at"`
}

// EngineState is the second state document: global rotations and fired
// triggers.
type EngineState struct {
	GlobalRotations map[string]*GlobalRotation `json:"global_rotations"`
	FiredTriggers   map[string]string          `json:"fired_triggers"`
}

// NewEngineState returns an empty engine state with initialized maps.
func NewEngineState() *EngineState {
	return &EngineState{
		GlobalRotations: make(map[string]*GlobalRotation),
		FiredTriggers:   make(map[string]string),
	}
}

// Store reads and writes the state documents under a directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates the state directory if needed and returns a store.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger}, nil
}

// LoadRotationStatus reads the rotation status document. A missing file
// yields an empty map; a corrupt file is logged and also yields an empty
// map rather than aborting the pass.
func (s *Store) LoadRotationStatus() RotationStatus {
	path := filepath.Join(s.dir, rotationStatusFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("failed to read rotation status, starting empty", "path", path, "error", err)
		}
		return make(RotationStatus)
	}

	var status RotationStatus
	if err := json.Unmarshal(data, &status); err != nil {
		s.logger.Error("corrupt rotation status, starting empty", "path", path, "error", err)
		return make(RotationStatus)
	}
	if status == nil {
		status = make(RotationStatus)
	}
	return status
}

// SaveRotationStatus persists the rotation status document atomically.
func (s *Store) SaveRotationStatus(status RotationStatus) error {
	return s.writeDocument(rotationStatusFile, status)
}

// LoadEngineState reads the engine state document with the same tolerance
// as LoadRotationStatus.
func (s *Store) LoadEngineState() *EngineState {
	path := filepath.Join(s.dir, engineStateFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("failed to read engine state, starting empty", "path", path, "error", err)
		}
		return NewEngineState()
	}

	var es EngineState
	if err := json.Unmarshal(data, &es); err != nil {
		s.logger.Error("corrupt engine state, starting empty", "path", path, "error", err)
		return NewEngineState()
	}
	if es.GlobalRotations == nil {
		es.GlobalRotations = make(map[string]*GlobalRotation)
	}
	if es.FiredTriggers == nil {
		es.FiredTriggers = make(map[string]string)
	}
	return &es
}

// SaveEngineState persists the engine state document atomically.
func (s *Store) SaveEngineState(es *EngineState) error {
	return s.writeDocument(engineStateFile, es)
}

// writeDocument marshals v and replaces the named document via a temp file
// in the same directory followed by rename, so readers never observe a
// partial write.
func (s *Store) writeDocument(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		//nolint:errcheck
		tmp.Close()
		//nolint:errcheck
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		//nolint:errcheck
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close %s: %w", name, err)
	}

	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		//nolint:errcheck
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}
