// Package mockcf provides an in-memory mock Cloudflare v4 API server used
// in testing the rotation engine.
package mockcf

import "sync"

// Record represents a DNS record held by the mock server.
type Record struct {
	ID      string `json:"id"`
	ZoneID  string `json:"zone_id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

// Zone represents a DNS zone held by the mock server.
type Zone struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Status  string    `json:"status"`
	Records []*Record `json:"-"`
}

// FailureInjection controls deliberate failures for testing error paths.
type FailureInjection struct {
	// AuthFail makes every request return 403 with code 9109.
	AuthFail bool
	// FailUpdateRecordIDs lists record IDs whose update returns a 500.
	FailUpdateRecordIDs map[string]bool
}

// State holds the internal mock server state.
type State struct {
	mu           sync.RWMutex
	zones        map[string]*Zone
	nextZoneID   int
	nextRecordID int
	failure      FailureInjection
	updateCount  int
}

// NewState creates a new State instance for the mock server.
func NewState() *State {
	return &State{
		zones:        make(map[string]*Zone),
		nextZoneID:   1,
		nextRecordID: 1,
		failure: FailureInjection{
			FailUpdateRecordIDs: make(map[string]bool),
		},
	}
}
