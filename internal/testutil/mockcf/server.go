package mockcf

import (
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi/v5"
)

// Server is a mock Cloudflare v4 API server for testing.
type Server struct {
	srv   *httptest.Server
	state *State
}

// New creates a new mock Cloudflare API server backed by in-memory state.
func New() *Server {
	s := NewDetached()
	s.srv = httptest.NewServer(s.Router())
	return s
}

// NewDetached creates a mock server without binding a listener. The caller
// serves s.Router() itself (used by the standalone mockcloudflare binary).
func NewDetached() *Server {
	return &Server{state: NewState()}
}

// Router returns the mock API's HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.authCheck)

	r.Get("/user/tokens/verify", s.handleVerifyToken)
	r.Get("/zones", s.handleListZones)
	r.Get("/zones/{zoneID}/dns_records", s.handleListRecords)
	r.Put("/zones/{zoneID}/dns_records/{recordID}", s.handleUpdateRecord)

	return r
}

// URL returns the base URL of the mock server.
func (s *Server) URL() string {
	return s.srv.URL
}

// Close shuts down the mock server.
func (s *Server) Close() {
	s.srv.Close()
}

// AddZone creates a zone and returns its ID.
func (s *Server) AddZone(domain string) string {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	id := fmt.Sprintf("%032x", s.state.nextZoneID)
	s.state.nextZoneID++
	s.state.zones[id] = &Zone{
		ID:     id,
		Name:   domain,
		Status: "active",
	}
	return id
}

// AddRecord creates a DNS record in a zone and returns its ID.
// Panics if the zone does not exist (test setup error).
func (s *Server) AddRecord(zoneID, name, recordType, content string) string {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	zone, ok := s.state.zones[zoneID]
	if !ok {
		panic("mockcf: AddRecord on unknown zone " + zoneID)
	}

	id := fmt.Sprintf("rec%029x", s.state.nextRecordID)
	s.state.nextRecordID++
	rec := &Record{
		ID:      id,
		ZoneID:  zoneID,
		Name:    name,
		Type:    recordType,
		Content: content,
		TTL:     300,
	}
	zone.Records = append(zone.Records, rec)
	return id
}

// RecordContent returns the current content of a record, or "" if missing.
func (s *Server) RecordContent(zoneID, name string) string {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	zone, ok := s.state.zones[zoneID]
	if !ok {
		return ""
	}
	for _, rec := range zone.Records {
		if rec.Name == name {
			return rec.Content
		}
	}
	return ""
}

// UpdateCount returns the number of successful record updates served.
func (s *Server) UpdateCount() int {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	return s.state.updateCount
}

// SetAuthFailure toggles rejecting every request with a 9109 error.
func (s *Server) SetAuthFailure(fail bool) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.failure.AuthFail = fail
}

// FailUpdatesFor makes updates of the given record ID return a 500.
func (s *Server) FailUpdatesFor(recordID string) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.failure.FailUpdateRecordIDs[recordID] = true
}
