// Package mockagent provides a mock usage-monitoring agent server for
// testing the trigger evaluator.
package mockagent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
)

// Sample mirrors one usage entry in the agent's response.
type Sample struct {
	RX int64 `json:"rx"`
	TX int64 `json:"tx"`
}

// Server is a mock usage agent serving GET /usage_by_period.
type Server struct {
	srv *httptest.Server

	mu      sync.RWMutex
	apiKey  string
	data    map[string][]Sample // period -> samples
	failAll bool
}

// New creates a mock agent that requires the given API key.
func New(apiKey string) *Server {
	s := &Server{
		apiKey: apiKey,
		data:   make(map[string][]Sample),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/usage_by_period", s.handleUsageByPeriod)
	s.srv = httptest.NewServer(mux)
	return s
}

// URL returns the base URL of the mock agent.
func (s *Server) URL() string {
	return s.srv.URL
}

// Close shuts down the mock agent.
func (s *Server) Close() {
	s.srv.Close()
}

// SetSamples sets the sample series returned for a period.
func (s *Server) SetSamples(period string, samples ...Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[period] = samples
}

// SetFailAll makes every request return a 500.
func (s *Server) SetFailAll(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = fail
}

func (s *Server) handleUsageByPeriod(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failAll {
		http.Error(w, "agent exploded", http.StatusInternalServerError)
		return
	}
	if r.Header.Get("X-API-Key") != s.apiKey {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
		return
	}

	period := r.URL.Query().Get("period")
	samples := s.data[period]

	w.Header().Set("Content-Type", "application/json")
	//nolint:errcheck
	json.NewEncoder(w).Encode(map[string]interface{}{
		"period_title": periodTitle(period),
		"data":         samples,
	})
}

func periodTitle(period string) string {
	switch period {
	case "f":
		return "Five minutes"
	case "h":
		return "Hourly"
	case "d":
		return "Daily"
	case "m":
		return "Monthly"
	case "y":
		return "Yearly"
	case "t":
		return "Top"
	default:
		return "Unknown"
	}
}
