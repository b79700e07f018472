package mockcf

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
)

// apiEnvelope mirrors the Cloudflare v4 response wrapper.
type apiEnvelope struct {
	Success    bool        `json:"success"`
	Errors     []apiError  `json:"errors"`
	Messages   []string    `json:"messages"`
	Result     interface{} `json:"result"`
	ResultInfo *resultInfo `json:"result_info,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type resultInfo struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
	Count      int `json:"count"`
	TotalCount int `json:"total_count"`
}

// authCheck rejects requests without a bearer token, and every request when
// auth failure injection is active.
func (s *Server) authCheck(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || len(auth) <= len("Bearer ") {
			writeError(w, http.StatusUnauthorized, 10000, "Authentication error")
			return
		}

		s.state.mu.RLock()
		authFail := s.state.failure.AuthFail
		s.state.mu.RUnlock()
		if authFail {
			writeError(w, http.StatusForbidden, 9109, "Unauthorized to access requested resource")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleVerifyToken handles GET /user/tokens/verify.
func (s *Server) handleVerifyToken(w http.ResponseWriter, _ *http.Request) {
	writeResult(w, http.StatusOK, map[string]string{
		"id":     "mock-token-id",
		"status": "active",
	}, nil)
}

// handleListZones handles GET /zones. Zones are returned sorted by ID for
// deterministic ordering; pagination is reported as a single page.
func (s *Server) handleListZones(w http.ResponseWriter, _ *http.Request) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	zones := make([]*Zone, 0, len(s.state.zones))
	for _, zone := range s.state.zones {
		zones = append(zones, zone)
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].ID < zones[j].ID })

	writeResult(w, http.StatusOK, zones, &resultInfo{
		Page:       1,
		PerPage:    100,
		TotalPages: 1,
		Count:      len(zones),
		TotalCount: len(zones),
	})
}

// handleListRecords handles GET /zones/{zoneID}/dns_records.
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	zoneID := chi.URLParam(r, "zoneID")

	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	zone, ok := s.state.zones[zoneID]
	if !ok {
		writeError(w, http.StatusNotFound, 7003, "Could not route to /zones/"+zoneID+", perhaps your object identifier is invalid?")
		return
	}

	records := make([]*Record, len(zone.Records))
	copy(records, zone.Records)
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	writeResult(w, http.StatusOK, records, &resultInfo{
		Page:       1,
		PerPage:    100,
		TotalPages: 1,
		Count:      len(records),
		TotalCount: len(records),
	})
}

// handleUpdateRecord handles PUT /zones/{zoneID}/dns_records/{recordID}.
func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	zoneID := chi.URLParam(r, "zoneID")
	recordID := chi.URLParam(r, "recordID")

	var req struct {
		Name    string `json:"name"`
		Type    string `json:"type"`
		Content string `json:"content"`
		TTL     int    `json:"ttl"`
		Proxied bool   `json:"proxied"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, 9207, "Request body is invalid")
		return
	}
	if req.Name == "" || req.Type == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, 9100, "DNS record name, type and content are required")
		return
	}

	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	if s.state.failure.FailUpdateRecordIDs[recordID] {
		writeError(w, http.StatusInternalServerError, 10013, "Internal error")
		return
	}

	zone, ok := s.state.zones[zoneID]
	if !ok {
		writeError(w, http.StatusNotFound, 7003, "Zone not found")
		return
	}

	for _, rec := range zone.Records {
		if rec.ID == recordID {
			rec.Name = req.Name
			rec.Type = req.Type
			rec.Content = req.Content
			if req.TTL > 0 {
				rec.TTL = req.TTL
			}
			rec.Proxied = req.Proxied
			s.state.updateCount++
			writeResult(w, http.StatusOK, rec, nil)
			return
		}
	}

	writeError(w, http.StatusNotFound, 81044, "Record does not exist")
}

// writeResult writes a successful v4 envelope.
func writeResult(w http.ResponseWriter, status int, result interface{}, info *resultInfo) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck
	json.NewEncoder(w).Encode(apiEnvelope{
		Success:    true,
		Errors:     []apiError{},
		Messages:   []string{},
		Result:     result,
		ResultInfo: info,
	})
}

// writeError writes a failed v4 envelope with a single error entry.
func writeError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck
	json.NewEncoder(w).Encode(apiEnvelope{
		Success:  false,
		Errors:   []apiError{{Code: code, Message: message}},
		Messages: []string{},
	})
}
