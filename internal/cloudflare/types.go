package cloudflare

import "encoding/json"

// Zone represents a DNS zone as returned by the Cloudflare v4 API.
type Zone struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Paused bool   `json:"paused"`
}

// Record represents a DNS record as returned by the Cloudflare v4 API.
// Only the fields the rotation engine needs are modeled.
type Record struct {
	ID      string `json:"id"`
	ZoneID  string `json:"zone_id,omitempty"`
	Name    string `json:"name"`
	Type    string `json:"type"` // A, AAAA, CNAME, ...
	Content string `json:"content"`
	TTL     int    `json:"ttl,omitempty"`
	Proxied bool   `json:"proxied"`
}

// UpdateRecordRequest is the request body for PUT /zones/{id}/dns_records/{rid}.
type UpdateRecordRequest struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"`
	TTL     int    `json:"ttl,omitempty"`
	Proxied bool   `json:"proxied"`
}

// ErrorDetail is a single entry of the "errors" array in a v4 API envelope.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ResultInfo carries pagination metadata in list responses.
type ResultInfo struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
	Count      int `json:"count"`
	TotalCount int `json:"total_count"`
}

// envelope is the standard Cloudflare v4 response wrapper.
type envelope struct {
	Success    bool            `json:"success"`
	Errors     []ErrorDetail   `json:"errors"`
	Result     json.RawMessage `json:"result"`
	ResultInfo *ResultInfo     `json:"result_info"`
}
