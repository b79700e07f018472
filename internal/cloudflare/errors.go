// Package cloudflare provides a client for the Cloudflare v4 DNS API.
package cloudflare

import (
	"errors"
	"fmt"
)

// API error codes that indicate an authentication or permission problem
// rather than a transient failure.
const (
	codeMissingPermission = 9109
	codeAuthError         = 10000
)

// APIError represents a structured error from the Cloudflare API.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("cloudflare: error %d (status %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("cloudflare: request failed (status %d): %s", e.StatusCode, e.Message)
}

// Sentinel errors for common API error cases.
var (
	// ErrAuthentication indicates an invalid token or a token lacking the
	// permission required for the operation. Callers abort the remaining
	// operations for the affected account; the error is never retried
	// within a pass.
	ErrAuthentication = errors.New("cloudflare: authentication failed or token lacks permission")

	// ErrNotFound indicates the requested zone or record does not exist.
	ErrNotFound = errors.New("cloudflare: resource not found")
)

// IsAuthentication reports whether err is an authentication/permission
// failure, either the sentinel or an APIError carrying an auth error code.
func IsAuthentication(err error) bool {
	if errors.Is(err, ErrAuthentication) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == codeMissingPermission || apiErr.Code == codeAuthError
	}
	return false
}
