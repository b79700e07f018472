package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

const (
	// DefaultBaseURL is the default base URL for the Cloudflare v4 API.
	DefaultBaseURL = "https://api.cloudflare.com/client/v4"

	// recordsPerPage is the page size used when listing DNS records.
	recordsPerPage = 100
)

// Client is an HTTP client for the Cloudflare DNS API, authenticated with
// an account-scoped API token.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (useful for testing with mock server).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a new Cloudflare API client.
func NewClient(apiToken string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiToken:   apiToken,
		httpClient: http.DefaultClient,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// VerifyToken checks that the configured API token is valid and active.
// Returns ErrAuthentication for invalid or expired tokens.
func (c *Client) VerifyToken(ctx context.Context) error {
	env, err := c.do(ctx, http.MethodGet, "/user/tokens/verify", nil, nil)
	if err != nil {
		return err
	}

	var result struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return fmt.Errorf("failed to decode token verification: %w", err)
	}
	if result.Status != "active" {
		return fmt.Errorf("%w: token status %q", ErrAuthentication, result.Status)
	}

	return nil
}

// ListZones retrieves all zones the token can access, following pagination.
func (c *Client) ListZones(ctx context.Context) ([]Zone, error) {
	var zones []Zone

	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("per_page", strconv.Itoa(recordsPerPage))

		env, err := c.do(ctx, http.MethodGet, "/zones", query, nil)
		if err != nil {
			return nil, err
		}

		var batch []Zone
		if err := json.Unmarshal(env.Result, &batch); err != nil {
			return nil, fmt.Errorf("failed to decode zones: %w", err)
		}
		zones = append(zones, batch...)

		if env.ResultInfo == nil || page >= env.ResultInfo.TotalPages {
			break
		}
	}

	return zones, nil
}

// ListRecords retrieves all DNS records for a zone, following pagination.
func (c *Client) ListRecords(ctx context.Context, zoneID string) ([]Record, error) {
	var records []Record

	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("per_page", strconv.Itoa(recordsPerPage))

		path := fmt.Sprintf("/zones/%s/dns_records", url.PathEscape(zoneID))
		env, err := c.do(ctx, http.MethodGet, path, query, nil)
		if err != nil {
			return nil, err
		}

		var batch []Record
		if err := json.Unmarshal(env.Result, &batch); err != nil {
			return nil, fmt.Errorf("failed to decode records: %w", err)
		}
		records = append(records, batch...)

		if env.ResultInfo == nil || page >= env.ResultInfo.TotalPages {
			break
		}
	}

	return records, nil
}

// UpdateRecord replaces the content of an existing DNS record.
func (c *Client) UpdateRecord(ctx context.Context, zoneID, recordID string, req *UpdateRecordRequest) (*Record, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/zones/%s/dns_records/%s", url.PathEscape(zoneID), url.PathEscape(recordID))
	env, err := c.do(ctx, http.MethodPut, path, nil, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var record Record
	if err := json.Unmarshal(env.Result, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}

	return &record, nil
}

// do executes a single API request and decodes the v4 response envelope.
// Non-success envelopes and error status codes are classified via parseError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader) (*envelope, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		//nolint:errcheck
		resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		if resp.StatusCode >= 400 {
			return nil, parseError(resp.StatusCode, nil)
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if !env.Success || resp.StatusCode >= 400 {
		return nil, parseError(resp.StatusCode, env.Errors)
	}

	return &env, nil
}

// parseError classifies API error responses.
func parseError(statusCode int, details []ErrorDetail) error {
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return ErrAuthentication
	}

	if len(details) > 0 {
		d := details[0]
		if d.Code == codeMissingPermission || d.Code == codeAuthError {
			return fmt.Errorf("%w: %s (code %d)", ErrAuthentication, d.Message, d.Code)
		}
		if statusCode == http.StatusNotFound {
			return ErrNotFound
		}
		return &APIError{StatusCode: statusCode, Code: d.Code, Message: d.Message}
	}

	if statusCode == http.StatusNotFound {
		return ErrNotFound
	}

	return &APIError{StatusCode: statusCode, Message: "request failed"}
}
