package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// RemoteAgent fetches usage from a monitoring agent's HTTP API:
// GET {base}/usage_by_period?period={f|h|d|m|y|t} with an X-API-Key header,
// returning {"period_title": ..., "data": [{"rx": n, "tx": n}, ...]} where
// the last element of data is the latest sample.
type RemoteAgent struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// RemoteOption configures a RemoteAgent.
type RemoteOption func(*RemoteAgent)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(a *RemoteAgent) {
		a.httpClient = client
	}
}

// NewRemoteAgent creates a usage source backed by a remote agent.
func NewRemoteAgent(name, baseURL, apiKey string, opts ...RemoteOption) *RemoteAgent {
	a := &RemoteAgent{
		name:       name,
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements Source.
func (a *RemoteAgent) Name() string {
	return a.name
}

// usageResponse is the agent's /usage_by_period response body.
type usageResponse struct {
	PeriodTitle string   `json:"period_title"`
	Data        []Sample `json:"data"`
}

// FetchUsage implements Source.
//
// The agent API has no weekly granularity, so weekly triggers query daily
// data and sum the trailing 7 samples; daily and monthly use the last
// sample only.
func (a *RemoteAgent) FetchUsage(ctx context.Context, period string) (Sample, error) {
	queryPeriod := period
	if period == "w" {
		queryPeriod = "d"
	}

	query := url.Values{}
	query.Set("period", queryPeriod)
	endpoint := a.baseURL + "/usage_by_period?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Sample{}, err
	}
	req.Header.Set("X-API-Key", a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Sample{}, fmt.Errorf("agent %s unreachable: %w", a.name, err)
	}
	defer func() {
		//nolint:errcheck
		resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Sample{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return Sample{}, fmt.Errorf("agent %s returned status %d", a.name, resp.StatusCode)
	}

	var result usageResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return Sample{}, fmt.Errorf("agent %s: failed to decode usage: %w", a.name, err)
	}
	if len(result.Data) == 0 {
		return Sample{}, fmt.Errorf("agent %s returned no usage data", a.name)
	}

	if period == "w" {
		start := len(result.Data) - 7
		if start < 0 {
			start = 0
		}
		var sum Sample
		for _, s := range result.Data[start:] {
			sum.RX += s.RX
			sum.TX += s.TX
		}
		return sum, nil
	}

	return result.Data[len(result.Data)-1], nil
}
