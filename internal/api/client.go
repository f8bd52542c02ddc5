// Package api is the HTTP client for the Poultry360 backend.
//
// The client covers the four server surfaces the device depends on: a
// health probe, the sync push/pull pair, and the analytics dashboard and
// export endpoints. Wire types use the backend's server-assigned integer
// identifiers; mapping them onto local client rows is the store's job.
//
// Failures are classified so callers can decide whether to retry:
// transport-level problems surface as *NetworkError, non-2xx responses as
// *StatusError. The Retryable helper encodes the policy.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config controls how the client talks to the backend.
type Config struct {
	// BaseURL is the backend root, e.g. "https://api.poultry360.example".
	BaseURL string

	// APIKey is sent as a bearer token on every request. Empty means
	// unauthenticated (local development servers).
	APIKey string

	// HTTPClient is the underlying transport. If nil, a client with a
	// 30 second timeout is used.
	HTTPClient *http.Client
}

// Client talks to the Poultry360 REST backend.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a backend client from cfg.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    httpClient,
	}
}

// NetworkError wraps a transport-level failure: DNS, refused connection,
// timeout. These are always worth retrying.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error on %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// StatusError reports a non-2xx response from the backend. Body holds the
// beginning of the response body for diagnostics.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Body)
}

// Retryable reports whether err is worth retrying. Transport failures,
// timeouts, and server-side errors are; client errors are not, since the
// same request would fail the same way again.
func Retryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Status >= 500 {
			return true
		}
		return statusErr.Status == http.StatusRequestTimeout ||
			statusErr.Status == http.StatusTooManyRequests
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Health checks that the backend is reachable and answering.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil, nil)
}

// Push uploads the device's dirty rows and returns the backend's
// row-by-row acknowledgements.
func (c *Client) Push(ctx context.Context, req *PushRequest) (*PushResponse, error) {
	var resp PushResponse
	if err := c.do(ctx, http.MethodPost, "/api/sync/push", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull downloads the organization's server state. A zero since pulls
// everything; otherwise the backend may limit the response to rows changed
// at or after that instant.
func (c *Client) Pull(ctx context.Context, organizationID int64, since time.Time) (*PullResponse, error) {
	query := url.Values{}
	query.Set("organizationId", strconv.FormatInt(organizationID, 10))
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339))
	}

	var resp PullResponse
	if err := c.do(ctx, http.MethodGet, "/api/sync/pull", query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchDashboard retrieves the server-computed analytics snapshot for an
// organization.
func (c *Client) FetchDashboard(ctx context.Context, organizationID int64) (*Dashboard, error) {
	query := url.Values{}
	query.Set("organizationId", strconv.FormatInt(organizationID, 10))

	var dash Dashboard
	if err := c.do(ctx, http.MethodGet, "/api/analytics/dashboard", query, nil, &dash); err != nil {
		return nil, err
	}
	return &dash, nil
}

// Export asks the backend to render an analytics report and returns the
// raw document bytes (CSV or PDF depending on req.Format).
func (c *Client) Export(ctx context.Context, req *ExportRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode export request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/analytics/export", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build export request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Op: "POST /api/analytics/export", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read export body: %w", err)
	}
	return data, nil
}

// do runs one JSON round trip. body and out may each be nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newStatusError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func newStatusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		Status: resp.StatusCode,
		Body:   strings.TrimSpace(string(body)),
	}
}
