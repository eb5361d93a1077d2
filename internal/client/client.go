// Package client is a thin HTTP client for the fleetvault API, used by the
// vaultctl operator CLI.
package client

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

	httphandler "github.com/ericfisherdev/fleetvault/internal/adapter/driving/http"
)

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	// Partial is set when a backfill stopped after committing some records.
	Partial *httphandler.BackfillResponse
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fleetvault api: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Client talks to a fleetvault server.
type Client struct {
	baseURL    string
	actor      string
	httpClient *http.Client
}

// New creates a Client for baseURL. actor is sent with every request and
// recorded in audit entries.
func New(baseURL, actor string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		actor:   actor,
		httpClient: &http.Client{
			// A full batch of 1000 records plus validation can take a while.
			Timeout: 5 * time.Minute,
		},
	}
}

// Health pings the liveness endpoint.
func (c *Client) Health(ctx context.Context) (httphandler.HealthResponse, error) {
	var out httphandler.HealthResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &out)
	return out, err
}

// Status fetches the migration aggregate.
func (c *Client) Status(ctx context.Context) (httphandler.StatusResponse, error) {
	var out httphandler.StatusResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/vault/status", nil, &out)
	return out, err
}

// Backfill runs one batch. A zero batchSize lets the server pick its default.
func (c *Client) Backfill(ctx context.Context, batchSize int) (httphandler.BackfillResponse, error) {
	var req httphandler.BackfillRequest
	if batchSize != 0 {
		req.BatchSize = &batchSize
	}
	var out httphandler.BackfillResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/vault/backfill", req, &out)
	return out, err
}

// Validate runs a validation sweep.
func (c *Client) Validate(ctx context.Context) (httphandler.ValidationResponse, error) {
	var out httphandler.ValidationResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/vault/validate", nil, &out)
	return out, err
}

// Revert reverts one credential, holding it on legacy encryption when hold is set.
func (c *Client) Revert(ctx context.Context, id string, hold bool) (httphandler.RevertResponse, error) {
	var out httphandler.RevertResponse
	path := "/api/v1/vault/credentials/" + url.PathEscape(id) + "/revert"
	err := c.do(ctx, http.MethodPost, path, httphandler.RevertRequest{Hold: hold}, &out)
	return out, err
}

// RetryFailed re-queues every failed credential.
func (c *Client) RetryFailed(ctx context.Context) (httphandler.RetryFailedResponse, error) {
	var out httphandler.RetryFailedResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/vault/retry-failed", nil, &out)
	return out, err
}

// Readiness fetches the cleanup go/no-go report.
func (c *Client) Readiness(ctx context.Context) (httphandler.ReadinessResponse, error) {
	var out httphandler.ReadinessResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/vault/readiness", nil, &out)
	return out, err
}

// Audit fetches up to limit audit events, newest first.
func (c *Client) Audit(ctx context.Context, limit int) ([]httphandler.AuditEventResponse, error) {
	var out []httphandler.AuditEventResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/vault/audit?limit="+strconv.Itoa(limit), nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.actor != "" {
		req.Header.Set(httphandler.ActorHeader, c.actor)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var errBody httphandler.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errBody); err == nil && errBody.Error != "" {
			apiErr.Message = errBody.Error
			apiErr.Partial = errBody.Partial
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
