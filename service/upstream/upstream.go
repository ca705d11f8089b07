// Package upstream holds the HTTP plumbing shared by the third-party API
// clients (Helius, Jupiter, Dexscreener, Gemini, Resend).
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/owfn/service/metrics"
)

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 4 << 10

// ErrNotConfigured is returned when a client is used without its API key.
var ErrNotConfigured = errors.New("upstream not configured")

// Error is a non-2xx response from a third-party API.
type Error struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s request failed with status %d", e.Service, e.StatusCode)
}

// StatusCode returns the upstream status if err wraps an *Error, else 0.
func StatusCode(err error) int {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.StatusCode
	}
	return 0
}

// Client performs requests against one third-party service and records
// metrics per operation.
type Client struct {
	service string
	http    *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewClient creates a client for service. A nil httpClient gets a 30s timeout.
func NewClient(service string, httpClient *http.Client, logger *slog.Logger, m *metrics.Metrics) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{service: service, http: httpClient, logger: logger, metrics: m}
}

// Service returns the service name used in errors and metrics.
func (c *Client) Service() string { return c.service }

// Do sends req and returns the response when the status is 2xx. On any other
// status the body is drained into an *Error. The caller closes the body.
func (c *Client) Do(req *http.Request, operation string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(operation, err, start)
		c.logger.ErrorContext(req.Context(), "upstream request failed",
			"service", c.service,
			"operation", operation,
			"error", err,
		)
		return nil, fmt.Errorf("%s request failed: %w", c.service, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		uerr := &Error{Service: c.service, StatusCode: resp.StatusCode, Body: string(body)}
		c.record(operation, uerr, start)
		c.logger.ErrorContext(req.Context(), "upstream returned error status",
			"service", c.service,
			"operation", operation,
			"status", resp.StatusCode,
			"body", uerr.Body,
		)
		return nil, uerr
	}

	c.record(operation, nil, start)
	return resp, nil
}

// DoJSON sends req and decodes a 2xx JSON body into out.
func (c *Client) DoJSON(req *http.Request, operation string, out any) error {
	resp, err := c.Do(req, operation)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", c.service, err)
	}
	return nil
}

// PostJSON marshals body and POSTs it to url, decoding the response into out.
func (c *Client) PostJSON(ctx context.Context, url, operation string, header http.Header, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.DoJSON(req, operation, out)
}

// GetJSON GETs url and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, url, operation string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.DoJSON(req, operation, out)
}

// GetRaw GETs url and returns the response body, for callers that pluck
// fields with gjson instead of decoding into structs.
func (c *Client) GetRaw(ctx context.Context, url, operation string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.Do(req, operation)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", c.service, err)
	}
	return body, nil
}

func (c *Client) record(operation string, err error, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordUpstreamCall(c.service, operation, err, time.Since(start).Seconds())
	}
}
