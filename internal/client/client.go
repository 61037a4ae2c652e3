// Package client talks to the pricing calculator API over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pricewise/api/internal/pricing"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// APIError is returned for any non-2xx response. Detail carries the server's
// "detail" field when the body has one.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("api returned HTTP %d: %s", e.Status, e.Detail)
}

// Client is a pricing calculator API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = &http.Client{Timeout: d} }
}

// New creates a client for the API rooted at baseURL, e.g.
// "http://localhost:8080/api".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GSTRates fetches the GST rate catalog.
func (c *Client) GSTRates(ctx context.Context) (pricing.RateCatalog, error) {
	var catalog pricing.RateCatalog
	if err := c.do(ctx, http.MethodGet, "/gst-rates", nil, &catalog); err != nil {
		return pricing.RateCatalog{}, fmt.Errorf("fetching gst rates: %w", err)
	}
	return catalog, nil
}

// Calculate requests a single calculation.
func (c *Client) Calculate(ctx context.Context, in pricing.Input) (pricing.Result, error) {
	var result pricing.Result
	if err := c.do(ctx, http.MethodPost, "/calculate", in, &result); err != nil {
		return pricing.Result{}, fmt.Errorf("calculating: %w", err)
	}
	return result, nil
}

// CalculateBulk requests calculations for several products at once.
func (c *Client) CalculateBulk(ctx context.Context, inputs []pricing.Input) (pricing.BulkResult, error) {
	req := struct {
		Products []pricing.Input `json:"products"`
	}{Products: inputs}

	var result pricing.BulkResult
	if err := c.do(ctx, http.MethodPost, "/calculate-bulk", req, &result); err != nil {
		return pricing.BulkResult{}, fmt.Errorf("calculating bulk: %w", err)
	}
	return result, nil
}

// SaveCalculation stores a result in the server's history.
func (c *Client) SaveCalculation(ctx context.Context, result pricing.Result) (pricing.HistoryEntry, error) {
	var entry pricing.HistoryEntry
	if err := c.do(ctx, http.MethodPost, "/calculations", result, &entry); err != nil {
		return pricing.HistoryEntry{}, fmt.Errorf("saving calculation: %w", err)
	}
	return entry, nil
}

// ListCalculations fetches up to limit history entries, newest first. A
// non-positive limit uses the server default.
func (c *Client) ListCalculations(ctx context.Context, limit int) ([]pricing.HistoryEntry, error) {
	path := "/calculations"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}

	var entries []pricing.HistoryEntry
	if err := c.do(ctx, http.MethodGet, path, nil, &entries); err != nil {
		return nil, fmt.Errorf("listing calculations: %w", err)
	}
	return entries, nil
}

// DeleteCalculation removes a history entry.
func (c *Client) DeleteCalculation(ctx context.Context, id uuid.UUID) error {
	if err := c.do(ctx, http.MethodDelete, "/calculations/"+id.String(), nil, nil); err != nil {
		return fmt.Errorf("deleting calculation %s: %w", id, err)
	}
	return nil
}

// do sends body as JSON (when non-nil) and decodes a 2xx response into out
// (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return apiErr
	}

	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(raw, &body) != nil || len(body.Detail) == 0 {
		return apiErr
	}

	// detail is usually a string but some frameworks send structured details.
	var s string
	if json.Unmarshal(body.Detail, &s) == nil {
		apiErr.Detail = s
	} else {
		apiErr.Detail = string(body.Detail)
	}
	return apiErr
}
