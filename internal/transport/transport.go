// Package transport sends finished tracking parameter sets to the Matomo
// Tracking HTTP API.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shortontech/gomatomo/internal/params"
)

// Transport delivers tracking requests.
type Transport interface {
	Send(ctx context.Context, p params.Params) (*Response, error)
	SendBulk(ctx context.Context, batch []params.Params, authToken string) (*Response, error)
}

// Response is what the collector answered.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError is returned for non-2xx answers.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("matomo responded with status %d", e.StatusCode)
}

// Config configures an HTTP transport.
type Config struct {
	// Endpoint is the absolute tracking URL, e.g. https://matomo.example.com/matomo.php
	Endpoint string
	// Proxy is an optional outbound proxy URL.
	Proxy     string
	Timeout   time.Duration
	UserAgent string
}

// HTTP is the net/http implementation of Transport.
type HTTP struct {
	endpoint  *url.URL
	client    *http.Client
	userAgent string
}

// NewHTTP validates cfg and builds an HTTP transport.
func NewHTTP(cfg Config) (*HTTP, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid tracking endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid tracking endpoint %q: scheme and host required", cfg.Endpoint)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != "" {
		pu, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		tr.Proxy = http.ProxyURL(pu)
	}

	return &HTTP{
		endpoint:  u,
		client:    &http.Client{Timeout: timeout, Transport: tr},
		userAgent: cfg.UserAgent,
	}, nil
}

// NewHTTPWithClient uses client as is; intended for tests and callers that
// manage their own connection pool.
func NewHTTPWithClient(endpoint string, client *http.Client) (*HTTP, error) {
	h, err := NewHTTP(Config{Endpoint: endpoint})
	if err != nil {
		return nil, err
	}
	h.client = client
	return h, nil
}

// Send POSTs p as the query string of the tracking endpoint.
func (h *HTTP) Send(ctx context.Context, p params.Params) (*Response, error) {
	u := *h.endpoint
	u.RawQuery = p.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracking request: %w", err)
	}
	return h.do(req)
}

type bulkBody struct {
	Requests  []string `json:"requests"`
	AuthToken string   `json:"token_auth,omitempty"`
}

// SendBulk POSTs batch as one bulk tracking request. Each entry is sent as
// a "?query" string, the format the bulk API expects.
func (h *HTTP) SendBulk(ctx context.Context, batch []params.Params, authToken string) (*Response, error) {
	body := bulkBody{Requests: make([]string, 0, len(batch)), AuthToken: authToken}
	for _, p := range batch {
		body.Requests = append(body.Requests, "?"+p.Encode())
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bulk request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint.String(), bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("failed to create bulk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return h.do(req)
}

func (h *HTTP) do(req *http.Request) (*Response, error) {
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tracking request to %s failed: %w", h.endpoint.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read tracking response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}
