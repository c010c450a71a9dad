// Package upstream sends chat completion requests to the provider, either
// directly or through a relay.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/observe"
)

const (
	// DefaultBaseURL is the xAI API.
	DefaultBaseURL = "https://api.x.ai"

	// RelayPrefix is the route prefix under which the relay server forwards
	// upstream paths. A base URL starting with it is kept relative.
	RelayPrefix = "/api/xai"

	// ChatPath is the chat completions endpoint, relative to the base URL.
	ChatPath = "v1/chat/completions"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the provider or relay base. Empty means DefaultBaseURL.
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// HTTPClient defaults to a client without an overall timeout; deadlines
	// come from the request context.
	HTTPClient *http.Client

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Client posts JSON payloads to the chat completions endpoint.
type Client struct {
	base    string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
	metrics *observe.Metrics
}

// New creates a Client from cfg.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	return &Client{
		base:    ResolveBase(cfg.BaseURL),
		apiKey:  cfg.APIKey,
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
		metrics: observe.OrDefault(cfg.Metrics),
	}
}

// ResolveBase normalizes a configured base URL: one trailing slash is
// trimmed, and "https://" is prefixed unless the base already has an http
// scheme or is the relative relay prefix.
func ResolveBase(base string) string {
	if base == "" {
		base = DefaultBaseURL
	}
	base = strings.TrimSuffix(base, "/")
	if !strings.HasPrefix(base, "http") && !strings.HasPrefix(base, RelayPrefix) {
		base = "https://" + base
	}
	return base
}

// Path joins p onto the resolved base URL.
func (c *Client) Path(p string) string {
	return c.base + "/" + strings.TrimPrefix(p, "/")
}

// Post sends payload as JSON to the chat completions endpoint. The caller owns
// the response body. Any status is returned without error; only transport and
// encoding failures are errors.
func (c *Client) Post(ctx context.Context, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request payload: %w", err)
	}

	url := c.Path(ChatPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("posting to upstream", "url", url, "bytes", len(body))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordUpstream(ctx, "client", resp.StatusCode, time.Since(start).Seconds())

	return resp, nil
}
