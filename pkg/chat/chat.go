// Package chat is the client entry point for one chat turn. It builds the
// upstream payload and either streams the reply through a stream.Engine or
// makes a single non-streaming call.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/llm/capability"
	"github.com/papercomputeco/relay/pkg/llm/provider"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/observe"
	"github.com/papercomputeco/relay/pkg/request"
	"github.com/papercomputeco/relay/pkg/stream"
	"github.com/papercomputeco/relay/pkg/tool"
)

// maxResponseBody caps a non-streaming response.
const maxResponseBody = 16 << 20

// Builder assembles the payload of a turn.
type Builder interface {
	Build(ctx context.Context, messages []llm.Message, cfg request.ModelConfig) (*llm.RequestPayload, error)
}

// Options describe one turn.
type Options struct {
	Messages []llm.Message
	Config   request.ModelConfig

	// SkipReasoning drops reasoning from non-streaming replies, for summary
	// and topic requests.
	SkipReasoning bool

	Callbacks stream.Callbacks
}

// Config configures a Client.
type Config struct {
	Upstream stream.Poster
	Provider provider.Provider
	Builder  Builder
	Gate     *capability.Gate

	// Tools are offered to the model on streaming turns when non-empty.
	Tools *tool.Registry

	// Ticker overrides the smoothing ticker of streaming turns.
	Ticker func() stream.Ticker

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Client runs chat turns.
type Client struct {
	upstream stream.Poster
	provider provider.Provider
	builder  Builder
	gate     *capability.Gate
	tools    *tool.Registry
	ticker   func() stream.Ticker
	logger   *slog.Logger
	metrics  *observe.Metrics
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.Gate == nil {
		cfg.Gate = capability.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &Client{
		upstream: cfg.Upstream,
		provider: cfg.Provider,
		builder:  cfg.Builder,
		gate:     cfg.Gate,
		tools:    cfg.Tools,
		ticker:   cfg.Ticker,
		logger:   cfg.Logger,
		metrics:  observe.OrDefault(cfg.Metrics),
	}
}

// Chat runs one turn. Progress and the outcome are reported through
// opts.Callbacks; the returned error is the one passed to OnError, or nil.
func (c *Client) Chat(ctx context.Context, opts Options) error {
	cb := opts.Callbacks

	payload, err := c.builder.Build(ctx, opts.Messages, opts.Config)
	if err != nil {
		err = fmt.Errorf("building request: %w", err)
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return err
	}

	c.logger.Debug("starting chat turn",
		"model", payload.Model,
		"stream", payload.Stream,
		"messages", len(payload.Messages),
	)

	if payload.Stream {
		return c.stream(ctx, payload, cb)
	}
	return c.complete(ctx, payload, opts.SkipReasoning, cb)
}

func (c *Client) stream(ctx context.Context, payload *llm.RequestPayload, cb stream.Callbacks) error {
	cfg := stream.Config{
		Client:  c.upstream,
		Parser:  c.provider,
		Timeout: c.gate.RequestTimeout(payload.Model),
		Logger:  c.logger,
		Metrics: c.metrics,
	}
	if c.tools != nil && c.tools.Len() > 0 {
		cfg.Tools = c.tools
		cfg.ToolSpecs = c.tools.Specs()
	}
	if c.ticker != nil {
		cfg.Ticker = c.ticker()
	}

	return stream.New(cfg, payload, cb).Run(ctx)
}

// complete runs the non-streaming path: one request bounded by the model's
// timeout, and the extracted message passed to OnFinish.
func (c *Client) complete(ctx context.Context, payload *llm.RequestPayload, skipReasoning bool, cb stream.Callbacks) error {
	ctx, cancel := context.WithTimeout(ctx, c.gate.RequestTimeout(payload.Model))
	defer cancel()

	if cb.OnController != nil {
		cb.OnController(cancel)
	}

	fail := func(err error) error {
		c.logger.Debug("chat turn failed", "error", err)
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return err
	}

	resp, err := c.upstream.Post(ctx, payload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fail(stream.ErrTimeout)
		}
		return fail(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fail(fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fail(fmt.Errorf("upstream returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	parsed, err := c.provider.ParseResponse(body)
	if err != nil {
		return fail(err)
	}

	text := c.provider.ExtractMessage(parsed, skipReasoning)
	if cb.OnFinish != nil {
		cb.OnFinish(text, resp)
	}
	return nil
}
