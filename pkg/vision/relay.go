// Package vision describes images with a vision-capable model so that models
// without multimodal input can still answer questions about them.
package vision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/llm/provider"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/observe"
)

const (
	// DefaultModel is the vision model used when none is configured.
	DefaultModel = "grok-2-vision-latest"

	DefaultMaxRetries = 2
	DefaultBaseDelay  = time.Second
	DefaultTimeout    = 60 * time.Second

	// Temperature keeps descriptions close to deterministic.
	Temperature = 0.01

	describePrompt = "Describe this image carefully and in detail, including the main objects, scene, text, colors, and layout."

	// FailureNote stands in for a description when the relay fails, so the
	// turn can proceed without the image.
	FailureNote = "There was a problem processing the image. The image format may be unsupported, the image may be too large, or the network connection failed. I will try to answer your question, but I cannot analyze the image content."
)

// Poster sends a chat completion payload upstream.
type Poster interface {
	Post(ctx context.Context, payload any) (*http.Response, error)
}

// Config configures a Relay.
type Config struct {
	Client Poster
	Parser provider.Provider

	// Model defaults to DefaultModel.
	Model string

	// MaxRetries is the number of retries after the first attempt. Negative
	// means no retries; zero means DefaultMaxRetries.
	MaxRetries int

	// BaseDelay is multiplied by the retry number to get the wait before it.
	BaseDelay time.Duration

	// Timeout bounds each attempt.
	Timeout time.Duration

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Relay issues one-shot, non-streaming description requests.
type Relay struct {
	client     Poster
	parser     provider.Provider
	model      string
	maxRetries int
	baseDelay  time.Duration
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *observe.Metrics
}

// request is the description payload. Sampling fields other than temperature
// are left to the upstream defaults.
type request struct {
	Messages    []llm.Message `json:"messages"`
	Model       string        `json:"model"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
}

// New creates a Relay, filling unset fields with defaults.
func New(cfg Config) *Relay {
	r := &Relay{
		client:     cfg.Client,
		parser:     cfg.Parser,
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
		metrics:    observe.OrDefault(cfg.Metrics),
	}
	if r.model == "" {
		r.model = DefaultModel
	}
	switch {
	case r.maxRetries == 0:
		r.maxRetries = DefaultMaxRetries
	case r.maxRetries < 0:
		r.maxRetries = 0
	}
	if r.baseDelay <= 0 {
		r.baseDelay = DefaultBaseDelay
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.logger == nil {
		r.logger = logger.Nop()
	}
	return r
}

// Model returns the vision model in use.
func (r *Relay) Model() string {
	return r.model
}

// Describe asks the vision model to describe the images of the last message,
// including that message's text as the user's question. Earlier messages are
// sent unchanged as context. Only transport failures and 5xx responses are
// retried; every failure is returned as a *Error.
func (r *Relay) Describe(ctx context.Context, messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", &Error{Reason: ReasonNoInput, Err: errors.New("no messages to describe")}
	}

	payload := request{
		Messages:    describeMessages(messages),
		Model:       r.model,
		Stream:      false,
		Temperature: Temperature,
	}

	attempt := 0
	description, err := backoff.Retry(ctx,
		func() (string, error) {
			attempt++
			desc, err := r.attempt(ctx, payload)
			if err != nil && !err.Transient() {
				return "", backoff.Permanent(err)
			}
			if err != nil {
				return "", err
			}
			return desc, nil
		},
		backoff.WithBackOff(&linearBackOff{base: r.baseDelay}),
		backoff.WithMaxTries(uint(r.maxRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.metrics.VisionRetries.Add(ctx, 1)
			r.logger.Warn("retrying vision request",
				"model", r.model,
				"attempt", attempt,
				"wait", wait,
				"error", err,
			)
		}),
	)
	if err != nil {
		var verr *Error
		if errors.As(err, &verr) {
			return "", verr
		}
		return "", &Error{Reason: ReasonTransport, Err: err}
	}

	r.logger.Debug("vision description generated", "model", r.model, "attempts", attempt, "chars", len(description))
	return description, nil
}

// attempt returns a typed *Error rather than error so the caller can
// classify it without unwrapping.
func (r *Relay) attempt(ctx context.Context, payload request) (string, *Error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.Post(ctx, payload)
	if err != nil {
		return "", &Error{Reason: ReasonTransport, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Status: resp.StatusCode, Reason: ReasonTransport, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &Error{
			Status: resp.StatusCode,
			Reason: ReasonStatus,
			Err:    fmt.Errorf("vision model request failed: %d %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	parsed, err := r.parser.ParseResponse(body)
	if err != nil {
		return "", &Error{Status: resp.StatusCode, Reason: ReasonMalformed, Err: err}
	}
	if parsed.HasError() {
		return "", &Error{Status: resp.StatusCode, Reason: ReasonUpstreamError, Err: errors.New(string(parsed.Error))}
	}

	description := strings.TrimSpace(r.parser.ExtractMessage(parsed, true))
	if description == "" {
		return "", &Error{Status: resp.StatusCode, Reason: ReasonEmpty, Err: errors.New("vision model returned empty description")}
	}
	return description, nil
}

// describeMessages rewrites the last message into a description instruction
// that keeps its image parts.
func describeMessages(messages []llm.Message) []llm.Message {
	last := messages[len(messages)-1]

	prompt := describePrompt
	if question := strings.TrimSpace(last.GetText()); question != "" {
		prompt += "\n\nUser question: " + question
	}

	parts := llm.PartSequence{llm.TextPart(prompt)}
	if seq, ok := last.Content.(llm.PartSequence); ok {
		parts = append(parts, seq.Images()...)
	}

	out := make([]llm.Message, 0, len(messages))
	out = append(out, messages[:len(messages)-1]...)
	return append(out, llm.Message{Role: last.Role, Content: parts})
}
