// Package stream reassembles a streamed chat completion into text for a UI.
//
// An Engine drives one turn through an explicit state machine:
//
//	STREAMING ──[DONE]/close──▶ TOOL_EXECUTION ──60ms──▶ STREAMING ─ ... ─▶ FINISHED
//	    └──────────────────────────── no tool calls / error / cancel ────────▲
//
// A single loop goroutine owns all turn state. It selects over events from a
// reader goroutine, a frame ticker that drains buffered text to OnUpdate at a
// steady pace, and context cancellation.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/llm/capability"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/observe"
	"github.com/papercomputeco/relay/pkg/tool"
)

// State is a step of the turn state machine.
type State int

const (
	StateStreaming State = iota
	StateToolExecution
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "STREAMING"
	case StateToolExecution:
		return "TOOL_EXECUTION"
	case StateFinished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

const (
	// DefaultRestartDelay separates a tool round from the next stream.
	DefaultRestartDelay = 60 * time.Millisecond

	// FrameInterval is the default smoothing tick, about 60 per second.
	FrameInterval = 16 * time.Millisecond

	// framesPerBuffer spreads the pending text over roughly a second of frames.
	framesPerBuffer = 60

	// UnauthorizedNotice is added to the error text of a 401 response.
	UnauthorizedNotice = "Unauthorized access, please check that a valid API key is configured."
)

var (
	// ErrEmptyResponse is reported when a turn finishes without any text.
	ErrEmptyResponse = errors.New("empty response from server")

	// ErrTimeout is reported when response headers did not arrive in time
	// and no text had been produced.
	ErrTimeout = errors.New("timed out waiting for response headers")
)

// Poster sends the payload upstream.
type Poster interface {
	Post(ctx context.Context, payload any) (*http.Response, error)
}

// Parser decodes the data of one stream event.
type Parser interface {
	ParseStreamEvent(data []byte, frags *llm.ToolCallFragments) (llm.StreamChunk, error)
}

// ToolInvoker runs one tool call.
type ToolInvoker interface {
	Invoke(ctx context.Context, call llm.ToolCall) (tool.Output, error)
}

// Ticker paces the smoothing drain. *time.Ticker satisfies it through
// NewTicker; tests substitute a manual one.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTicker returns a Ticker firing every d.
func NewTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// ToolResult is passed to OnAfterTool.
type ToolResult struct {
	llm.ToolCall
	Content  string
	IsError  bool
	ErrorMsg string
}

// Callbacks receive turn progress. All callbacks run on the engine's loop
// goroutine and any may be nil. Exactly one of OnFinish and OnError is
// called, once, when the turn ends.
type Callbacks struct {
	// OnUpdate receives the cumulative emitted text and the newly drained
	// slice.
	OnUpdate func(full, delta string)

	OnFinish func(text string, resp *http.Response)
	OnError  func(err error)

	// OnController receives a function that aborts the turn. Aborting
	// finishes with the text received so far.
	OnController func(cancel context.CancelFunc)

	OnBeforeTool func(call llm.ToolCall)
	OnAfterTool  func(result ToolResult)
}

// Config configures an Engine.
type Config struct {
	Client Poster
	Parser Parser

	// Tools runs the calls the model requests. ToolSpecs are advertised in
	// the payload when non-empty.
	Tools     ToolInvoker
	ToolSpecs []llm.ToolSpec

	// Ticker defaults to NewTicker(FrameInterval).
	Ticker Ticker

	// Timeout bounds the wait for response headers of each round.
	Timeout time.Duration

	// RestartDelay defaults to DefaultRestartDelay.
	RestartDelay time.Duration

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Engine runs a single turn. It must not be reused.
type Engine struct {
	client       Poster
	parser       Parser
	tools        ToolInvoker
	ticker       Ticker
	timeout      time.Duration
	restartDelay time.Duration
	logger       *slog.Logger
	metrics      *observe.Metrics

	payload *llm.RequestPayload
	cb      Callbacks

	emitted strings.Builder
	pending []rune
	frags   llm.ToolCallFragments

	inThinking   bool
	lastThinking bool
	tagged       bool

	resp     *http.Response
	err      error
	timedOut bool
}

// New prepares an Engine for payload. The payload is mutated in place when
// tool rounds append messages.
func New(cfg Config, payload *llm.RequestPayload, cb Callbacks) *Engine {
	e := &Engine{
		client:       cfg.Client,
		parser:       cfg.Parser,
		tools:        cfg.Tools,
		ticker:       cfg.Ticker,
		timeout:      cfg.Timeout,
		restartDelay: cfg.RestartDelay,
		logger:       cfg.Logger,
		metrics:      observe.OrDefault(cfg.Metrics),
		payload:      payload,
		cb:           cb,
	}
	if e.timeout <= 0 {
		e.timeout = capability.DefaultTimeout
	}
	if e.restartDelay <= 0 {
		e.restartDelay = DefaultRestartDelay
	}
	if e.logger == nil {
		e.logger = logger.Nop()
	}
	if len(cfg.ToolSpecs) > 0 {
		payload.Tools = cfg.ToolSpecs
	}
	return e
}

// Run drives the turn to FINISHED and returns the error passed to OnError,
// or nil when OnFinish was called.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if e.cb.OnController != nil {
		e.cb.OnController(cancel)
	}

	if e.ticker == nil {
		e.ticker = NewTicker(FrameInterval)
	}
	defer e.ticker.Stop()

	state := StateStreaming
	for state != StateFinished {
		e.logger.Debug("stream state", "state", state.String())
		switch state {
		case StateStreaming:
			state = e.stream(ctx)
		case StateToolExecution:
			state = e.executeTools(ctx)
		}
	}

	return e.complete()
}

// finish decides where a completed round goes next.
func (e *Engine) finish() State {
	if e.frags.Len() > 0 {
		return StateToolExecution
	}
	return StateFinished
}

// complete flushes the pending buffer and reports the outcome.
func (e *Engine) complete() error {
	e.flush()

	text := e.emitted.String()
	err := e.err
	switch {
	case err != nil:
	case text == "" && e.timedOut:
		err = ErrTimeout
	case text == "":
		err = ErrEmptyResponse
	}

	if err != nil {
		e.logger.Debug("turn failed", "error", err)
		if e.cb.OnError != nil {
			e.cb.OnError(err)
		}
		return err
	}

	if e.cb.OnFinish != nil {
		e.cb.OnFinish(text, e.resp)
	}
	return nil
}
