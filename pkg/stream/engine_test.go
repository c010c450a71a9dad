package stream_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/llm/provider/xai"
	"github.com/papercomputeco/relay/pkg/observe"
	"github.com/papercomputeco/relay/pkg/stream"
	"github.com/papercomputeco/relay/pkg/tool"
	"github.com/papercomputeco/relay/pkg/upstream"
)

// sseUpstream replays one scripted handler per request and records every
// request body.
type sseUpstream struct {
	mu       sync.Mutex
	rounds   []http.HandlerFunc
	requests []llm.RequestPayload
}

func (s *sseUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var req llm.RequestPayload
	_ = json.Unmarshal(raw, &req)

	s.mu.Lock()
	s.requests = append(s.requests, req)
	next := s.rounds[0]
	if len(s.rounds) > 1 {
		s.rounds = s.rounds[1:]
	}
	s.mu.Unlock()

	next(w, r)
}

func (s *sseUpstream) recorded() []llm.RequestPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.RequestPayload, len(s.requests))
	copy(out, s.requests)
	return out
}

func events(data ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, d := range data {
			fmt.Fprintf(w, "data: %s\n\n", d)
		}
	}
}

// slowPoster answers after delay whatever the request context says, with a
// body that does not depend on that context.
type slowPoster struct {
	delay time.Duration
	body  string
}

func (p slowPoster) Post(context.Context, any) (*http.Response, error) {
	time.Sleep(p.delay)
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
		Body:       io.NopCloser(strings.NewReader(p.body)),
	}, nil
}

func content(text string) string {
	raw, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": text}}},
	})
	return string(raw)
}

func toolDelta(index int, id, name, args string) string {
	call := map[string]any{"index": index, "function": map[string]any{"arguments": args}}
	if id != "" {
		call["id"] = id
		call["type"] = "function"
		call["function"].(map[string]any)["name"] = name
	}
	raw, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"tool_calls": []any{call}}}},
	})
	return string(raw)
}

// recorder captures every callback.
type recorder struct {
	mu       sync.Mutex
	updates  []string
	finished []string
	errs     []error
	before   []llm.ToolCall
	after    []stream.ToolResult
	cancel   context.CancelFunc
}

func (r *recorder) callbacks() stream.Callbacks {
	return stream.Callbacks{
		OnUpdate: func(full, _ string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.updates = append(r.updates, full)
		},
		OnFinish: func(text string, _ *http.Response) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.finished = append(r.finished, text)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
		OnController: func(cancel context.CancelFunc) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.cancel = cancel
		},
		OnBeforeTool: func(call llm.ToolCall) { r.before = append(r.before, call) },
		OnAfterTool:  func(res stream.ToolResult) { r.after = append(r.after, res) },
	}
}

func (r *recorder) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

var _ = Describe("Engine", func() {
	var (
		up      *sseUpstream
		server  *httptest.Server
		rec     *recorder
		metrics *observe.Metrics
		tools   *tool.Registry
		cfg     stream.Config
		payload *llm.RequestPayload
	)

	BeforeEach(func() {
		var err error
		metrics, err = observe.NewMetrics(noop.NewMeterProvider())
		Expect(err).NotTo(HaveOccurred())

		up = &sseUpstream{}
		server = httptest.NewServer(up)
		DeferCleanup(server.Close)

		rec = &recorder{}
		tools = tool.NewRegistry()
		payload = &llm.RequestPayload{
			Model:    "grok-3",
			Stream:   true,
			Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hello")},
		}
		cfg = stream.Config{
			Client:       upstream.New(upstream.Config{BaseURL: server.URL, Metrics: metrics}),
			Parser:       xai.New(),
			Tools:        tools,
			RestartDelay: time.Millisecond,
			Timeout:      5 * time.Second,
			Metrics:      metrics,
		}
	})

	run := func() error {
		return stream.New(cfg, payload, rec.callbacks()).Run(context.Background())
	}

	Context("when the upstream streams text", func() {
		It("finishes with the concatenated content", func() {
			up.rounds = []http.HandlerFunc{events(content("Hello"), content(" world"), "[DONE]")}

			Expect(run()).To(Succeed())
			Expect(rec.finished).To(Equal([]string{"Hello world"}))
			Expect(rec.errs).To(BeEmpty())
			Expect(rec.updates).NotTo(BeEmpty())
			Expect(rec.updates[len(rec.updates)-1]).To(Equal("Hello world"))
		})

		It("finishes when the stream closes without a done marker", func() {
			up.rounds = []http.HandlerFunc{events(content("cut short"))}

			Expect(run()).To(Succeed())
			Expect(rec.finished).To(Equal([]string{"cut short"}))
		})

		It("provides a controller before streaming", func() {
			up.rounds = []http.HandlerFunc{events(content("x"), "[DONE]")}
			Expect(run()).To(Succeed())
			Expect(rec.cancel).NotTo(BeNil())
		})
	})

	Context("when the stream carries no text", func() {
		It("reports an empty response instead of finishing", func() {
			up.rounds = []http.HandlerFunc{events("[DONE]")}

			err := run()
			Expect(err).To(MatchError(stream.ErrEmptyResponse))
			Expect(rec.errs).To(ConsistOf(stream.ErrEmptyResponse))
			Expect(rec.finished).To(BeEmpty())
		})
	})

	Context("when the upstream answers with text/plain", func() {
		It("uses the whole body as the final text", func() {
			up.rounds = []http.HandlerFunc{func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				_, _ = io.WriteString(w, "plain answer")
			}}

			Expect(run()).To(Succeed())
			Expect(rec.finished).To(Equal([]string{"plain answer"}))
		})
	})

	Context("when the upstream rejects the request", func() {
		It("finishes with the unauthorized notice and the error body", func() {
			up.rounds = []http.HandlerFunc{func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, `{"error":"invalid api key"}`)
			}}

			Expect(run()).To(Succeed())
			Expect(rec.finished).To(HaveLen(1))
			Expect(rec.finished[0]).To(HavePrefix(stream.UnauthorizedNotice))
			Expect(rec.finished[0]).To(ContainSubstring("```json"))
			Expect(rec.finished[0]).To(ContainSubstring(`"error": "invalid api key"`))
		})
	})

	Context("when the model calls tools", func() {
		BeforeEach(func() {
			Expect(tools.Register(
				llm.NewFunctionTool("lookup", "look up a term", json.RawMessage(`{"type":"object"}`)),
				func(_ context.Context, args map[string]any) (*tool.Result, error) {
					return &tool.Result{Status: 200, Data: "found " + fmt.Sprint(args["q"])}, nil
				},
			)).To(Succeed())
			cfg.ToolSpecs = tools.Specs()
		})

		It("runs the calls and restarts the stream with the results", func() {
			up.rounds = []http.HandlerFunc{
				events(
					content("checking"),
					toolDelta(0, "call_1", "lookup", `{"q":`),
					toolDelta(0, "", "", `"go"}`),
					"[DONE]",
				),
				events(content(" done"), "[DONE]"),
			}

			Expect(run()).To(Succeed())
			Expect(rec.finished).To(Equal([]string{"checking done"}))

			Expect(rec.before).To(HaveLen(1))
			Expect(rec.before[0].Function.Arguments).To(Equal(`{"q":"go"}`))
			Expect(rec.after).To(HaveLen(1))
			Expect(rec.after[0].Content).To(Equal("found go"))
			Expect(rec.after[0].IsError).To(BeFalse())

			reqs := up.recorded()
			Expect(reqs).To(HaveLen(2))
			Expect(reqs[0].Tools).To(HaveLen(1))

			msgs := reqs[1].Messages
			Expect(msgs).To(HaveLen(3))
			Expect(msgs[1].Role).To(Equal(llm.RoleAssistant))
			Expect(msgs[1].ToolCalls).To(HaveLen(1))
			Expect(msgs[1].ToolCalls[0].ID).To(Equal("call_1"))
			Expect(msgs[2].Role).To(Equal(llm.RoleTool))
			Expect(msgs[2].ToolCallID).To(Equal("call_1"))
			Expect(msgs[2].Name).To(Equal("lookup"))
			Expect(msgs[2].GetText()).To(Equal("found go"))
		})

		It("returns failures to the model as error results", func() {
			up.rounds = []http.HandlerFunc{
				events(toolDelta(0, "call_9", "missing", `{}`), "[DONE]"),
				events(content("sorry"), "[DONE]"),
			}

			Expect(run()).To(Succeed())
			Expect(rec.after).To(HaveLen(1))
			Expect(rec.after[0].IsError).To(BeTrue())
			Expect(rec.after[0].ErrorMsg).To(ContainSubstring(tool.ErrUnknownTool.Error()))

			reqs := up.recorded()
			Expect(reqs[1].Messages[2].GetText()).To(Equal(rec.after[0].ErrorMsg))
			Expect(rec.finished).To(Equal([]string{"sorry"}))
		})

		It("runs several calls of one round concurrently and reports them in order", func() {
			release := make(chan struct{})
			var started sync.WaitGroup
			started.Add(2)
			Expect(tools.Register(
				llm.NewFunctionTool("slow", "", nil),
				func(_ context.Context, args map[string]any) (*tool.Result, error) {
					started.Done()
					<-release
					return &tool.Result{Status: 200, Data: fmt.Sprint(args["n"])}, nil
				},
			)).To(Succeed())
			go func() {
				started.Wait()
				close(release)
			}()

			up.rounds = []http.HandlerFunc{
				events(
					toolDelta(0, "a", "slow", `{"n":1}`),
					toolDelta(1, "b", "slow", `{"n":2}`),
					"[DONE]",
				),
				events(content("ok"), "[DONE]"),
			}

			Expect(run()).To(Succeed())
			Expect(rec.after).To(HaveLen(2))
			Expect(rec.after[0].ID).To(Equal("a"))
			Expect(rec.after[0].Content).To(Equal("1"))
			Expect(rec.after[1].ID).To(Equal("b"))
			Expect(rec.after[1].Content).To(Equal("2"))
		})
	})

	Context("when the turn is cancelled", func() {
		It("finishes with the text received so far", func() {
			hold := make(chan struct{})
			DeferCleanup(func() { close(hold) })

			up.rounds = []http.HandlerFunc{func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				w.WriteHeader(http.StatusOK)
				fmt.Fprintf(w, "data: %s\n\n", content("partial"))
				w.(http.Flusher).Flush()
				select {
				case <-hold:
				case <-r.Context().Done():
				}
			}}
			cfg.Ticker = stream.NewTicker(time.Millisecond)

			done := make(chan error, 1)
			go func() { done <- run() }()

			Eventually(rec.updateCount).Should(BeNumerically(">", 0))
			rec.mu.Lock()
			cancel := rec.cancel
			rec.mu.Unlock()
			cancel()

			Eventually(done).Should(Receive(BeNil()))
			Expect(rec.finished).To(Equal([]string{"partial"}))
			Expect(rec.errs).To(BeEmpty())
		})
	})

	Context("when response headers are late", func() {
		It("reports a timeout", func() {
			up.rounds = []http.HandlerFunc{func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(2 * time.Second):
				case <-r.Context().Done():
				}
			}}
			cfg.Timeout = 20 * time.Millisecond

			Expect(run()).To(MatchError(stream.ErrTimeout))
			Expect(rec.finished).To(BeEmpty())
		})
	})

	Context("when headers arrive as the header timer fires", func() {
		It("streams the response instead of timing out", func() {
			cfg.Timeout = 10 * time.Millisecond
			cfg.Client = slowPoster{
				delay: 50 * time.Millisecond,
				body:  "data: " + content("made it") + "\n\ndata: [DONE]\n\n",
			}

			Expect(run()).To(Succeed())
			Expect(rec.finished).To(Equal([]string{"made it"}))
			Expect(rec.errs).To(BeEmpty())
		})
	})

	Context("when the upstream is unreachable", func() {
		It("reports the transport error", func() {
			server.Close()

			err := run()
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, stream.ErrEmptyResponse)).To(BeFalse())
			Expect(rec.errs).To(HaveLen(1))
			Expect(rec.finished).To(BeEmpty())
		})
	})
})
