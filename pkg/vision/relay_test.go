package vision_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/llm/provider/xai"
	"github.com/papercomputeco/relay/pkg/observe"
	"github.com/papercomputeco/relay/pkg/upstream"
	"github.com/papercomputeco/relay/pkg/vision"
)

// scriptedUpstream answers each request with the next scripted status and body,
// repeating the last entry once the script runs out.
type scriptedUpstream struct {
	mu       sync.Mutex
	script   []reply
	requests []map[string]any
}

type reply struct {
	status int
	body   string
}

func (s *scriptedUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var req map[string]any
	_ = json.Unmarshal(raw, &req)

	s.mu.Lock()
	s.requests = append(s.requests, req)
	next := s.script[0]
	if len(s.script) > 1 {
		s.script = s.script[1:]
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(next.status)
	_, _ = w.Write([]byte(next.body))
}

func (s *scriptedUpstream) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

const okBody = `{"choices":[{"message":{"role":"assistant","content":"  A red bicycle against a brick wall.  "}}]}`

var _ = Describe("Relay", func() {
	var (
		ctx      context.Context
		up       *scriptedUpstream
		server   *httptest.Server
		messages []llm.Message
		metrics  *observe.Metrics
	)

	newRelay := func(maxRetries int) *vision.Relay {
		return vision.New(vision.Config{
			Client:     upstream.New(upstream.Config{BaseURL: server.URL, Metrics: metrics}),
			Parser:     xai.New(),
			MaxRetries: maxRetries,
			BaseDelay:  time.Millisecond,
			Metrics:    metrics,
		})
	}

	BeforeEach(func() {
		ctx = context.Background()
		up = &scriptedUpstream{}
		server = httptest.NewServer(up)

		var err error
		metrics, err = observe.NewMetrics(noop.NewMeterProvider())
		Expect(err).NotTo(HaveOccurred())

		messages = []llm.Message{
			llm.NewTextMessage(llm.RoleSystem, "be brief"),
			{Role: llm.RoleUser, Content: llm.PartSequence{
				llm.TextPart("what is in the picture?"),
				llm.ImagePart("data:image/png;base64,AAAA"),
			}},
		}
	})

	AfterEach(func() {
		server.Close()
	})

	It("returns the trimmed description", func() {
		up.script = []reply{{200, okBody}}

		desc, err := newRelay(0).Describe(ctx, messages)
		Expect(err).NotTo(HaveOccurred())
		Expect(desc).To(Equal("A red bicycle against a brick wall."))
		Expect(up.calls()).To(Equal(1))
	})

	It("sends a non-streaming, low temperature request to the vision model", func() {
		up.script = []reply{{200, okBody}}

		_, err := newRelay(0).Describe(ctx, messages)
		Expect(err).NotTo(HaveOccurred())

		req := up.requests[0]
		Expect(req).To(HaveKeyWithValue("model", vision.DefaultModel))
		Expect(req).To(HaveKeyWithValue("stream", false))
		Expect(req).To(HaveKeyWithValue("temperature", 0.01))
		Expect(req).NotTo(HaveKey("top_p"))

		sent := req["messages"].([]any)
		Expect(sent).To(HaveLen(2))
		Expect(sent[0]).To(HaveKeyWithValue("content", "be brief"))

		last := sent[1].(map[string]any)["content"].([]any)
		Expect(last).To(HaveLen(2))
		prompt := last[0].(map[string]any)["text"].(string)
		Expect(prompt).To(HavePrefix("Describe this image carefully"))
		Expect(prompt).To(HaveSuffix("\n\nUser question: what is in the picture?"))
		Expect(last[1]).To(HaveKeyWithValue("type", "image_url"))
	})

	It("ignores reasoning content", func() {
		up.script = []reply{{200, `{"choices":[{"message":{"content":"a cat","reasoning_content":"hmm"}}]}`}}

		desc, err := newRelay(0).Describe(ctx, messages)
		Expect(err).NotTo(HaveOccurred())
		Expect(desc).To(Equal("a cat"))
	})

	It("retries server errors with backoff and then succeeds", func() {
		up.script = []reply{{502, "bad gateway"}, {503, "unavailable"}, {200, okBody}}

		desc, err := newRelay(2).Describe(ctx, messages)
		Expect(err).NotTo(HaveOccurred())
		Expect(desc).To(ContainSubstring("bicycle"))
		Expect(up.calls()).To(Equal(3))
	})

	It("gives up after the retry budget", func() {
		up.script = []reply{{500, "boom"}}

		_, err := newRelay(2).Describe(ctx, messages)
		var verr *vision.Error
		Expect(errors.As(err, &verr)).To(BeTrue())
		Expect(verr.Status).To(Equal(500))
		Expect(verr.Reason).To(Equal(vision.ReasonStatus))
		Expect(up.calls()).To(Equal(3))
	})

	It("does not retry client errors", func() {
		up.script = []reply{{400, `{"error":"bad image"}`}}

		_, err := newRelay(2).Describe(ctx, messages)
		var verr *vision.Error
		Expect(errors.As(err, &verr)).To(BeTrue())
		Expect(verr.Status).To(Equal(400))
		Expect(verr.Transient()).To(BeFalse())
		Expect(up.calls()).To(Equal(1))
	})

	DescribeTable("fails immediately on unusable bodies",
		func(body string, reason vision.Reason) {
			up.script = []reply{{200, body}}

			_, err := newRelay(2).Describe(ctx, messages)
			var verr *vision.Error
			Expect(errors.As(err, &verr)).To(BeTrue())
			Expect(verr.Reason).To(Equal(reason))
			Expect(up.calls()).To(Equal(1))
		},
		Entry("malformed JSON", `{"choices":`, vision.ReasonMalformed),
		Entry("explicit error field", `{"error":{"message":"quota"},"choices":[]}`, vision.ReasonUpstreamError),
		Entry("blank description", `{"choices":[{"message":{"content":"   "}}]}`, vision.ReasonEmpty),
		Entry("no choices", `{"choices":[]}`, vision.ReasonEmpty),
	)

	It("disables retries with a negative budget", func() {
		up.script = []reply{{503, "busy"}}

		_, err := newRelay(-1).Describe(ctx, messages)
		Expect(err).To(HaveOccurred())
		Expect(up.calls()).To(Equal(1))
	})

	It("retries transport failures", func() {
		server.Close()

		relay := vision.New(vision.Config{
			Client:     upstream.New(upstream.Config{BaseURL: server.URL, Metrics: metrics}),
			Parser:     xai.New(),
			MaxRetries: 1,
			BaseDelay:  time.Millisecond,
			Metrics:    metrics,
		})
		_, err := relay.Describe(ctx, messages)
		var verr *vision.Error
		Expect(errors.As(err, &verr)).To(BeTrue())
		Expect(verr.Reason).To(Equal(vision.ReasonTransport))
		Expect(verr.Transient()).To(BeTrue())
	})

	It("rejects an empty conversation", func() {
		_, err := newRelay(0).Describe(ctx, nil)
		Expect(vision.IsError(err)).To(BeTrue())
		Expect(up.calls()).To(BeZero())
	})
})
