package header

import (
	"net/http"
	"net/http/httptest"

	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Handler", func() {
	var app *fiber.App

	BeforeEach(func() {
		app = fiber.New()
	})

	AfterEach(func() {
		_ = app.Shutdown()
	})

	// upstreamHeaders runs SetUpstreamRequestHeaders for a client request
	// carrying sent and returns what would go upstream.
	upstreamHeaders := func(hh *Handler, sent map[string]string) http.Header {
		var got http.Header
		app.Post("/api/xai/v1/chat/completions", func(c *fiber.Ctx) error {
			req, _ := http.NewRequest(http.MethodPost, "https://api.x.ai/v1/chat/completions", nil)
			hh.SetUpstreamRequestHeaders(c, req)
			got = req.Header
			return c.SendStatus(fiber.StatusOK)
		})

		req := httptest.NewRequest(http.MethodPost, "/api/xai/v1/chat/completions", nil)
		for k, v := range sent {
			req.Header.Set(k, v)
		}
		resp, err := app.Test(req)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		return got
	}

	// clientHeaders runs SetClientResponseHeaders for an upstream response
	// and returns what the client receives.
	clientHeaders := func(upstream http.Header) http.Header {
		hh := NewHandler("")
		app.Get("/relay", func(c *fiber.Ctx) error {
			hh.SetClientResponseHeaders(c, &http.Response{Header: upstream})
			return c.SendString("ok")
		})

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/relay", nil))
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		return resp.Header
	}

	Describe("SetUpstreamRequestHeaders", func() {
		It("forwards ordinary headers", func() {
			got := upstreamHeaders(NewHandler(""), map[string]string{
				"Authorization": "Bearer xai-client",
				"X-Request-Id":  "req-1",
				"Accept":        "text/event-stream",
			})
			Expect(got.Get("Authorization")).To(Equal("Bearer xai-client"))
			Expect(got.Get("X-Request-Id")).To(Equal("req-1"))
			Expect(got.Get("Accept")).To(Equal("text/event-stream"))
		})

		DescribeTable("drops headers that do not belong upstream",
			func(name, value string) {
				got := upstreamHeaders(NewHandler(""), map[string]string{name: value})
				Expect(got.Get(name)).To(BeEmpty())
			},
			Entry("hop-by-hop", "Connection", "keep-alive"),
			Entry("host is set by the transport", "Host", "relay.local"),
			Entry("encoding is negotiated by the transport", "Accept-Encoding", "br"),
			Entry("cookie", "Cookie", "session=1"),
			Entry("origin", "Origin", "https://chat.example"),
			Entry("referer", "Referer", "https://chat.example/"),
		)

		It("always sends a JSON content type", func() {
			got := upstreamHeaders(NewHandler(""), map[string]string{"Content-Type": "text/plain"})
			Expect(got.Get("Content-Type")).To(Equal("application/json"))
		})

		It("uses the configured API key when the client sends none", func() {
			got := upstreamHeaders(NewHandler("xai-server"), nil)
			Expect(got.Get("Authorization")).To(Equal("Bearer xai-server"))
		})

		It("prefers the client's Authorization over the configured key", func() {
			got := upstreamHeaders(NewHandler("xai-server"), map[string]string{"Authorization": "Bearer mine"})
			Expect(got.Get("Authorization")).To(Equal("Bearer mine"))
		})

		It("sends no Authorization when neither side has a key", func() {
			got := upstreamHeaders(NewHandler(""), nil)
			Expect(got.Get("Authorization")).To(BeEmpty())
		})
	})

	Describe("SetClientResponseHeaders", func() {
		It("forwards ordinary headers and joins multiple values", func() {
			got := clientHeaders(http.Header{
				"X-Ratelimit-Remaining-Requests": {"99"},
				"Vary":                           {"Origin", "Accept"},
			})
			Expect(got.Get("X-Ratelimit-Remaining-Requests")).To(Equal("99"))
			Expect(got.Get("Vary")).To(Equal("Origin, Accept"))
		})

		DescribeTable("drops headers the relay recomputes or must hide",
			func(name, value string) {
				got := clientHeaders(http.Header{name: {value}})
				Expect(got.Get(name)).NotTo(Equal(value))
			},
			Entry("hop-by-hop", "Connection", "upstream-close"),
			Entry("transfer encoding", "Transfer-Encoding", "gzip, chunked"),
			Entry("stale content encoding", "Content-Encoding", "br"),
			Entry("stale content length", "Content-Length", "99999"),
			Entry("browser credential prompt", "Www-Authenticate", `Bearer realm="xai"`),
		)

		It("disables buffering in reverse proxies", func() {
			Expect(clientHeaders(http.Header{}).Get("X-Accel-Buffering")).To(Equal("no"))
		})
	})
})
