// Package header provides header filtering for the relay proxy.
//
// This proxy sits between a client and the upstream provider like so:
//
//	Client <--> Proxy <--> Upstream LLM Provider
//
// and headers are handled accordingly as each leg negotiates compression, hops,
// encoding, etc. independently.
package header

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Handler manages headers between proxy connections.
type Handler struct {
	// apiKey is the bearer token used when the client sends none.
	apiKey string
}

// NewHandler creates a new header Handler. apiKey may be empty.
func NewHandler(apiKey string) *Handler {
	return &Handler{apiKey: apiKey}
}

// skipRequest is the set of request headers (client --> proxy --> upstream)
// that are not forwarded to the upstream provider.
var skipRequest = map[string]struct{}{
	// Hop-by-hop headers: only meaningful for a single transport-level connection.
	"Connection": {},

	// The Host header is rewritten by Go's http.Transport to match the
	// upstream URL.
	"Host": {},

	// Accept-Encoding is stripped so that Go's http.Transport adds its own
	// "Accept-Encoding: gzip" and transparently decompresses the upstream
	// response.
	"Accept-Encoding": {},

	// The body may be rewritten before it is forwarded.
	"Content-Length": {},

	// Browser context is meaningless to the upstream API.
	"Cookie":  {},
	"Origin":  {},
	"Referer": {},
}

// skipResponse is the set of upstream response headers (client <-- proxy <-- upstream)
// that are not copied back to the downstream client.
var skipResponse = map[string]struct{}{
	// Hop-by-hop headers: only meaningful for a single transport-level connection.
	"Connection": {},

	// fasthttp manages chunked transfer encoding for the client-facing
	// response independently.
	"Transfer-Encoding": {},

	// The proxy always reads a decompressed body, so a forwarded
	// Content-Encoding would be stale. Fiber's compress middleware sets the
	// correct one.
	"Content-Encoding": {},

	// The length changes after decompression and recompression.
	"Content-Length": {},

	// A browser would prompt for credentials.
	"Www-Authenticate": {},
}

// SetUpstreamRequestHeaders copies request headers from the Fiber context to
// the outgoing http.Request, filtering headers that the proxy should not
// forward. The body is always JSON, and the configured API key stands in for
// a missing Authorization header.
func (h *Handler) SetUpstreamRequestHeaders(c *fiber.Ctx, req *http.Request) {
	c.Request().Header.VisitAll(func(key, value []byte) {
		k := http.CanonicalHeaderKey(string(key))
		if _, skip := skipRequest[k]; !skip {
			req.Header.Set(k, string(value))
		}
	})

	req.Header.Set("Content-Type", "application/json")
	if req.Header.Get("Authorization") == "" && h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
}

// SetClientResponseHeaders copies response headers from the upstream
// http.Response to the Fiber context, filtering headers that the proxy should
// not forward back down to the client, and disables buffering in any reverse
// proxy in front of the relay.
func (h *Handler) SetClientResponseHeaders(c *fiber.Ctx, resp *http.Response) {
	for k, v := range resp.Header {
		if _, skip := skipResponse[http.CanonicalHeaderKey(k)]; !skip {
			c.Set(k, strings.Join(v, ", "))
		}
	}
	c.Set("X-Accel-Buffering", "no")
}
