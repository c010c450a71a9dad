package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/sse"
	"github.com/papercomputeco/relay/pkg/storage"
	"github.com/papercomputeco/relay/pkg/upstream"
	"github.com/papercomputeco/relay/proxy/worker"
)

const (
	// DefaultModel is used when a request names no model.
	DefaultModel = "grok-3"

	chatCompletionsPath = "/chat/completions"

	// maxBufferedBody caps non-streaming upstream bodies held in memory.
	maxBufferedBody = 32 << 20
)

// errorEnvelope is the JSON body for relay and upstream failures.
type errorEnvelope struct {
	Error   bool            `json:"error"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// relayRequest is what the relay learned from a JSON request body.
type relayRequest struct {
	model  string
	prompt string
	stream bool
	chat   bool
}

func (p *Proxy) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), p.config.RequestTimeout)
}

// handleRelay forwards a request under upstream.RelayPrefix to the upstream
// provider, rewriting JSON bodies on the way.
func (p *Proxy) handleRelay(c *fiber.Ctx) error {
	startTime := time.Now()
	path := strings.TrimPrefix(c.Path(), upstream.RelayPrefix)
	method := c.Method()

	// Use context.Background() instead of c.Context() because fasthttp recycles
	// its RequestCtx after the handler returns, but a streamed body is copied
	// by a separate goroutine that needs the upstream connection to remain open.
	ctx, cancel := p.requestContext()

	body := c.Body()
	var req *relayRequest
	if len(body) > 0 {
		var (
			status int
			msg    string
		)
		body, req, status, msg = p.prepareBody(ctx, path, body)
		if status != 0 {
			cancel()
			return c.Status(status).JSON(errorEnvelope{Error: true, Message: msg})
		}
	}

	var turn *storage.Turn
	if req != nil && req.chat {
		turn = storage.NewTurn(req.model, path, req.stream)
		turn.Prompt = req.prompt
	}

	upstreamURL := p.upstreamBase + path
	if qs := c.Request().URI().QueryString(); len(qs) > 0 {
		upstreamURL += "?" + string(qs)
	}

	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, upstreamURL, reqBody)
	if err != nil {
		cancel()
		p.logger.Error("failed to create upstream request", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorEnvelope{Error: true, Message: "internal error"})
	}

	p.headerHandler.SetUpstreamRequestHeaders(c, httpReq)

	p.logger.Debug("forwarding request to upstream",
		"method", method,
		"url", upstreamURL,
	)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		p.metrics.RecordUpstream(ctx, "proxy", 0, time.Since(startTime).Seconds())
		p.logger.Error("upstream request failed", "error", err)
		msg := fmt.Sprintf("upstream request failed: %v", err)
		p.enqueue(turn, fiber.StatusBadGateway, msg, startTime)
		return c.Status(fiber.StatusBadGateway).JSON(errorEnvelope{Error: true, Message: msg})
	}
	p.metrics.RecordUpstream(ctx, "proxy", httpResp.StatusCode, time.Since(startTime).Seconds())

	if httpResp.StatusCode >= http.StatusBadRequest {
		defer cancel()
		return p.relayUpstreamError(c, httpResp, turn, startTime)
	}

	p.headerHandler.SetClientResponseHeaders(c, httpResp)
	c.Status(httpResp.StatusCode)

	if isEventStream(httpResp.Header.Get("Content-Type")) {
		if turn != nil {
			turn.Stream = true
		}

		// Use io.Pipe + SetBodyStream instead of SetBodyStreamWriter.
		// SetBodyStreamWriter buffers in an internal pipe, so Flush() in the
		// callback does not reach the TCP socket. With io.Pipe, pw.Write blocks
		// until fasthttp's chunked writer consumes the data and flushes it.
		pr, pw := io.Pipe()
		go p.pipeStream(httpResp, pw, cancel, turn, startTime)

		// Unknown size (-1) triggers chunked transfer encoding in fasthttp.
		c.Context().Response.SetBodyStream(pr, -1)
		return nil
	}

	defer cancel()
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBufferedBody))
	if err != nil {
		p.logger.Error("failed to read upstream response", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(errorEnvelope{Error: true, Message: "failed to read upstream response"})
	}

	if turn != nil {
		var text string
		if parsed, err := p.provider.ParseResponse(respBody); err == nil {
			text = p.provider.ExtractMessage(parsed, true)
		} else {
			p.logger.Warn("failed to parse response", "error", err, "provider", p.provider.Name())
		}
		p.enqueue(turn, httpResp.StatusCode, text, startTime)
	}

	return c.Send(respBody)
}

// prepareBody validates and rewrites a JSON request body. Bodies that are not
// JSON objects are forwarded unchanged. A non-zero status rejects the request
// with msg.
func (p *Proxy) prepareBody(ctx context.Context, path string, body []byte) ([]byte, *relayRequest, int, string) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		p.logger.Debug("request body is not a JSON object, forwarding unchanged", "error", err)
		return body, nil, 0, ""
	}

	req := &relayRequest{chat: strings.Contains(path, chatCompletionsPath)}

	rawMessages, hasMessages := fields["messages"]
	if hasMessages && bytes.Equal(bytes.TrimSpace(rawMessages), []byte("null")) {
		hasMessages = false
	}
	if req.chat && !hasMessages {
		return body, nil, fiber.StatusBadRequest, "request is missing the required messages field"
	}

	if raw, ok := fields["model"]; ok {
		_ = json.Unmarshal(raw, &req.model)
	}
	if req.model == "" {
		req.model = DefaultModel
		fields["model"], _ = json.Marshal(DefaultModel)
		p.logger.Debug("no model specified, using default", "model", DefaultModel)
	}

	if !p.modelAllowed(req.model) {
		return body, nil, fiber.StatusForbidden, fmt.Sprintf("you do not have permission to use the %s model", req.model)
	}

	if raw, ok := fields["stream"]; ok {
		_ = json.Unmarshal(raw, &req.stream)
	}

	if hasMessages && (req.chat || strings.Contains(req.model, "vision")) {
		messages, prompt, err := p.normalizeMessages(ctx, req.model, rawMessages)
		if err != nil {
			p.logger.Warn("could not normalize messages", "error", err)
		} else {
			fields["messages"] = messages
			req.prompt = prompt
		}
	}

	out, err := json.Marshal(fields)
	if err != nil {
		p.logger.Warn("could not re-encode request body, forwarding unchanged", "error", err)
		return body, req, 0, ""
	}
	return out, req, 0, ""
}

// normalizeMessages rewrites multimodal messages so every image is an
// embeddable data-URI, and returns the text of the last message. Messages
// with plain text content pass through byte for byte.
func (p *Proxy) normalizeMessages(ctx context.Context, model string, raw json.RawMessage) (json.RawMessage, string, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, "", fmt.Errorf("decoding messages: %w", err)
	}

	vision := p.gate.IsVisionCapable(model)

	var prompt string
	for i, item := range items {
		var msg llm.Message
		if err := json.Unmarshal(item, &msg); err != nil {
			continue
		}

		if parts, ok := msg.Content.(llm.PartSequence); ok {
			msg.Content = p.resolver.Normalize(ctx, parts, vision)
			rewritten, err := json.Marshal(msg)
			if err != nil {
				return nil, "", fmt.Errorf("encoding message %d: %w", i, err)
			}
			items[i] = rewritten
		}
		prompt = msg.GetText()
	}

	out, err := json.Marshal(items)
	if err != nil {
		return nil, "", fmt.Errorf("encoding messages: %w", err)
	}
	return out, prompt, nil
}

// relayUpstreamError answers with the upstream status and a JSON envelope
// describing the failure.
func (p *Proxy) relayUpstreamError(c *fiber.Ctx, resp *http.Response, turn *storage.Turn, startTime time.Time) error {
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBufferedBody))
	if err != nil {
		p.logger.Warn("failed to read upstream error body", "error", err)
	}

	env := errorEnvelope{Error: true}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err == nil && compact.Len() > 0 {
		env.Message = fmt.Sprintf("X.AI API error (%d): %s", resp.StatusCode, compact.String())
		env.Details = compact.Bytes()
	} else {
		env.Message = fmt.Sprintf("X.AI API error (%d): %s", resp.StatusCode, string(raw))
	}

	p.logger.Error("upstream returned error",
		"status", resp.StatusCode,
		"body", string(raw),
	)

	p.enqueue(turn, resp.StatusCode, env.Message, startTime)
	return c.Status(resp.StatusCode).JSON(env)
}

// pipeStream copies an SSE response verbatim to pw while reassembling the
// assistant text for the turn log.
func (p *Proxy) pipeStream(resp *http.Response, pw *io.PipeWriter, cancel context.CancelFunc, turn *storage.Turn, startTime time.Time) {
	ctx := context.Background()
	p.metrics.ActiveStreams.Add(ctx, 1)
	defer p.metrics.ActiveStreams.Add(ctx, -1)

	// Close the upstream response body once streaming is complete.
	defer cancel()
	defer resp.Body.Close()
	defer pw.Close()

	var (
		text  strings.Builder
		frags llm.ToolCallFragments
	)

	tr := sse.NewTeeReader(resp.Body, pw)
	for {
		ev, err := tr.Next()
		if err != nil {
			p.logger.Error("error reading SSE stream", "error", err)
			break
		}
		if ev == nil {
			break
		}
		// Keep reading past the terminator so trailing bytes still reach
		// the client.
		if ev.IsDone() || ev.IsBlank() {
			continue
		}

		chunk, err := p.provider.ParseStreamEvent([]byte(ev.Data), &frags)
		if err != nil {
			continue
		}
		if !chunk.IsThinking {
			text.WriteString(chunk.Content)
		}
	}

	p.logger.Debug("streaming complete",
		"content_preview", text.String(),
		"duration", time.Since(startTime),
	)

	p.enqueue(turn, resp.StatusCode, text.String(), startTime)
}

// enqueue finishes turn and hands it to the worker pool. A nil turn is a
// request that is not logged.
func (p *Proxy) enqueue(turn *storage.Turn, status int, response string, startTime time.Time) {
	if turn == nil {
		return
	}
	turn.Finish(status, response, time.Since(startTime))
	p.workerPool.Enqueue(worker.Job{Turn: turn})
}

func isEventStream(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "text/event-stream"
}
