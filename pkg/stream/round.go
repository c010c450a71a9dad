package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/papercomputeco/relay/pkg/sse"
)

// maxErrorBody caps how much of a non-stream response is read.
const maxErrorBody = 1 << 20

// message is sent from the reader goroutine to the loop goroutine.
type message interface{ isMessage() }

// openFailed reports that no response arrived.
type openFailed struct {
	err error
}

// plainBody carries a text/plain response body.
type plainBody struct {
	resp *http.Response
	text string
}

// errorBody carries the body of a response that is not an event stream.
type errorBody struct {
	resp *http.Response
	body []byte
}

// opened reports that an event stream started.
type opened struct {
	resp *http.Response
}

// event carries the data of one stream event.
type event struct {
	data string
}

// closed reports the end of the event stream. err is nil on a clean close.
type closed struct {
	err error
}

func (openFailed) isMessage() {}
func (plainBody) isMessage()  {}
func (errorBody) isMessage()  {}
func (opened) isMessage()     {}
func (event) isMessage()      {}
func (closed) isMessage()     {}

// stream runs one STREAMING round.
func (e *Engine) stream(ctx context.Context) State {
	roundCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs := make(chan message)
	go e.read(roundCtx, msgs)

	tick := e.ticker.C()
	for {
		select {
		case <-ctx.Done():
			return StateFinished

		case <-tick:
			e.drain()

		case m, ok := <-msgs:
			if !ok {
				return e.finish()
			}
			if next, done := e.handle(ctx, m); done {
				return next
			}
		}
	}
}

// handle applies one reader message. It returns the next state and true
// when the round is over.
func (e *Engine) handle(ctx context.Context, m message) (State, bool) {
	switch m := m.(type) {
	case openFailed:
		switch {
		case ctx.Err() != nil:
		case errors.Is(m.err, ErrTimeout):
			e.logger.Warn("upstream response headers timed out", "timeout", e.timeout)
			e.timedOut = true
		default:
			e.err = m.err
		}
		return StateFinished, true

	case plainBody:
		e.resp = m.resp
		e.appendPending(m.text)
		return StateFinished, true

	case errorBody:
		e.resp = m.resp
		e.flush()
		e.replaceEmitted(errorText(e.emitted.String(), m.resp.StatusCode, m.body))
		return StateFinished, true

	case opened:
		e.resp = m.resp
		return StateStreaming, false

	case event:
		if strings.TrimSpace(m.data) == sse.Done {
			return e.finish(), true
		}
		e.apply(m.data)
		return StateStreaming, false

	case closed:
		if m.err != nil && ctx.Err() == nil {
			e.err = m.err
			return StateFinished, true
		}
		return e.finish(), true
	}

	return StateStreaming, false
}

// read opens the upstream stream and forwards its events to out until the
// stream ends or ctx is done. It owns the response body.
func (e *Engine) read(ctx context.Context, out chan<- message) {
	defer close(out)

	send := func(m message) bool {
		select {
		case out <- m:
			return true
		case <-ctx.Done():
			return false
		}
	}

	reqCtx, cancelReq := context.WithCancel(ctx)
	defer cancelReq()

	var expired atomic.Bool
	timer := time.AfterFunc(e.timeout, func() {
		expired.Store(true)
		cancelReq()
	})
	resp, err := e.client.Post(reqCtx, e.payload)
	timer.Stop()

	// A response counts even when the timer fired after it arrived. Only a
	// failed Post caused by the timer is a timeout.
	if err != nil {
		if expired.Load() && ctx.Err() == nil {
			err = ErrTimeout
		}
		send(openFailed{err: err})
		return
	}
	defer resp.Body.Close()

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))

	if mediaType == "text/plain" {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			send(openFailed{err: err})
			return
		}
		send(plainBody{resp: resp, text: string(body)})
		return
	}

	if resp.StatusCode != http.StatusOK || mediaType != "text/event-stream" {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		send(errorBody{resp: resp, body: body})
		return
	}

	if !send(opened{resp: resp}) {
		return
	}

	reader := sse.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err != nil {
			send(closed{err: err})
			return
		}
		if ev == nil {
			send(closed{})
			return
		}
		if !send(event{data: ev.Data}) {
			return
		}
	}
}

// errorText builds the text shown for a response that could not be
// streamed: any text already emitted, an authorization notice for 401, and
// the response body pretty-printed when it is JSON.
func errorText(prior string, status int, body []byte) string {
	parts := make([]string, 0, 3)
	if prior != "" {
		parts = append(parts, prior)
	}
	if status == http.StatusUnauthorized {
		parts = append(parts, UnauthorizedNotice)
	}
	if extra := prettyBody(body); extra != "" {
		parts = append(parts, extra)
	}
	return strings.Join(parts, "\n\n")
}

func prettyBody(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}

	var buf bytes.Buffer
	if json.Valid(trimmed) && json.Indent(&buf, trimmed, "", "  ") == nil {
		if s := buf.String(); s != "{}" {
			return "```json\n" + s + "\n```"
		}
		return ""
	}
	return string(trimmed)
}
