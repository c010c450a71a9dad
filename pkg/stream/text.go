package stream

import (
	"math"
	"strings"
	"unicode/utf8"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// apply parses one event and folds its text into the pending buffer.
func (e *Engine) apply(data string) {
	if strings.TrimSpace(data) == "" {
		return
	}

	chunk, err := e.parser.ParseStreamEvent([]byte(data), &e.frags)
	if err != nil {
		e.logger.Warn("skipping malformed stream event", "error", err)
		return
	}
	if chunk.Content == "" {
		return
	}

	thinking, content := e.reconcile(chunk.IsThinking, chunk.Content)
	if content == "" {
		return
	}
	e.format(thinking, content)
}

// reconcile resolves whether a chunk is reasoning. Chunks without the
// structured flag may open or close a tagged block with <think> markers,
// which are stripped along with the whitespace next to them.
func (e *Engine) reconcile(flagged bool, content string) (bool, string) {
	if flagged {
		return true, content
	}

	thinking := false
	if strings.HasPrefix(content, thinkOpen) {
		content = strings.TrimLeft(content[len(thinkOpen):], " \t\r\n")
		e.tagged = true
		thinking = true
	}
	if strings.HasSuffix(content, thinkClose) {
		content = strings.TrimRight(content[:len(content)-len(thinkClose)], " \t\r\n")
		thinking = e.tagged
		e.tagged = false
		return thinking, content
	}

	return thinking || e.tagged, content
}

// format appends content in the presentation of its mode. Reasoning is
// rendered as a block quote; leaving reasoning starts a new paragraph.
func (e *Engine) format(thinking bool, content string) {
	changed := thinking != e.lastThinking
	e.lastThinking = thinking

	if thinking {
		if !e.inThinking || changed {
			e.inThinking = true
			if e.hasText() {
				e.appendPending("\n")
			}
			e.appendPending("> " + content)
			return
		}
		e.appendPending(strings.ReplaceAll(content, "\n\n", "\n\n> "))
		return
	}

	if e.inThinking || changed {
		e.inThinking = false
		e.appendPending("\n\n" + content)
		return
	}
	e.appendPending(content)
}

func (e *Engine) hasText() bool {
	return e.emitted.Len() > 0 || len(e.pending) > 0
}

func (e *Engine) appendPending(s string) {
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		e.pending = append(e.pending, r)
		s = s[size:]
	}
}

// drain moves one frame's worth of pending runes to the emitted text.
func (e *Engine) drain() {
	if len(e.pending) == 0 {
		return
	}

	n := int(math.Round(float64(len(e.pending)) / framesPerBuffer))
	n = max(n, 1)

	e.emit(string(e.pending[:n]))
	e.pending = e.pending[n:]
}

// flush moves every pending rune to the emitted text.
func (e *Engine) flush() {
	if len(e.pending) == 0 {
		return
	}
	delta := string(e.pending)
	e.pending = nil
	e.emit(delta)
}

func (e *Engine) emit(delta string) {
	e.emitted.WriteString(delta)
	if e.cb.OnUpdate != nil {
		e.cb.OnUpdate(e.emitted.String(), delta)
	}
}

// replaceEmitted swaps the emitted text for s and reports the change as a
// full update.
func (e *Engine) replaceEmitted(s string) {
	e.emitted.Reset()
	e.emitted.WriteString(s)
	if e.cb.OnUpdate != nil {
		e.cb.OnUpdate(s, "")
	}
}
