package logger

import (
	"context"
	"log/slog"
	"strings"
)

// Redacted replaces the value of a masked attribute.
const Redacted = "[REDACTED]"

// DefaultRedactedKeys are masked by every logger New builds.
var DefaultRedactedKeys = []string{"authorization", "api_key", "apikey", "x-api-key", "password"}

// redactHandler masks attribute values by key before they reach the wrapped
// handler. Group members are matched by their own key.
type redactHandler struct {
	next slog.Handler
	keys map[string]struct{}
}

func newRedactHandler(next slog.Handler, keys []string) slog.Handler {
	if len(keys) == 0 {
		return next
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[strings.ToLower(k)] = struct{}{}
	}
	return &redactHandler{next: next, keys: set}
}

func (h *redactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redact(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		masked[i] = h.redact(a)
	}
	return &redactHandler{next: h.next.WithAttrs(masked), keys: h.keys}
}

func (h *redactHandler) WithGroup(name string) slog.Handler {
	return &redactHandler{next: h.next.WithGroup(name), keys: h.keys}
}

func (h *redactHandler) redact(a slog.Attr) slog.Attr {
	if _, ok := h.keys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, Redacted)
	}
	if a.Value.Kind() != slog.KindGroup {
		return a
	}
	members := a.Value.Group()
	masked := make([]any, len(members))
	for i, m := range members {
		masked[i] = h.redact(m)
	}
	return slog.Group(a.Key, masked...)
}
