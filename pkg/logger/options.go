package logger

import (
	"io"
	"log/slog"
)

// Format selects the handler New builds.
type Format int

const (
	// FormatText is slog's logfmt-style text handler.
	FormatText Format = iota

	// FormatPretty is the colorized charmbracelet/log handler for terminals.
	FormatPretty

	// FormatJSON is slog's JSON handler, one object per line.
	FormatJSON
)

// ParseFormat maps "text", "pretty" and "json" to a Format.
func ParseFormat(s string) (Format, bool) {
	switch s {
	case "text":
		return FormatText, true
	case "pretty", "":
		return FormatPretty, true
	case "json":
		return FormatJSON, true
	default:
		return FormatText, false
	}
}

type Option func(*config)

// WithLevel sets the minimum level.
func WithLevel(level slog.Level) Option {
	return func(c *config) { c.level = level }
}

// WithDebug lowers the level to Debug when debug is set.
func WithDebug(debug bool) Option {
	return func(c *config) {
		if debug {
			c.level = slog.LevelDebug
		}
	}
}

func WithFormat(f Format) Option {
	return func(c *config) { c.format = f }
}

// WithWriter replaces the output. Several writers receive every line.
func WithWriter(w ...io.Writer) Option {
	return func(c *config) { c.writers = w }
}

// WithSource adds file:line to each record.
func WithSource(source bool) Option {
	return func(c *config) { c.source = source }
}

// WithRedactedKeys masks the values of the named attributes, in addition to
// DefaultRedactedKeys. Matching ignores case.
func WithRedactedKeys(keys ...string) Option {
	return func(c *config) { c.redact = append(c.redact, keys...) }
}
