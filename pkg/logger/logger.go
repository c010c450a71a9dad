// Package logger builds the *slog.Logger every relay component logs through.
package logger

import (
	"io"
	"log/slog"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"
)

type config struct {
	level   slog.Level
	format  Format
	source  bool
	writers []io.Writer
	redact  []string
}

// New builds a logger from opts. Without options it writes text records at
// Info level to os.Stdout. Credential-bearing attributes are always masked.
func New(opts ...Option) *slog.Logger {
	c := &config{
		level:  slog.LevelInfo,
		redact: append([]string(nil), DefaultRedactedKeys...),
	}
	for _, opt := range opts {
		opt(c)
	}

	var w io.Writer
	switch len(c.writers) {
	case 0:
		w = os.Stdout
	case 1:
		w = c.writers[0]
	default:
		w = io.MultiWriter(c.writers...)
	}

	var h slog.Handler
	switch c.format {
	case FormatPretty:
		h = charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			TimeFormat:      time.Kitchen,
			ReportCaller:    c.source,
			Level:           charmLevel(c.level),
		})
	case FormatJSON:
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: c.level, AddSource: c.source})
	default:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.level, AddSource: c.source})
	}

	return slog.New(newRedactHandler(h, c.redact))
}

// Nop returns a logger that discards every record.
func Nop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func charmLevel(l slog.Level) charmlog.Level {
	switch {
	case l <= slog.LevelDebug:
		return charmlog.DebugLevel
	case l <= slog.LevelInfo:
		return charmlog.InfoLevel
	case l <= slog.LevelWarn:
		return charmlog.WarnLevel
	default:
		return charmlog.ErrorLevel
	}
}
