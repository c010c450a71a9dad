// Package capability decides which optional request parameters a model
// accepts and whether it takes images directly.
//
// Decisions come from a table: exact model IDs first, then model families
// matched by substring in declaration order, then a fallback. The upstream
// rejects parameters a model does not support, so unsupported fields must be
// omitted rather than defaulted.
package capability

import (
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds the wait for response headers for most models.
	DefaultTimeout = 60 * time.Second

	// ThinkingTimeout bounds the wait for reasoning models, which may think
	// for minutes before the first byte.
	ThinkingTimeout = 5 * time.Minute
)

// Capabilities are the per-model request decisions.
type Capabilities struct {
	SupportsReasoningEffort bool
	ExcludesPenalties       bool
	VisionCapable           bool
	RequestTimeout          time.Duration
}

// Family matches every model ID that contains Pattern.
type Family struct {
	Pattern      string
	Capabilities Capabilities
}

// Gate resolves Capabilities for a model ID. A Gate is immutable after
// construction and safe for concurrent use.
type Gate struct {
	models   map[string]Capabilities
	families []Family
	fallback Capabilities
}

// NewGate builds a Gate from an exact-ID table and an ordered family list.
func NewGate(models map[string]Capabilities, families []Family, fallback Capabilities) *Gate {
	m := make(map[string]Capabilities, len(models))
	for id, c := range models {
		m[strings.ToLower(id)] = c
	}

	f := make([]Family, len(families))
	copy(f, families)

	return &Gate{models: m, families: f, fallback: fallback}
}

// Lookup returns the capabilities for model.
func (g *Gate) Lookup(model string) Capabilities {
	id := strings.ToLower(strings.TrimSpace(model))

	c, ok := g.models[id]
	if !ok {
		c = g.fallback
		for _, fam := range g.families {
			if strings.Contains(id, fam.Pattern) {
				c = fam.Capabilities
				break
			}
		}
	}

	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultTimeout
	}
	return c
}

// ExcludesPenalties reports whether presence_penalty and frequency_penalty
// must be left out for model.
func (g *Gate) ExcludesPenalties(model string) bool {
	return g.Lookup(model).ExcludesPenalties
}

// SupportsReasoningEffort reports whether reasoning_effort may be sent.
func (g *Gate) SupportsReasoningEffort(model string) bool {
	return g.Lookup(model).SupportsReasoningEffort
}

// IsVisionCapable reports whether model accepts image parts directly.
func (g *Gate) IsVisionCapable(model string) bool {
	return g.Lookup(model).VisionCapable
}

// RequestTimeout returns how long to wait for response headers.
func (g *Gate) RequestTimeout(model string) time.Duration {
	return g.Lookup(model).RequestTimeout
}
