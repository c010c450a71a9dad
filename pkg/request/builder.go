// Package request assembles the upstream payload for one chat turn: image
// content is either resolved for vision models or replaced by a description
// for text-only models, and optional sampling fields are gated by model.
package request

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/llm/capability"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/vision"
)

const (
	// DefaultModel is used when the config names no model.
	DefaultModel = "grok-3"

	// DefaultPrompt stands in for a missing user question.
	DefaultPrompt = "please describe this image"
)

// ErrNoMessages is returned when there is nothing to send.
var ErrNoMessages = errors.New("no messages to send")

// ModelConfig holds the session's sampling settings.
type ModelConfig struct {
	Model            string
	Temperature      float64
	TopP             float64
	PresencePenalty  float64
	FrequencyPenalty float64

	// MaxTokens is omitted from the payload when zero.
	MaxTokens int

	Stream bool
}

// ContentResolver makes image references embeddable.
type ContentResolver interface {
	Resolve(ctx context.Context, c llm.Content) llm.Content
}

// Describer produces a text description of the images in a conversation.
type Describer interface {
	Describe(ctx context.Context, messages []llm.Message) (string, error)
}

// Builder builds RequestPayloads. It holds no per-turn state.
type Builder struct {
	gate     *capability.Gate
	resolver ContentResolver
	relay    Describer
	logger   *slog.Logger
}

// NewBuilder creates a Builder. A nil gate uses capability.Default().
func NewBuilder(gate *capability.Gate, resolver ContentResolver, relay Describer, l *slog.Logger) *Builder {
	if gate == nil {
		gate = capability.Default()
	}
	if l == nil {
		l = logger.Nop()
	}
	return &Builder{gate: gate, resolver: resolver, relay: relay, logger: l}
}

// Build returns the payload for messages under cfg. The input slice is not
// modified.
func (b *Builder) Build(ctx context.Context, messages []llm.Message, cfg ModelConfig) (*llm.RequestPayload, error) {
	if len(messages) == 0 {
		return nil, ErrNoMessages
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	caps := b.gate.Lookup(model)

	var processed []llm.Message
	if caps.VisionCapable {
		processed = b.resolveImages(ctx, messages)
	} else {
		processed = b.describeImages(ctx, messages)
	}

	last := &processed[len(processed)-1]
	if llm.IsEmpty(last.Content) && len(last.ToolCalls) == 0 {
		last.Content = llm.PlainText(DefaultPrompt)
	}

	payload := &llm.RequestPayload{
		Messages:    processed,
		Model:       model,
		Stream:      cfg.Stream,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		payload.MaxTokens = &maxTokens
	}
	if !caps.ExcludesPenalties {
		presence, frequency := cfg.PresencePenalty, cfg.FrequencyPenalty
		payload.PresencePenalty = &presence
		payload.FrequencyPenalty = &frequency
	}
	if caps.SupportsReasoningEffort {
		payload.ReasoningEffort = llm.ReasoningEffortHigh
	}

	b.logger.Debug("built request payload",
		"model", model,
		"vision", caps.VisionCapable,
		"messages", len(processed),
		"stream", cfg.Stream,
	)
	return payload, nil
}

func (b *Builder) resolveImages(ctx context.Context, messages []llm.Message) []llm.Message {
	out := make([]llm.Message, len(messages))
	for i, m := range messages {
		out[i] = m
		if m.Content != nil && b.resolver != nil {
			out[i].Content = b.resolver.Resolve(ctx, m.Content)
		}
	}
	return out
}

func (b *Builder) describeImages(ctx context.Context, messages []llm.Message) []llm.Message {
	out := make([]llm.Message, len(messages))
	for i, m := range messages {
		out[i] = m
		if m.Content == nil {
			continue
		}

		if !m.Content.HasImages() {
			out[i].Content = llm.PlainText(m.Content.Text())
			continue
		}

		out[i].Content = llm.PlainText(Synthesize(b.describe(ctx, m), m.Content.Text()))
	}
	return out
}

func (b *Builder) describe(ctx context.Context, m llm.Message) string {
	if b.relay == nil {
		return vision.FailureNote
	}

	description, err := b.relay.Describe(ctx, []llm.Message{m})
	if err != nil {
		b.logger.Warn("vision relay failed, continuing without the image", "error", err)
		return vision.FailureNote
	}
	return description
}

// Synthesize builds the text that replaces an image-bearing message for a
// text-only model.
func Synthesize(description, question string) string {
	if strings.TrimSpace(question) == "" {
		question = DefaultPrompt
	}
	return "[image content]: " + description + "\n\n[user question]: " + question
}
