// Package xai parses the xAI (OpenAI-compatible) chat completions format.
package xai

import (
	"encoding/json"
	"fmt"

	"github.com/papercomputeco/relay/pkg/llm"
)

// provider implements the Provider interface for the xAI Chat Completions API.
type provider struct {
	name string
}

func New() *provider { return &provider{name: "xai"} }

// NewWithName returns the same parser reporting a different provider name,
// for OpenAI-compatible upstreams.
func NewWithName(name string) *provider { return &provider{name: name} }

func (p *provider) Name() string {
	return p.name
}

func (p *provider) ParseResponse(payload []byte) (*llm.CompletionResponse, error) {
	var resp llm.CompletionResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", p.name, err)
	}
	return &resp, nil
}

func (p *provider) ExtractMessage(resp *llm.CompletionResponse, skipReasoning bool) string {
	if resp == nil || len(resp.Choices) == 0 {
		return ""
	}

	msg := resp.Choices[0].Message
	if skipReasoning || msg.ReasoningContent == "" {
		return msg.Content
	}
	return "> " + msg.ReasoningContent + "\n\n" + msg.Content
}

func (p *provider) ParseStreamEvent(data []byte, frags *llm.ToolCallFragments) (llm.StreamChunk, error) {
	var event llm.CompletionResponse
	if err := json.Unmarshal(data, &event); err != nil {
		return llm.StreamChunk{}, fmt.Errorf("decoding %s stream event: %w", p.name, err)
	}

	if len(event.Choices) == 0 {
		return llm.StreamChunk{}, nil
	}
	delta := event.Choices[0].Delta

	// One tool-call delta per event.
	if len(delta.ToolCalls) > 0 && frags != nil {
		frags.Apply(delta.ToolCalls[0])
	}

	if delta.ReasoningContent != "" {
		return llm.StreamChunk{IsThinking: true, Content: delta.ReasoningContent}, nil
	}
	return llm.StreamChunk{Content: delta.Content}, nil
}
