// Package provider defines how upstream chat completion payloads are parsed
// into the relay's internal representation.
package provider

import (
	"github.com/papercomputeco/relay/pkg/llm"
)

// Provider parses one upstream API format.
type Provider interface {
	// Name returns the canonical provider name (e.g., "xai")
	Name() string

	// ParseResponse decodes a complete, non-streaming response body.
	ParseResponse(payload []byte) (*llm.CompletionResponse, error)

	// ExtractMessage returns the assistant text of a complete response. When
	// reasoning content is present and skipReasoning is false, it is rendered
	// as a quoted block ahead of the answer.
	ExtractMessage(resp *llm.CompletionResponse, skipReasoning bool) string

	// ParseStreamEvent decodes the data field of one stream event into a
	// StreamChunk, folding any tool-call delta into frags.
	ParseStreamEvent(data []byte, frags *llm.ToolCallFragments) (llm.StreamChunk, error)
}
