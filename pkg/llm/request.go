package llm

import "encoding/json"

// ReasoningEffortHigh is the only reasoning_effort value the relay sends.
const ReasoningEffortHigh = "high"

// RequestPayload is the body POSTed to the upstream chat completions endpoint.
// Optional fields are nil (and omitted on the wire) unless the model's
// capabilities allow them.
type RequestPayload struct {
	Messages         []Message  `json:"messages"`
	Model            string     `json:"model"`
	Stream           bool       `json:"stream"`
	Temperature      float64    `json:"temperature"`
	TopP             float64    `json:"top_p"`
	MaxTokens        *int       `json:"max_tokens,omitempty"`
	PresencePenalty  *float64   `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64   `json:"frequency_penalty,omitempty"`
	ReasoningEffort  string     `json:"reasoning_effort,omitempty"`
	Tools            []ToolSpec `json:"tools,omitempty"`
}

// AppendToolRound appends the assistant tool_calls message followed by the
// tool result messages to the conversation.
func (p *RequestPayload) AppendToolRound(assistant Message, results ...Message) {
	p.Messages = append(p.Messages, assistant)
	p.Messages = append(p.Messages, results...)
}

// ToolSpec describes a function the model may call.
type ToolSpec struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

// FunctionSpec is the declaration half of a ToolSpec.
type FunctionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// NewFunctionTool builds a "function" ToolSpec.
func NewFunctionTool(name, description string, parameters json.RawMessage) ToolSpec {
	return ToolSpec{
		Type: "function",
		Function: FunctionSpec{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

// ToolCall is a complete function call requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall is the invocation half of a ToolCall. Arguments is raw JSON
// text as produced by the model.
type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}
