package llm

import "encoding/json"

// CompletionResponse is the upstream response object. The same shape carries
// both complete (non-streaming) responses, where Choices[].Message is set,
// and streaming events, where Choices[].Delta is set.
type CompletionResponse struct {
	ID      string          `json:"id,omitempty"`
	Object  string          `json:"object,omitempty"`
	Created int64           `json:"created,omitempty"`
	Model   string          `json:"model,omitempty"`
	Choices []Choice        `json:"choices"`
	Usage   *Usage          `json:"usage,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// Choice is a single completion alternative.
type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	Delta        Delta           `json:"delta"`
	FinishReason string          `json:"finish_reason,omitempty"`
}

// ResponseMessage is the assistant message of a non-streaming response.
type ResponseMessage struct {
	Role             Role       `json:"role,omitempty"`
	Content          string     `json:"content"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

// Delta is the incremental message of a streaming event.
type Delta struct {
	Role             Role            `json:"role,omitempty"`
	Content          string          `json:"content,omitempty"`
	ReasoningContent string          `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCallDelta `json:"tool_calls,omitempty"`
}

// ToolCallDelta is one fragment of a tool call. The first fragment at an
// index carries the ID and function name; later fragments carry only more
// argument text.
type ToolCallDelta struct {
	Index    int          `json:"index"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// Usage holds token counts reported by the upstream.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// HasError reports whether the response carries an explicit error field.
func (r *CompletionResponse) HasError() bool {
	return len(r.Error) > 0 && string(r.Error) != "null" && string(r.Error) != "false"
}
