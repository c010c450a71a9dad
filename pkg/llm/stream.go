package llm

// StreamChunk is the parsed form of one inbound stream event. A chunk with
// empty Content carries no text and does not affect accumulated state.
type StreamChunk struct {
	IsThinking bool
	Content    string
}

// ToolCallFragments accumulates tool-call deltas for one streaming round,
// keyed by the position index of each call.
type ToolCallFragments struct {
	calls []ToolCall
}

// Apply folds a delta into the accumulator. A delta carrying an ID opens a
// new fragment; a delta without one appends its argument text to the
// fragment at its index. Deltas for an index that was never opened are
// dropped.
func (f *ToolCallFragments) Apply(d ToolCallDelta) {
	if d.ID != "" {
		kind := d.Type
		if kind == "" {
			kind = "function"
		}
		f.calls = append(f.calls, ToolCall{
			ID:   d.ID,
			Type: kind,
			Function: FunctionCall{
				Name:      d.Function.Name,
				Arguments: d.Function.Arguments,
			},
		})
		return
	}

	if d.Index < 0 || d.Index >= len(f.calls) {
		return
	}
	f.calls[d.Index].Function.Arguments += d.Function.Arguments
}

// Len returns the number of open fragments.
func (f *ToolCallFragments) Len() int {
	return len(f.calls)
}

// Calls returns a copy of the accumulated calls without clearing them.
func (f *ToolCallFragments) Calls() []ToolCall {
	out := make([]ToolCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// Drain returns the accumulated calls and clears the accumulator.
func (f *ToolCallFragments) Drain() []ToolCall {
	out := f.calls
	f.calls = nil
	return out
}
