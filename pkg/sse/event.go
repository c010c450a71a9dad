// Package sse parses Server-Sent Events from an upstream chat completions
// stream. A TeeReader additionally forwards the raw bytes verbatim to a
// downstream writer, so the proxy can relay a stream while recording it.
//
// Only the reading side is implemented. See the event stream format:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

import "strings"

// Done is the data payload that terminates a chat completions stream.
const Done = "[DONE]"

// Event represents a single parsed SSE event, delimited by a blank line
// in the upstream byte stream.
type Event struct {
	// Type is the "event:" field. Empty means the default "message" type.
	Type string

	// Data is every "data:" line of the event joined with "\n".
	Data string

	// ID is the last "id:" field, if present.
	ID string

	// Retry is the raw "retry:" field, if present.
	Retry string
}

// IsDone reports whether the event is the stream terminator.
func (e *Event) IsDone() bool {
	return strings.TrimSpace(e.Data) == Done
}

// IsBlank reports whether the event carries no data.
func (e *Event) IsBlank() bool {
	return strings.TrimSpace(e.Data) == ""
}
