package vision

import (
	"errors"
	"fmt"
)

// Reason classifies why a description could not be produced.
type Reason string

const (
	ReasonTransport     Reason = "transport"
	ReasonStatus        Reason = "status"
	ReasonMalformed     Reason = "malformed response"
	ReasonUpstreamError Reason = "upstream error"
	ReasonEmpty         Reason = "empty description"
	ReasonNoInput       Reason = "no input"
)

// Error is returned by Relay.Describe.
type Error struct {
	// Status is the upstream HTTP status, or 0 when no response was received.
	Status int
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("vision relay: %s (status %d): %v", e.Reason, e.Status, e.Err)
	}
	return fmt.Sprintf("vision relay: %s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure may succeed on retry: transport
// errors and 5xx statuses.
func (e *Error) Transient() bool {
	return e.Reason == ReasonTransport || (e.Reason == ReasonStatus && e.Status >= 500)
}

// IsError reports whether err is, or wraps, a *Error.
func IsError(err error) bool {
	var verr *Error
	return errors.As(err, &verr)
}
