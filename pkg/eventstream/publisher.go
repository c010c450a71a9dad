// Package eventstream defines the event emitted after a relayed turn is
// persisted, and the Publisher interface its backends implement.
package eventstream

import (
	"context"
	"errors"
)

// ErrNilTurnEvent is returned by publishers handed a nil event.
var ErrNilTurnEvent = errors.New("nil turn event")

// Publisher delivers turn events to a stream backend. Implementations must be
// safe for concurrent use by the worker pool.
type Publisher interface {
	PublishTurn(ctx context.Context, event *TurnPersistedEvent) error
	Close() error
}
