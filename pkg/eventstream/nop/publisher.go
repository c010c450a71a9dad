// Package nop provides an eventstream publisher that drops every event.
package nop

import (
	"context"
	"sync/atomic"

	"github.com/papercomputeco/relay/pkg/eventstream"
)

// Publisher is a no-op eventstream publisher used for tests and disabled
// mode. It only counts what it was given.
type Publisher struct {
	published atomic.Int64
}

// NewPublisher creates a new no-op eventstream publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// PublishTurn validates input and otherwise does nothing.
func (p *Publisher) PublishTurn(_ context.Context, event *eventstream.TurnPersistedEvent) error {
	if event == nil {
		return eventstream.ErrNilTurnEvent
	}

	p.published.Add(1)
	return nil
}

// Published returns how many events were accepted.
func (p *Publisher) Published() int64 {
	return p.published.Load()
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}
