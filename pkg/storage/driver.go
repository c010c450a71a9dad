// Package storage persists the turn log: one record per chat completion
// request relayed by the proxy.
package storage

import (
	"context"

	"github.com/google/uuid"
)

// Driver defines the interface for persisting and retrieving turns in a
// storage backend.
type Driver interface {
	// Put stores a turn. Storing a turn whose ID already exists is a no-op.
	Put(ctx context.Context, turn *Turn) error

	// Get retrieves a turn by ID. A missing turn is a NotFoundError.
	Get(ctx context.Context, id uuid.UUID) (*Turn, error)

	// List returns up to limit turns, newest first. A limit <= 0 returns
	// every turn.
	List(ctx context.Context, limit int) ([]*Turn, error)

	// Close closes the store and releases any resources.
	Close() error
}
