// Package inmemory provides a map-backed storage driver for tests and
// ephemeral proxies.
package inmemory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/papercomputeco/relay/pkg/storage"
)

// Driver implements storage.Driver using an in-memory map.
type Driver struct {
	// mu is a read write sync mutex for locking the mapping of turns
	mu sync.RWMutex

	turns map[uuid.UUID]*storage.Turn
}

// NewDriver creates a new in-memory storer.
func NewDriver() *Driver {
	return &Driver{
		turns: make(map[uuid.UUID]*storage.Turn),
	}
}

// Put stores a copy of turn. An existing ID is left untouched.
func (s *Driver) Put(_ context.Context, turn *storage.Turn) error {
	if turn == nil {
		return storage.ErrNilTurn
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.turns[turn.ID]; ok {
		return nil
	}

	stored := *turn
	s.turns[turn.ID] = &stored
	return nil
}

// Get retrieves a turn by ID.
func (s *Driver) Get(_ context.Context, id uuid.UUID) (*storage.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turn, ok := s.turns[id]
	if !ok {
		return nil, storage.NotFoundError{ID: id.String()}
	}

	out := *turn
	return &out, nil
}

// List returns up to limit turns, newest first.
func (s *Driver) List(_ context.Context, limit int) ([]*storage.Turn, error) {
	s.mu.RLock()
	out := make([]*storage.Turn, 0, len(s.turns))
	for _, turn := range s.turns {
		t := *turn
		out = append(out, &t)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *storage.Turn) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op.
func (s *Driver) Close() error {
	return nil
}
