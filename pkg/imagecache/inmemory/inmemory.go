// Package inmemory is a process-local, LRU-bounded image cache with expiry.
package inmemory

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/papercomputeco/relay/pkg/imagecache"
)

// Cache implements imagecache.Cache on an expirable LRU. Writing a key
// again replaces its value and restarts its ttl.
type Cache struct {
	lru *expirable.LRU[string, string]
}

// New returns a cache holding at most maxEntries values, each valid for ttl.
// A non-positive maxEntries or ttl falls back to the package defaults.
func New(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = imagecache.DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = imagecache.DefaultTTL
	}
	return &Cache{lru: expirable.NewLRU[string, string](maxEntries, nil, ttl)}
}

func (c *Cache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := c.lru.Get(key)
	return v, ok, nil
}

func (c *Cache) Put(_ context.Context, key, value string) error {
	c.lru.Add(key, value)
	return nil
}

// Len returns the number of entries, including expired ones not yet purged.
func (c *Cache) Len() int {
	return c.lru.Len()
}

func (c *Cache) Close() error {
	c.lru.Purge()
	return nil
}
