// Package imagecache stores resolved image data-URIs keyed by their source URL.
package imagecache

import (
	"context"
	"time"
)

// Defaults for a bounded cache.
const (
	DefaultMaxEntries = 256
	DefaultTTL        = time.Hour
)

// Cache maps a source URL to its embeddable data-URI.
//
// Implementations must be safe for concurrent use. A miss is reported as
// ("", false, nil); errors are reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Close() error
}
