// Package sqlite provides a SQLite-backed image cache that survives restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/relay/pkg/imagecache"
)

const table = "image_cache"

const schema = `CREATE TABLE IF NOT EXISTS image_cache (
	url         TEXT PRIMARY KEY,
	data_uri    TEXT NOT NULL,
	expires_at  INTEGER NOT NULL,
	accessed_at INTEGER NOT NULL
)`

// pruneLRU keeps only the most recently accessed entries.
const pruneLRU = `DELETE FROM image_cache WHERE url NOT IN (
	SELECT url FROM image_cache ORDER BY accessed_at DESC LIMIT ?
)`

// Cache implements imagecache.Cache on a SQLite table.
type Cache struct {
	db         *sql.DB
	maxEntries int
	ttl        time.Duration

	// Now is the clock used for expiry. Tests may replace it.
	Now func() time.Time
}

// New opens (or creates) the cache database at dbPath. The dbPath can be a
// file path or ":memory:".
func New(dbPath string, maxEntries int, ttl time.Duration) (*Cache, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if maxEntries <= 0 {
		maxEntries = imagecache.DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = imagecache.DefaultTTL
	}

	return &Cache{
		db:         db,
		maxEntries: maxEntries,
		ttl:        ttl,
		Now:        time.Now,
	}, nil
}

func (c *Cache) builder() *entsql.DialectBuilder {
	return entsql.Dialect(dialect.SQLite)
}

func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	query, args := c.builder().
		Select("data_uri", "expires_at").
		From(entsql.Table(table)).
		Where(entsql.EQ("url", key)).
		Query()

	var (
		value     string
		expiresAt int64
	)
	err := c.db.QueryRowContext(ctx, query, args...).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	now := c.Now()
	if now.UnixNano() >= expiresAt {
		del, dargs := c.builder().Delete(table).Where(entsql.EQ("url", key)).Query()
		if _, err := c.db.ExecContext(ctx, del, dargs...); err != nil {
			return "", false, fmt.Errorf("failed to drop expired entry: %w", err)
		}
		return "", false, nil
	}

	upd, uargs := c.builder().
		Update(table).
		Set("accessed_at", now.UnixNano()).
		Where(entsql.EQ("url", key)).
		Query()
	if _, err := c.db.ExecContext(ctx, upd, uargs...); err != nil {
		return "", false, fmt.Errorf("failed to touch cache entry: %w", err)
	}

	return value, true, nil
}

func (c *Cache) Put(ctx context.Context, key, value string) error {
	now := c.Now()
	query, args := c.builder().
		Insert(table).
		Columns("url", "data_uri", "expires_at", "accessed_at").
		Values(key, value, now.Add(c.ttl).UnixNano(), now.UnixNano()).
		OnConflict(
			entsql.ConflictColumns("url"),
			entsql.ResolveWithNewValues(),
		).
		Query()

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	if _, err := c.db.ExecContext(ctx, pruneLRU, c.maxEntries); err != nil {
		return fmt.Errorf("failed to prune cache: %w", err)
	}
	return nil
}

// Len returns the number of stored entries.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM image_cache").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}
