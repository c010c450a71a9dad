package servecmder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/papercomputeco/relay/pkg/config"
	"github.com/papercomputeco/relay/pkg/eventstream"
	"github.com/papercomputeco/relay/pkg/eventstream/kafka"
	"github.com/papercomputeco/relay/pkg/eventstream/nop"
	"github.com/papercomputeco/relay/pkg/imagecache"
	"github.com/papercomputeco/relay/pkg/imagecache/inmemory"
	imagesqlite "github.com/papercomputeco/relay/pkg/imagecache/sqlite"
	"github.com/papercomputeco/relay/pkg/storage"
	storageinmemory "github.com/papercomputeco/relay/pkg/storage/inmemory"
	"github.com/papercomputeco/relay/pkg/storage/postgres"
	"github.com/papercomputeco/relay/pkg/storage/sqlite"
)

// newStorageDriver picks the turn log backend: PostgreSQL when a DSN is set,
// then SQLite, then memory.
func newStorageDriver(ctx context.Context, v *viper.Viper, log *slog.Logger) (storage.Driver, error) {
	if dsn := v.GetString("storage.postgres_dsn"); dsn != "" {
		driver, err := postgres.NewDriver(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL storer: %w", err)
		}
		log.Info("using PostgreSQL storage")
		return driver, nil
	}

	if path := v.GetString("storage.sqlite_path"); path != "" {
		driver, err := sqlite.NewDriver(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite storer: %w", err)
		}
		log.Info("using SQLite storage", "path", path)
		return driver, nil
	}

	log.Info("using in-memory storage")
	return storageinmemory.NewDriver(), nil
}

func newImageCache(v *viper.Viper, log *slog.Logger) (imagecache.Cache, error) {
	maxEntries := v.GetInt("cache.max_entries")
	ttl := config.Duration(v.GetString("cache.ttl"), imagecache.DefaultTTL)

	switch provider := v.GetString("cache.provider"); provider {
	case "", "memory":
		log.Info("using in-memory image cache", "max_entries", maxEntries, "ttl", ttl)
		return inmemory.New(maxEntries, ttl), nil

	case "sqlite":
		path := v.GetString("cache.sqlite_path")
		if path == "" {
			return nil, fmt.Errorf("cache.provider %q requires cache.sqlite_path", provider)
		}
		cache, err := imagesqlite.New(path, maxEntries, ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite image cache: %w", err)
		}
		log.Info("using SQLite image cache", "path", path, "max_entries", maxEntries, "ttl", ttl)
		return cache, nil

	default:
		return nil, fmt.Errorf("unknown cache provider: %q (supported: memory, sqlite)", provider)
	}
}

func newPublisher(v *viper.Viper, log *slog.Logger) (eventstream.Publisher, error) {
	switch provider := v.GetString("eventstream.provider"); provider {
	case "", "nop":
		return nop.NewPublisher(), nil

	case "kafka":
		pub, err := kafka.NewPublisher(kafka.Config{
			Brokers:  config.StringList(v, "eventstream.brokers"),
			Topic:    v.GetString("eventstream.topic"),
			ClientID: v.GetString("eventstream.client_id"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka publisher: %w", err)
		}
		log.Info("publishing turn events to Kafka", "topic", v.GetString("eventstream.topic"))
		return pub, nil

	default:
		return nil, fmt.Errorf("unknown event stream provider: %q (supported: nop, kafka)", provider)
	}
}
