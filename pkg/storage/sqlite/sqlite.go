// Package sqlite stores the turn log in a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"entgo.io/ent/dialect"
	_ "github.com/mattn/go-sqlite3" // registers "sqlite3"

	"github.com/papercomputeco/relay/pkg/storage/entdriver"
)

// Driver is a storage.Driver on SQLite.
type Driver struct {
	*entdriver.EntDriver
}

// NewDriver opens (or creates) the database at path. ":memory:" gives a
// throwaway database that lives as long as the driver.
func NewDriver(ctx context.Context, path string) (*Driver, error) {
	ed, err := entdriver.Open(ctx, "sqlite3", dialect.SQLite, path, func(ctx context.Context, db *sql.DB) error {
		// One connection: ":memory:" and pragmas are both per connection.
		db.SetMaxOpenConns(1)

		// ent's migrate refuses SQLite without foreign keys.
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			return fmt.Errorf("enabling sqlite foreign keys: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Driver{EntDriver: ed}, nil
}
