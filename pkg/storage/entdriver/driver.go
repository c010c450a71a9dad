// Package entdriver implements storage.Driver on any SQL database ent
// supports. Schema migration runs through ent's migrate engine; queries are
// built with ent's dialect-aware SQL builder so one implementation serves
// both SQLite and PostgreSQL.
package entdriver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	"github.com/google/uuid"

	"github.com/papercomputeco/relay/pkg/storage"
)

// EntDriver provides storage operations over an ent SQL driver.
// It is database-agnostic and can be embedded by specific drivers.
type EntDriver struct {
	drv *entsql.Driver
}

// New migrates the schema on drv and returns a driver over it.
func New(ctx context.Context, drv *entsql.Driver) (*EntDriver, error) {
	migrate, err := schema.NewMigrate(drv)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare migration: %w", err)
	}

	// Append-only schema changes (new tables, columns, indexes).
	if err := migrate.Create(ctx, Tables...); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &EntDriver{drv: drv}, nil
}

// Open opens a database/sql handle, runs prepare on it, then migrates and
// wraps it. The handle is closed on any failure.
func Open(ctx context.Context, sqlDriver, dialectName, dsn string, prepare func(context.Context, *sql.DB) error) (*EntDriver, error) {
	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", dialectName, err)
	}

	if prepare != nil {
		if err := prepare(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	ed, err := New(ctx, entsql.OpenDB(dialectName, db))
	if err != nil {
		db.Close()
		return nil, err
	}
	return ed, nil
}

func (ed *EntDriver) builder() *entsql.DialectBuilder {
	return entsql.Dialect(ed.drv.Dialect())
}

func (ed *EntDriver) db() *sql.DB {
	return ed.drv.DB()
}

// Put stores a turn. Storing an existing ID is a no-op.
func (ed *EntDriver) Put(ctx context.Context, t *storage.Turn) error {
	if t == nil {
		return storage.ErrNilTurn
	}

	query, args := ed.builder().
		Insert(turnsTableName).
		Columns(columnNames()...).
		Values(
			t.ID.String(),
			t.Model,
			t.Path,
			t.Stream,
			t.Status,
			t.Prompt,
			t.Response,
			t.DurationMS,
			t.CreatedAt.UTC(),
		).
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.DoNothing(),
		).
		Query()

	if _, err := ed.db().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}
	return nil
}

// Get retrieves a turn by ID.
func (ed *EntDriver) Get(ctx context.Context, id uuid.UUID) (*storage.Turn, error) {
	query, args := ed.builder().
		Select(columnNames()...).
		From(entsql.Table(turnsTableName)).
		Where(entsql.EQ("id", id.String())).
		Query()

	t, err := scanTurn(ed.db().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NotFoundError{ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get turn: %w", err)
	}
	return t, nil
}

// List returns up to limit turns, newest first.
func (ed *EntDriver) List(ctx context.Context, limit int) ([]*storage.Turn, error) {
	selector := ed.builder().
		Select(columnNames()...).
		From(entsql.Table(turnsTableName)).
		OrderBy(entsql.Desc("created_at"), entsql.Asc("id"))
	if limit > 0 {
		selector.Limit(limit)
	}
	query, args := selector.Query()

	rows, err := ed.db().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	var turns []*storage.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	return turns, nil
}

// Close closes the underlying database.
func (ed *EntDriver) Close() error {
	return ed.drv.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTurn(row scanner) (*storage.Turn, error) {
	var (
		t  storage.Turn
		id string
	)
	if err := row.Scan(
		&id,
		&t.Model,
		&t.Path,
		&t.Stream,
		&t.Status,
		&t.Prompt,
		&t.Response,
		&t.DurationMS,
		&t.CreatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid turn id %q: %w", id, err)
	}
	t.ID = parsed
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}
