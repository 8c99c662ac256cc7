// Package migrations embeds the schema for both supported databases and
// applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Dialect selects which schema directory to apply.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

func (d Dialect) goose() (database.Dialect, error) {
	switch d {
	case Postgres:
		return database.DialectPostgres, nil
	case SQLite:
		return database.DialectSQLite3, nil
	}
	return "", fmt.Errorf("unsupported dialect %q", d)
}

// Up applies all pending migrations for the dialect.
func Up(ctx context.Context, db *sql.DB, d Dialect) error {
	provider, err := newProvider(db, d)
	if err != nil {
		return err
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		slog.Debug("migration applied", "dialect", d, "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// Version returns the current schema version.
func Version(ctx context.Context, db *sql.DB, d Dialect) (int64, error) {
	provider, err := newProvider(db, d)
	if err != nil {
		return 0, err
	}
	return provider.GetDBVersion(ctx)
}

func newProvider(db *sql.DB, d Dialect) (*goose.Provider, error) {
	dialect, err := d.goose()
	if err != nil {
		return nil, err
	}
	sub, err := fs.Sub(files, string(d))
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(dialect, db, sub)
}
