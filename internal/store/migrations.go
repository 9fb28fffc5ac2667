package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func newProvider(db *sql.DB) (*goose.Provider, error) {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("store: migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return nil, fmt.Errorf("store: migration provider: %w", err)
	}

	return provider, nil
}

// migrate brings the schema up to date and logs every applied version.
func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	provider, err := newProvider(db)
	if err != nil {
		return err
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("store: applying migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("schema migrated",
			slog.Int64("version", r.Source.Version),
			slog.String("source", r.Source.Path),
			slog.Duration("took", r.Duration),
		)
	}

	return nil
}

// SchemaVersion reports the highest applied migration.
func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	provider, err := newProvider(s.db)
	if err != nil {
		return 0, err
	}

	v, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: reading schema version: %w", err)
	}

	return v, nil
}
