// Package store persists feeds, calendars, events and the conflict ledger in
// a single SQLite database (pure-Go modernc driver). It is the repository
// behind the sync coordinator: uid uniqueness per calendar and per feed is
// enforced by UNIQUE constraints, and a violation surfaces as
// calendar.ErrIdentityConflict.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/mo"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/tonimelisma/calsync/internal/calendar"
)

const dataDirPermissions = 0o700

// ErrNotFound is returned when a named feed does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the sole writer to the cache database.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), dataDirPermissions); err != nil {
		return nil, fmt.Errorf("store: creating directory for %s: %w", path, err)
	}

	// DSN pragmas apply to every pooled connection.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}

	// Sole writer: one connection orders every create-vs-match decision.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("store opened", slog.String("path", path))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()

		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	return false
}

func nullString(o mo.Option[string]) sql.NullString {
	v, ok := o.Get()

	return sql.NullString{String: v, Valid: ok}
}

func optionString(ns sql.NullString) mo.Option[string] {
	if !ns.Valid {
		return mo.None[string]()
	}

	return calendar.NormalizeText(ns.String)
}

func nullTime(o mo.Option[time.Time]) sql.NullInt64 {
	v, ok := o.Get()
	if !ok {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: v.UnixNano(), Valid: true}
}

func optionTime(n sql.NullInt64) mo.Option[time.Time] {
	if !n.Valid {
		return mo.None[time.Time]()
	}

	return mo.Some(fromNanos(n.Int64))
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
