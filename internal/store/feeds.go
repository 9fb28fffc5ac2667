package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/calsync/internal/calendar"
)

const (
	sqlGetFeed    = `SELECT id, name, account, synced_at FROM feeds WHERE name = ?`
	sqlInsertFeed = `INSERT INTO feeds (id, name, account, synced_at) VALUES (?, ?, ?, ?)`
	sqlUpdateFeed = `UPDATE feeds SET account = ?, synced_at = ? WHERE id = ?`
	sqlListFeeds  = `SELECT id, name, account, synced_at FROM feeds ORDER BY name`
)

// EnsureFeed loads the named feed with its full calendar and event graph,
// creating an empty feed on first use.
func (s *Store) EnsureFeed(ctx context.Context, name, account string) (*calendar.Feed, error) {
	f, err := s.LoadFeed(ctx, name)
	if err == nil {
		return f, nil
	}

	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	f = calendar.NewFeed(name, account)

	if _, err := s.db.ExecContext(ctx, sqlInsertFeed, f.ID, f.Name, f.Account, nullTime(f.SyncedAt)); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: feed %q", calendar.ErrIdentityConflict, name)
		}

		return nil, fmt.Errorf("store: creating feed %q: %w", name, err)
	}

	s.logger.Info("feed created", slog.String("feed", name), slog.String("id", f.ID))

	return f, nil
}

// LoadFeed returns the named feed with every calendar and event attached.
func (s *Store) LoadFeed(ctx context.Context, name string) (*calendar.Feed, error) {
	f, err := scanFeed(s.db.QueryRowContext(ctx, sqlGetFeed, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: feed %q", ErrNotFound, name)
	}

	if err != nil {
		return nil, fmt.Errorf("store: loading feed %q: %w", name, err)
	}

	cals, err := s.ListCalendars(ctx, f.ID)
	if err != nil {
		return nil, err
	}

	for _, c := range cals {
		events, err := s.ListEvents(ctx, c.ID)
		if err != nil {
			return nil, err
		}

		for _, e := range events {
			if err := c.AddEvent(e); err != nil {
				return nil, err
			}
		}

		if err := f.AddCalendar(c); err != nil {
			return nil, err
		}
	}

	s.logger.Debug("feed loaded",
		slog.String("feed", name),
		slog.Int("calendars", len(cals)),
	)

	return f, nil
}

// SaveFeed persists the feed's account and sync stamp.
func (s *Store) SaveFeed(ctx context.Context, f *calendar.Feed) error {
	res, err := s.db.ExecContext(ctx, sqlUpdateFeed, f.Account, nullTime(f.Stamp()), f.ID)
	if err != nil {
		return fmt.Errorf("store: saving feed %q: %w", f.Name, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: feed %q", ErrNotFound, f.Name)
	}

	return nil
}

// ListFeeds returns every feed ordered by name, without calendars.
func (s *Store) ListFeeds(ctx context.Context) ([]*calendar.Feed, error) {
	rows, err := s.db.QueryContext(ctx, sqlListFeeds)
	if err != nil {
		return nil, fmt.Errorf("store: listing feeds: %w", err)
	}
	defer rows.Close()

	var out []*calendar.Feed

	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scanning feed: %w", err)
		}

		out = append(out, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating feeds: %w", err)
	}

	return out, nil
}

func scanFeed(row scanner) (*calendar.Feed, error) {
	var (
		f        calendar.Feed
		syncedAt sql.NullInt64
	)

	if err := row.Scan(&f.ID, &f.Name, &f.Account, &syncedAt); err != nil {
		return nil, err
	}

	f.SyncedAt = optionTime(syncedAt)

	return &f, nil
}
