package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tonimelisma/calsync/internal/calendar"
)

const calendarColumns = `id, feed_id, uid, etag, title, summary, color, time_zone,
	hidden, event_feed_url, edit_url, updated, synced_at, events_synced_at`

const (
	sqlGetCalendar = `SELECT ` + calendarColumns + ` FROM calendars WHERE feed_id = ? AND uid = ?`

	sqlListCalendars = `SELECT ` + calendarColumns + ` FROM calendars WHERE feed_id = ? ORDER BY uid`

	sqlInsertCalendar = `INSERT INTO calendars (` + calendarColumns + `, seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlUpdateCalendar = `UPDATE calendars SET
		etag = ?, title = ?, summary = ?, color = ?, time_zone = ?, hidden = ?,
		event_feed_url = ?, edit_url = ?, updated = ?, synced_at = ?,
		seen_at = COALESCE(MAX(seen_at, ?), seen_at, ?)
		WHERE id = ?`

	sqlSaveEventPass = `UPDATE calendars SET events_synced_at = ? WHERE id = ?`

	sqlSeenCalendars = `UPDATE calendars SET seen_at = MAX(COALESCE(seen_at, 0), ?)
		WHERE feed_id = ? AND uid IN `
)

// FindCalendar looks up a calendar of the feed by remote uid. The returned
// record has no events attached.
func (s *Store) FindCalendar(ctx context.Context, feedID, uid string) (*calendar.Calendar, bool, error) {
	c, err := scanCalendar(s.db.QueryRowContext(ctx, sqlGetCalendar, feedID, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("store: finding calendar %q: %w", uid, err)
	}

	return c, true, nil
}

// ListCalendars returns the feed's calendars ordered by uid, without events.
func (s *Store) ListCalendars(ctx context.Context, feedID string) ([]*calendar.Calendar, error) {
	rows, err := s.db.QueryContext(ctx, sqlListCalendars, feedID)
	if err != nil {
		return nil, fmt.Errorf("store: listing calendars: %w", err)
	}
	defer rows.Close()

	var out []*calendar.Calendar

	for rows.Next() {
		c, err := scanCalendar(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scanning calendar: %w", err)
		}

		out = append(out, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating calendars: %w", err)
	}

	return out, nil
}

// AddCalendar inserts a new calendar. A second calendar with the same uid
// in the feed fails with calendar.ErrIdentityConflict.
func (s *Store) AddCalendar(ctx context.Context, c *calendar.Calendar) error {
	_, err := s.db.ExecContext(ctx, sqlInsertCalendar,
		c.ID, c.FeedID, c.UID, c.ETag, c.Title,
		nullString(c.Summary), nullString(c.Color), nullString(c.TimeZone),
		boolInt(c.Hidden), c.EventFeedURL, nullString(c.EditURL),
		c.Updated.UnixNano(), nullTime(c.SyncedAt), nullTime(c.EventsSyncedAt),
		nullTime(c.SyncedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: calendar %q", calendar.ErrIdentityConflict, c.UID)
		}

		return fmt.Errorf("store: adding calendar %q: %w", c.UID, err)
	}

	return nil
}

// SaveCalendar writes the remote-owned fields and sync stamp of an existing
// calendar. The event-pass stamp is left alone; the seen stamp only moves
// forward.
func (s *Store) SaveCalendar(ctx context.Context, c *calendar.Calendar) error {
	synced := nullTime(c.SyncedAt)

	res, err := s.db.ExecContext(ctx, sqlUpdateCalendar,
		c.ETag, c.Title, nullString(c.Summary), nullString(c.Color), nullString(c.TimeZone),
		boolInt(c.Hidden), c.EventFeedURL, nullString(c.EditURL),
		c.Updated.UnixNano(), synced, synced, synced,
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("store: saving calendar %q: %w", c.UID, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: calendar %q", ErrNotFound, c.UID)
	}

	return nil
}

// SaveEventPass writes the calendar's event-pass stamp, clearing it when
// the stamp is absent.
func (s *Store) SaveEventPass(ctx context.Context, c *calendar.Calendar) error {
	res, err := s.db.ExecContext(ctx, sqlSaveEventPass, nullTime(c.EventsSyncedAt), c.ID)
	if err != nil {
		return fmt.Errorf("store: saving event pass of calendar %q: %w", c.UID, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: calendar %q", ErrNotFound, c.UID)
	}

	return nil
}

func scanCalendar(row scanner) (*calendar.Calendar, error) {
	var (
		c                        calendar.Calendar
		summary, color, tz, edit sql.NullString
		hidden                   int
		updated                  int64
		syncedAt, eventsSyncedAt sql.NullInt64
	)

	err := row.Scan(&c.ID, &c.FeedID, &c.UID, &c.ETag, &c.Title,
		&summary, &color, &tz, &hidden, &c.EventFeedURL, &edit, &updated, &syncedAt, &eventsSyncedAt)
	if err != nil {
		return nil, err
	}

	c.Summary = optionString(summary)
	c.Color = optionString(color)
	c.TimeZone = optionString(tz)
	c.Hidden = hidden != 0
	c.EditURL = optionString(edit)
	c.Updated = fromNanos(updated)
	c.SyncedAt = optionTime(syncedAt)
	c.EventsSyncedAt = optionTime(eventsSyncedAt)

	return &c, nil
}
