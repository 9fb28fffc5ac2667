package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/samber/mo"

	"github.com/tonimelisma/calsync/internal/calendar"
)

const eventColumns = `id, calendar_id, uid, etag, title, description, author, location,
	start_at, start_date_only, end_at, end_date_only, status, recurrence,
	original_uid, original_href, original_start, original_start_date_only,
	edit_url, updated, synced_at`

const (
	sqlGetEvent = `SELECT ` + eventColumns + ` FROM events WHERE calendar_id = ? AND uid = ?`

	sqlListEvents = `SELECT ` + eventColumns + ` FROM events WHERE calendar_id = ? ORDER BY uid`

	sqlInsertEvent = `INSERT INTO events (` + eventColumns + `, seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlUpdateEvent = `UPDATE events SET
		etag = ?, title = ?, description = ?, author = ?, location = ?,
		start_at = ?, start_date_only = ?, end_at = ?, end_date_only = ?,
		status = ?, recurrence = ?,
		original_uid = ?, original_href = ?, original_start = ?, original_start_date_only = ?,
		edit_url = ?, updated = ?, synced_at = ?,
		seen_at = COALESCE(MAX(seen_at, ?), seen_at, ?)
		WHERE id = ?`

	sqlRefreshSeenEvents = `UPDATE events SET seen_at = ?
		WHERE calendar_id = ? AND seen_at < ?
		AND seen_at >= (SELECT events_synced_at FROM calendars WHERE id = ?)`

	sqlSeenEvents = `UPDATE events SET seen_at = MAX(COALESCE(seen_at, 0), ?)
		WHERE calendar_id = ? AND uid IN `
)

// FindEvent looks up an event of the calendar by remote uid.
func (s *Store) FindEvent(ctx context.Context, calendarID, uid string) (*calendar.Event, bool, error) {
	e, err := scanEvent(s.db.QueryRowContext(ctx, sqlGetEvent, calendarID, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("store: finding event %q: %w", uid, err)
	}

	return e, true, nil
}

// ListEvents returns the calendar's events ordered by uid.
func (s *Store) ListEvents(ctx context.Context, calendarID string) ([]*calendar.Event, error) {
	rows, err := s.db.QueryContext(ctx, sqlListEvents, calendarID)
	if err != nil {
		return nil, fmt.Errorf("store: listing events: %w", err)
	}
	defer rows.Close()

	var out []*calendar.Event

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scanning event: %w", err)
		}

		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating events: %w", err)
	}

	return out, nil
}

// AddEvent inserts a new event. A second event with the same uid in the
// calendar fails with calendar.ErrIdentityConflict.
func (s *Store) AddEvent(ctx context.Context, e *calendar.Event) error {
	args := append([]any{e.ID, e.CalendarID, e.UID}, eventFieldArgs(e)...)
	args = append(args, nullTime(e.SyncedAt), nullTime(e.SyncedAt))

	if _, err := s.db.ExecContext(ctx, sqlInsertEvent, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: event %q", calendar.ErrIdentityConflict, e.UID)
		}

		return fmt.Errorf("store: adding event %q: %w", e.UID, err)
	}

	return nil
}

// SaveEvent writes the remote-owned fields and sync stamp of an existing
// event. The seen stamp only moves forward.
func (s *Store) SaveEvent(ctx context.Context, e *calendar.Event) error {
	synced := nullTime(e.SyncedAt)
	args := append(eventFieldArgs(e), synced, synced, synced, e.ID)

	res, err := s.db.ExecContext(ctx, sqlUpdateEvent, args...)
	if err != nil {
		return fmt.Errorf("store: saving event %q: %w", e.UID, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: event %q", ErrNotFound, e.UID)
	}

	return nil
}

// RefreshSeenEvents carries the seen stamp forward to at for every event
// of the calendar that its last complete event pass saw. It stands in for
// an event pass skipped because the calendar itself is unchanged. Nothing
// is refreshed for a calendar without an event-pass stamp.
func (s *Store) RefreshSeenEvents(ctx context.Context, calendarID string, at time.Time) error {
	n := at.UnixNano()

	if _, err := s.db.ExecContext(ctx, sqlRefreshSeenEvents, n, calendarID, n, calendarID); err != nil {
		return fmt.Errorf("store: refreshing seen events of calendar %s: %w", calendarID, err)
	}

	return nil
}

// eventFieldArgs lists the remote-owned columns in eventColumns order,
// from etag through updated.
func eventFieldArgs(e *calendar.Event) []any {
	var (
		origUID, origHref sql.NullString
		origStart         sql.NullInt64
		origDateOnly      bool
	)

	if ref, ok := e.Original.Get(); ok {
		origUID = sql.NullString{String: ref.UID, Valid: true}
		origHref = nullString(ref.Href)

		if start, ok := ref.OriginalStart.Get(); ok {
			origStart = nullInstant(start)
			origDateOnly = start.DateOnly
		}
	}

	return []any{
		e.ETag,
		nullString(e.Title), nullString(e.Description), nullString(e.Author), nullString(e.Location),
		nullInstant(e.Start), boolInt(e.Start.DateOnly),
		nullInstant(e.End), boolInt(e.End.DateOnly),
		string(statusOrDefault(e.Status)), nullString(e.Recurrence),
		origUID, origHref, origStart, boolInt(origDateOnly),
		nullString(e.EditURL), e.Updated.UnixNano(),
	}
}

func statusOrDefault(s calendar.Status) calendar.Status {
	if s == "" {
		return calendar.StatusConfirmed
	}

	return s
}

func nullInstant(t calendar.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func instant(n sql.NullInt64, dateOnly int) calendar.Time {
	if !n.Valid {
		return calendar.Time{}
	}

	return calendar.Time{Time: fromNanos(n.Int64), DateOnly: dateOnly != 0}
}

func scanEvent(row scanner) (*calendar.Event, error) {
	var (
		e                                   calendar.Event
		title, desc, author, loc            sql.NullString
		recurrence, origUID, origHref, edit sql.NullString
		start, end, origStart, syncedAt     sql.NullInt64
		startDO, endDO, origDO              int
		status                              string
		updated                             int64
	)

	err := row.Scan(&e.ID, &e.CalendarID, &e.UID, &e.ETag,
		&title, &desc, &author, &loc,
		&start, &startDO, &end, &endDO, &status, &recurrence,
		&origUID, &origHref, &origStart, &origDO,
		&edit, &updated, &syncedAt)
	if err != nil {
		return nil, err
	}

	e.Title = optionString(title)
	e.Description = optionString(desc)
	e.Author = optionString(author)
	e.Location = optionString(loc)
	e.Start = instant(start, startDO)
	e.End = instant(end, endDO)
	e.Status = calendar.Status(status)
	e.Recurrence = optionString(recurrence)
	e.EditURL = optionString(edit)
	e.Updated = fromNanos(updated)
	e.SyncedAt = optionTime(syncedAt)

	if origUID.Valid {
		ref := calendar.OriginalRef{UID: origUID.String, Href: optionString(origHref)}
		if origStart.Valid {
			ref.OriginalStart = mo.Some(instant(origStart, origDO))
		}

		e.Original = mo.Some(ref)
	}

	return &e, nil
}
