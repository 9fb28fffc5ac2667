package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/calsync/internal/calendar"
)

const (
	// An open entry for the same record is refreshed, not duplicated.
	sqlRecordConflict = `INSERT INTO conflicts
		(id, feed_id, kind, uid, calendar_uid, local_updated, remote_updated, detected_at, resolution)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'unresolved')
		ON CONFLICT (feed_id, kind, calendar_uid, uid) WHERE resolution = 'unresolved'
		DO UPDATE SET
		 local_updated = excluded.local_updated,
		 remote_updated = excluded.remote_updated
		RETURNING id, detected_at`

	sqlListConflicts = `SELECT id, feed_id, kind, uid, calendar_uid, local_updated,
		remote_updated, detected_at, resolution, resolved_at
		FROM conflicts WHERE feed_id = ?`

	sqlResolveConflict = `UPDATE conflicts SET resolution = ?, resolved_at = ?
		WHERE id = ? AND resolution = 'unresolved'`

	sqlStale = `SELECT 'calendar', uid, uid, title, synced_at, seen_at
		FROM calendars
		WHERE feed_id = ? AND (seen_at IS NULL OR seen_at < ?)
		UNION ALL
		SELECT 'event', e.uid, c.uid, COALESCE(e.title, ''), e.synced_at, e.seen_at
		FROM events e JOIN calendars c ON c.id = e.calendar_id
		WHERE c.feed_id = ? AND (e.seen_at IS NULL OR e.seen_at < ?)
		ORDER BY 1, 3, 2`
)

// seenBatch bounds the number of uids bound to one UPDATE.
const seenBatch = 500

// RecordConflict appends c to the ledger, or refreshes the stamps of the
// record's open entry. c.ID and c.DetectedAt are set from the stored row.
func (s *Store) RecordConflict(ctx context.Context, c *calendar.Conflict) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	if c.DetectedAt.IsZero() {
		c.DetectedAt = s.nowFunc()
	}

	var detected int64

	err := s.db.QueryRowContext(ctx, sqlRecordConflict,
		c.ID, c.FeedID, string(c.Kind), c.UID, c.CalendarUID,
		c.LocalUpdated.UnixNano(), c.RemoteUpdated.UnixNano(), c.DetectedAt.UnixNano(),
	).Scan(&c.ID, &detected)
	if err != nil {
		return fmt.Errorf("store: recording %s conflict %q: %w", c.Kind, c.UID, err)
	}

	c.DetectedAt = fromNanos(detected)
	c.Resolution = calendar.ResolutionUnresolved

	s.logger.Debug("conflict recorded",
		slog.String("id", c.ID),
		slog.String("kind", string(c.Kind)),
		slog.String("uid", c.UID),
	)

	return nil
}

// ListConflicts returns the feed's ledger, oldest first. With
// unresolvedOnly, entries already pushed or failed are omitted.
func (s *Store) ListConflicts(ctx context.Context, feedID string, unresolvedOnly bool) ([]calendar.Conflict, error) {
	query := sqlListConflicts
	if unresolvedOnly {
		query += ` AND resolution = 'unresolved'`
	}

	query += ` ORDER BY detected_at, kind, calendar_uid, uid`

	rows, err := s.db.QueryContext(ctx, query, feedID)
	if err != nil {
		return nil, fmt.Errorf("store: listing conflicts: %w", err)
	}
	defer rows.Close()

	var out []calendar.Conflict

	for rows.Next() {
		var (
			c                             calendar.Conflict
			kind, resolution              string
			localUpd, remoteUpd, detected int64
			resolvedAt                    sql.NullInt64
		)

		if err := rows.Scan(&c.ID, &c.FeedID, &kind, &c.UID, &c.CalendarUID,
			&localUpd, &remoteUpd, &detected, &resolution, &resolvedAt); err != nil {
			return nil, fmt.Errorf("store: scanning conflict: %w", err)
		}

		c.Kind = calendar.EntityKind(kind)
		c.Resolution = calendar.Resolution(resolution)
		c.LocalUpdated = fromNanos(localUpd)
		c.RemoteUpdated = fromNanos(remoteUpd)
		c.DetectedAt = fromNanos(detected)
		c.ResolvedAt = optionTime(resolvedAt)

		out = append(out, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating conflicts: %w", err)
	}

	return out, nil
}

// ResolveConflict closes an open ledger entry.
func (s *Store) ResolveConflict(ctx context.Context, id string, res calendar.Resolution, at time.Time) error {
	result, err := s.db.ExecContext(ctx, sqlResolveConflict, string(res), at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("store: resolving conflict %s: %w", id, err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: open conflict %s", ErrNotFound, id)
	}

	return nil
}

// MarkSeen records that the remote snapshot of a pass still contained the
// given uids. parentID is the feed for calendars and the calendar for
// events. Unknown uids are ignored and record fields are not touched.
func (s *Store) MarkSeen(ctx context.Context, kind calendar.EntityKind, parentID string, uids []string, at time.Time) error {
	query := sqlSeenEvents
	if kind == calendar.EntityCalendar {
		query = sqlSeenCalendars
	}

	for chunk := range slices.Chunk(uids, seenBatch) {
		args := make([]any, 0, len(chunk)+2)
		args = append(args, at.UnixNano(), parentID)

		for _, uid := range chunk {
			args = append(args, uid)
		}

		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")

		if _, err := s.db.ExecContext(ctx, query+"("+placeholders+")", args...); err != nil {
			return fmt.Errorf("store: marking %s records seen: %w", kind, err)
		}
	}

	return nil
}

// Stale lists calendars and events of the feed that no pass has seen in the
// remote snapshot since before, calendars first. Unchanged records count as
// seen. Nothing is deleted.
func (s *Store) Stale(ctx context.Context, feedID string, before time.Time) ([]calendar.StaleRecord, error) {
	cutoff := before.UnixNano()

	rows, err := s.db.QueryContext(ctx, sqlStale, feedID, cutoff, feedID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: querying stale records: %w", err)
	}
	defer rows.Close()

	var out []calendar.StaleRecord

	for rows.Next() {
		var (
			r                calendar.StaleRecord
			kind             string
			syncedAt, seenAt sql.NullInt64
		)

		if err := rows.Scan(&kind, &r.UID, &r.CalendarUID, &r.Title, &syncedAt, &seenAt); err != nil {
			return nil, fmt.Errorf("store: scanning stale record: %w", err)
		}

		r.Kind = calendar.EntityKind(kind)
		if syncedAt.Valid {
			r.SyncedAt = fromNanos(syncedAt.Int64)
		}

		if seenAt.Valid {
			r.SeenAt = fromNanos(seenAt.Int64)
		}

		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating stale records: %w", err)
	}

	return out, nil
}
