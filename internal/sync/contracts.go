package sync

import (
	"context"
	"time"

	"github.com/tonimelisma/calsync/internal/calendar"
)

// Remote fetches snapshots from the calendar service. Implemented by
// *gdata.Client; tests use in-memory fakes.
type Remote interface {
	// FetchCalendars returns the container's update stamp and every
	// calendar entry of the feed.
	FetchCalendars(ctx context.Context, feed *calendar.Feed) (time.Time, []calendar.ParsedCalendar, error)
	// FetchEvents returns every event entry of a calendar.
	FetchEvents(ctx context.Context, cal *calendar.Calendar) ([]calendar.ParsedEvent, error)
	// FetchOriginalEvent follows an exception's link to its template.
	FetchOriginalEvent(ctx context.Context, ref calendar.OriginalRef) (calendar.ParsedEvent, error)
}

// Pusher writes local records back to the remote. Never called by Sync.
type Pusher interface {
	PushCalendar(ctx context.Context, cal *calendar.Calendar) error
	PushEvent(ctx context.Context, cal *calendar.Calendar, ev *calendar.Event) error
}

// Repository is the durable store behind a feed. Implemented by
// *store.Store.
type Repository interface {
	FindCalendar(ctx context.Context, feedID, uid string) (*calendar.Calendar, bool, error)
	AddCalendar(ctx context.Context, cal *calendar.Calendar) error
	SaveCalendar(ctx context.Context, cal *calendar.Calendar) error
	SaveEventPass(ctx context.Context, cal *calendar.Calendar) error

	FindEvent(ctx context.Context, calendarID, uid string) (*calendar.Event, bool, error)
	AddEvent(ctx context.Context, ev *calendar.Event) error
	SaveEvent(ctx context.Context, ev *calendar.Event) error

	SaveFeed(ctx context.Context, feed *calendar.Feed) error

	// MarkSeen stamps records still present in a snapshot. parentID is the
	// feed for calendars and the calendar for events.
	MarkSeen(ctx context.Context, kind calendar.EntityKind, parentID string, uids []string, at time.Time) error
	// RefreshSeenEvents marks seen the events a calendar's last complete
	// event pass saw, for calendars whose pass is skipped.
	RefreshSeenEvents(ctx context.Context, calendarID string, at time.Time) error

	RecordConflict(ctx context.Context, c *calendar.Conflict) error
	ListConflicts(ctx context.Context, feedID string, unresolvedOnly bool) ([]calendar.Conflict, error)
	ResolveConflict(ctx context.Context, id string, res calendar.Resolution, at time.Time) error

	Stale(ctx context.Context, feedID string, before time.Time) ([]calendar.StaleRecord, error)
}

// calendarCollection adapts a feed plus the repository to the reconciler's
// store contract. The in-memory graph is consulted first; records only
// present on disk are attached on first lookup.
type calendarCollection struct {
	repo Repository
	feed *calendar.Feed
}

func (s calendarCollection) FindByUID(ctx context.Context, uid string) (*calendar.Calendar, bool, error) {
	if c, ok := s.feed.Calendar(uid); ok {
		return c, true, nil
	}

	c, ok, err := s.repo.FindCalendar(ctx, s.feed.ID, uid)
	if err != nil || !ok {
		return nil, false, err
	}

	if err := s.feed.AddCalendar(c); err != nil {
		return nil, false, err
	}

	return c, true, nil
}

func (s calendarCollection) Add(ctx context.Context, c *calendar.Calendar) error {
	if err := s.repo.AddCalendar(ctx, c); err != nil {
		return err
	}

	return s.feed.AddCalendar(c)
}

func (s calendarCollection) Save(ctx context.Context, c *calendar.Calendar) error {
	return s.repo.SaveCalendar(ctx, c)
}

// eventCollection is the per-calendar counterpart of calendarCollection.
type eventCollection struct {
	repo Repository
	cal  *calendar.Calendar
}

func (s eventCollection) FindByUID(ctx context.Context, uid string) (*calendar.Event, bool, error) {
	if e, ok := s.cal.Event(uid); ok {
		return e, true, nil
	}

	e, ok, err := s.repo.FindEvent(ctx, s.cal.ID, uid)
	if err != nil || !ok {
		return nil, false, err
	}

	if err := s.cal.AddEvent(e); err != nil {
		return nil, false, err
	}

	return e, true, nil
}

func (s eventCollection) Add(ctx context.Context, e *calendar.Event) error {
	if err := s.repo.AddEvent(ctx, e); err != nil {
		return err
	}

	return s.cal.AddEvent(e)
}

func (s eventCollection) Save(ctx context.Context, e *calendar.Event) error {
	return s.repo.SaveEvent(ctx, e)
}
