package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/calsync/internal/calendar"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

var (
	t1 = time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)
	t2 = time.Date(2024, time.June, 2, 10, 0, 0, 0, time.UTC)
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	return s
}

func addCalendar(t *testing.T, s *Store, f *calendar.Feed, uid string) *calendar.Calendar {
	t.Helper()

	c := calendar.NewCalendar(f.ID, calendar.ParsedCalendar{
		UID: uid,
		CalendarFields: calendar.CalendarFields{
			ETag:         `"etag-` + uid + `"`,
			Title:        "Calendar " + uid,
			Summary:      mo.Some("summary"),
			Color:        mo.Some("#2952A3"),
			TimeZone:     mo.Some("Europe/Helsinki"),
			EventFeedURL: "https://example.com/" + uid + "/events",
			Updated:      t1,
		},
	}, t1)

	require.NoError(t, s.AddCalendar(context.Background(), c))
	require.NoError(t, f.AddCalendar(c))

	return c
}

func TestOpen_MigratesSchema(t *testing.T) {
	s := newTestStore(t)

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestEnsureFeed_CreatesThenLoads(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f, err := s.EnsureFeed(ctx, "work", "me@example.com")
	require.NoError(t, err)
	assert.False(t, f.SyncedAt.IsPresent())

	f.Advance(t1)
	require.NoError(t, s.SaveFeed(ctx, f))

	again, err := s.EnsureFeed(ctx, "work", "ignored")
	require.NoError(t, err)
	assert.Equal(t, f.ID, again.ID)
	assert.Equal(t, "me@example.com", again.Account)
	assert.True(t, again.SyncedAt.MustGet().Equal(t1))

	feeds, err := s.ListFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, "work", feeds[0].Name)
}

func TestLoadFeed_NotFound(t *testing.T) {
	_, err := newTestStore(t).LoadFeed(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCalendar_RoundTripAndIdentity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f, err := s.EnsureFeed(ctx, "work", "")
	require.NoError(t, err)

	c := addCalendar(t, s, f, "c1")

	got, ok, err := s.FindCalendar(ctx, f.ID, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, "Calendar c1", got.Title)
	assert.Equal(t, "#2952A3", got.Color.OrEmpty())
	assert.False(t, got.EditURL.IsPresent())
	assert.True(t, got.Updated.Equal(t1))

	dup := calendar.NewCalendar(f.ID, calendar.ParsedCalendar{UID: "c1", CalendarFields: calendar.CalendarFields{Updated: t1}}, t1)
	require.ErrorIs(t, s.AddCalendar(ctx, dup), calendar.ErrIdentityConflict)

	c.Overwrite(calendar.ParsedCalendar{UID: "c1", CalendarFields: calendar.CalendarFields{
		Title: "Renamed", Hidden: true, Updated: t2,
	}}, t2)
	require.NoError(t, s.SaveCalendar(ctx, c))

	got, ok, err = s.FindCalendar(ctx, f.ID, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Renamed", got.Title)
	assert.True(t, got.Hidden)
	assert.False(t, got.Color.IsPresent())
	assert.True(t, got.SyncedAt.MustGet().Equal(t2))

	_, ok, err = s.FindCalendar(ctx, f.ID, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvent_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f, err := s.EnsureFeed(ctx, "work", "")
	require.NoError(t, err)

	c := addCalendar(t, s, f, "c1")

	exc := calendar.NewEvent(c.ID, calendar.ParsedEvent{UID: "x1", EventFields: calendar.EventFields{
		ETag:     "v1",
		Title:    mo.Some("Moved standup"),
		Author:   mo.Some("<Ann> ann@example.com"),
		Start:    calendar.At(time.Date(2024, 6, 11, 15, 0, 0, 0, time.FixedZone("EEST", 3*3600))),
		End:      calendar.At(time.Date(2024, 6, 11, 16, 0, 0, 0, time.FixedZone("EEST", 3*3600))),
		Status:   calendar.StatusTentative,
		Original: mo.Some(calendar.OriginalRef{UID: "r1", Href: mo.Some("https://example.com/r1"), OriginalStart: mo.Some(calendar.OnDate(t1))}),
		Updated:  t1,
	}}, t1)
	require.NoError(t, s.AddEvent(ctx, exc))

	tmpl := calendar.NewEvent(c.ID, calendar.ParsedEvent{UID: "r1", EventFields: calendar.EventFields{
		Recurrence: mo.Some("DTSTART;VALUE=DATE:20240603\nRRULE:FREQ=WEEKLY"),
		Updated:    t1,
	}}, t1)
	require.NoError(t, s.AddEvent(ctx, tmpl))

	got, ok, err := s.FindEvent(ctx, c.ID, "x1")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, exc.ID, got.ID)
	assert.Equal(t, c.ID, got.CalendarID)
	assert.Equal(t, "Moved standup", got.Title.OrEmpty())
	assert.False(t, got.Description.IsPresent())
	assert.True(t, got.Start.Time.Equal(exc.Start.Time))
	assert.False(t, got.Start.DateOnly)
	assert.Equal(t, calendar.StatusTentative, got.Status)
	assert.Equal(t, calendar.KindException, got.Kind())

	ref := got.Original.MustGet()
	assert.Equal(t, "r1", ref.UID)
	assert.Equal(t, "https://example.com/r1", ref.Href.OrEmpty())
	assert.True(t, ref.OriginalStart.MustGet().Equal(calendar.OnDate(t1)))

	gotTmpl, ok, err := s.FindEvent(ctx, c.ID, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, calendar.KindTemplate, gotTmpl.Kind())
	assert.True(t, gotTmpl.Start.IsZero())
	assert.Equal(t, calendar.StatusConfirmed, gotTmpl.Status)

	dup := calendar.NewEvent(c.ID, calendar.ParsedEvent{UID: "x1", EventFields: calendar.EventFields{Updated: t1}}, t1)
	require.ErrorIs(t, s.AddEvent(ctx, dup), calendar.ErrIdentityConflict)

	exc.Overwrite(calendar.ParsedEvent{UID: "x1", EventFields: calendar.EventFields{
		ETag: "v2", Start: calendar.OnDate(t2), End: calendar.OnDate(t2.Add(24 * time.Hour)), Updated: t2,
	}}, t2)
	require.NoError(t, s.SaveEvent(ctx, exc))

	got, _, err = s.FindEvent(ctx, c.ID, "x1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.ETag)
	assert.True(t, got.AllDay())
	assert.Equal(t, calendar.KindSingle, got.Kind())
	assert.False(t, got.Title.IsPresent())
}

func TestLoadFeed_AttachesGraph(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f, err := s.EnsureFeed(ctx, "work", "")
	require.NoError(t, err)

	c1 := addCalendar(t, s, f, "c1")
	addCalendar(t, s, f, "c2")

	for _, uid := range []string{"e2", "e1"} {
		e := calendar.NewEvent(c1.ID, calendar.ParsedEvent{UID: uid, EventFields: calendar.EventFields{
			Start: calendar.At(t1), End: calendar.At(t1.Add(time.Hour)), Updated: t1,
		}}, t1)
		require.NoError(t, s.AddEvent(ctx, e))
	}

	loaded, err := s.LoadFeed(ctx, "work")
	require.NoError(t, err)

	cals := loaded.Calendars()
	require.Len(t, cals, 2)
	assert.Equal(t, 2, cals[0].Len())
	assert.Equal(t, 0, cals[1].Len())

	events := cals[0].Events()
	assert.Equal(t, "e1", events[0].UID)
}

func TestConflictLedger(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f, err := s.EnsureFeed(ctx, "work", "")
	require.NoError(t, err)

	first := &calendar.Conflict{
		FeedID: f.ID, Kind: calendar.EntityEvent, UID: "e1", CalendarUID: "c1",
		LocalUpdated: t2, RemoteUpdated: t1,
	}
	require.NoError(t, s.RecordConflict(ctx, first))
	require.NotEmpty(t, first.ID)

	// Same record again refreshes the open entry.
	again := &calendar.Conflict{
		FeedID: f.ID, Kind: calendar.EntityEvent, UID: "e1", CalendarUID: "c1",
		LocalUpdated: t2.Add(time.Hour), RemoteUpdated: t1,
	}
	require.NoError(t, s.RecordConflict(ctx, again))
	assert.Equal(t, first.ID, again.ID)

	cal := &calendar.Conflict{
		FeedID: f.ID, Kind: calendar.EntityCalendar, UID: "c1", CalendarUID: "c1",
		LocalUpdated: t2, RemoteUpdated: t1,
	}
	require.NoError(t, s.RecordConflict(ctx, cal))

	open, err := s.ListConflicts(ctx, f.ID, true)
	require.NoError(t, err)
	require.Len(t, open, 2)

	require.NoError(t, s.ResolveConflict(ctx, first.ID, calendar.ResolutionPushed, t2))
	require.ErrorIs(t, s.ResolveConflict(ctx, first.ID, calendar.ResolutionFailed, t2), ErrNotFound)

	open, err = s.ListConflicts(ctx, f.ID, true)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, calendar.EntityCalendar, open[0].Kind)

	all, err := s.ListConflicts(ctx, f.ID, false)
	require.NoError(t, err)
	require.Len(t, all, 2)

	for _, c := range all {
		if c.ID == first.ID {
			assert.Equal(t, calendar.ResolutionPushed, c.Resolution)
			assert.True(t, c.ResolvedAt.MustGet().Equal(t2))
			assert.True(t, c.LocalUpdated.Equal(t2.Add(time.Hour)))
		}
	}

	// A resolved record can conflict again.
	third := &calendar.Conflict{
		FeedID: f.ID, Kind: calendar.EntityEvent, UID: "e1", CalendarUID: "c1",
		LocalUpdated: t2, RemoteUpdated: t1,
	}
	require.NoError(t, s.RecordConflict(ctx, third))
	assert.NotEqual(t, first.ID, third.ID)
}

func TestStale(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f, err := s.EnsureFeed(ctx, "work", "")
	require.NoError(t, err)

	old := addCalendar(t, s, f, "c-old")
	fresh := addCalendar(t, s, f, "c-fresh")
	fresh.SyncedAt = mo.Some(t2)
	require.NoError(t, s.SaveCalendar(ctx, fresh))

	oldEvent := calendar.NewEvent(fresh.ID, calendar.ParsedEvent{UID: "e-old", EventFields: calendar.EventFields{
		Title: mo.Some("Old"), Start: calendar.At(t1), Updated: t1,
	}}, t1)
	require.NoError(t, s.AddEvent(ctx, oldEvent))

	newEvent := calendar.NewEvent(fresh.ID, calendar.ParsedEvent{UID: "e-new", EventFields: calendar.EventFields{
		Start: calendar.At(t1), Updated: t1,
	}}, t2)
	require.NoError(t, s.AddEvent(ctx, newEvent))

	stale, err := s.Stale(ctx, f.ID, t2)
	require.NoError(t, err)
	require.Len(t, stale, 2)

	assert.Equal(t, calendar.EntityCalendar, stale[0].Kind)
	assert.Equal(t, old.UID, stale[0].UID)
	assert.Equal(t, calendar.EntityEvent, stale[1].Kind)
	assert.Equal(t, "e-old", stale[1].UID)
	assert.Equal(t, "c-fresh", stale[1].CalendarUID)
	assert.Equal(t, "Old", stale[1].Title)
	assert.True(t, stale[1].SyncedAt.Equal(t1))
}

func TestMarkSeen_KeepsUnchangedRecordsFresh(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f, err := s.EnsureFeed(ctx, "work", "")
	require.NoError(t, err)

	c := addCalendar(t, s, f, "c1")
	addCalendar(t, s, f, "gone")

	ev := calendar.NewEvent(c.ID, calendar.ParsedEvent{UID: "e1", EventFields: calendar.EventFields{
		Start: calendar.At(t1), Updated: t1,
	}}, t1)
	require.NoError(t, s.AddEvent(ctx, ev))

	later := t2.Add(24 * time.Hour)
	require.NoError(t, s.MarkSeen(ctx, calendar.EntityCalendar, f.ID, []string{"c1", "unknown"}, later))
	require.NoError(t, s.MarkSeen(ctx, calendar.EntityEvent, c.ID, []string{"e1"}, later))

	stale, err := s.Stale(ctx, f.ID, t2)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "gone", stale[0].UID)
	assert.True(t, stale[0].SeenAt.Equal(t1))

	// Seen stamps never move back, and record fields are untouched.
	require.NoError(t, s.MarkSeen(ctx, calendar.EntityCalendar, f.ID, []string{"c1"}, t1))
	require.NoError(t, s.SaveCalendar(ctx, c))

	stale, err = s.Stale(ctx, f.ID, t2)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	got, _, err := s.FindCalendar(ctx, f.ID, "c1")
	require.NoError(t, err)
	assert.True(t, got.SyncedAt.MustGet().Equal(t1))
	assert.True(t, got.Updated.Equal(t1))
}

func TestMarkSeen_ManyUIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f, err := s.EnsureFeed(ctx, "work", "")
	require.NoError(t, err)

	c := addCalendar(t, s, f, "c1")
	uids := make([]string, 0, seenBatch+5)

	for i := range seenBatch + 5 {
		uid := fmt.Sprintf("e%04d", i)
		uids = append(uids, uid)

		require.NoError(t, s.AddEvent(ctx, calendar.NewEvent(c.ID, calendar.ParsedEvent{UID: uid, EventFields: calendar.EventFields{
			Start: calendar.At(t1), Updated: t1,
		}}, t1)))
	}

	require.NoError(t, s.MarkSeen(ctx, calendar.EntityEvent, c.ID, uids, t2))
	require.NoError(t, s.MarkSeen(ctx, calendar.EntityCalendar, f.ID, []string{"c1"}, t2))

	stale, err := s.Stale(ctx, f.ID, t2)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestSaveEventPass(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f, err := s.EnsureFeed(ctx, "work", "")
	require.NoError(t, err)

	c := addCalendar(t, s, f, "c1")

	got, _, err := s.FindCalendar(ctx, f.ID, "c1")
	require.NoError(t, err)
	assert.True(t, got.EventsSyncedAt.IsAbsent())

	c.EventsSyncedAt = mo.Some(t2)
	require.NoError(t, s.SaveEventPass(ctx, c))

	// A later calendar save keeps the event-pass stamp.
	c.Title = "Renamed"
	require.NoError(t, s.SaveCalendar(ctx, c))

	got, _, err = s.FindCalendar(ctx, f.ID, "c1")
	require.NoError(t, err)
	assert.True(t, got.EventsSyncedAt.MustGet().Equal(t2))

	c.EventsSyncedAt = mo.None[time.Time]()
	require.NoError(t, s.SaveEventPass(ctx, c))

	got, _, err = s.FindCalendar(ctx, f.ID, "c1")
	require.NoError(t, err)
	assert.True(t, got.EventsSyncedAt.IsAbsent())

	missing := calendar.NewCalendar(f.ID, calendar.ParsedCalendar{UID: "nope"}, t1)
	require.ErrorIs(t, s.SaveEventPass(ctx, missing), ErrNotFound)
}

func TestRefreshSeenEvents_CarriesLastPassForward(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f, err := s.EnsureFeed(ctx, "work", "")
	require.NoError(t, err)

	c := addCalendar(t, s, f, "c1")

	for _, uid := range []string{"kept", "dropped"} {
		require.NoError(t, s.AddEvent(ctx, calendar.NewEvent(c.ID, calendar.ParsedEvent{UID: uid, EventFields: calendar.EventFields{
			Start: calendar.At(t1), Updated: t1,
		}}, t1)))
	}

	later := t2.Add(72 * time.Hour)

	// Without an event-pass stamp nothing is carried forward.
	require.NoError(t, s.RefreshSeenEvents(ctx, c.ID, later))

	stale, err := s.Stale(ctx, f.ID, t2)
	require.NoError(t, err)
	assert.Len(t, stale, 3)

	// The last pass at t2 saw only "kept".
	require.NoError(t, s.MarkSeen(ctx, calendar.EntityEvent, c.ID, []string{"kept"}, t2))
	require.NoError(t, s.MarkSeen(ctx, calendar.EntityCalendar, f.ID, []string{"c1"}, later))
	c.EventsSyncedAt = mo.Some(t2)
	require.NoError(t, s.SaveEventPass(ctx, c))

	require.NoError(t, s.RefreshSeenEvents(ctx, c.ID, later))

	stale, err = s.Stale(ctx, f.ID, later)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "dropped", stale[0].UID)
}
