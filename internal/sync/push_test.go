package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/calsync/internal/calendar"
)

type fakePusher struct {
	calendars []string
	events    []string
	failUID   string
}

func (p *fakePusher) PushCalendar(_ context.Context, cal *calendar.Calendar) error {
	if cal.UID == p.failUID {
		return errors.New("412 precondition failed")
	}

	p.calendars = append(p.calendars, cal.UID)

	return nil
}

func (p *fakePusher) PushEvent(_ context.Context, cal *calendar.Calendar, ev *calendar.Event) error {
	if ev.UID == p.failUID {
		return errors.New("412 precondition failed")
	}

	p.events = append(p.events, cal.UID+"/"+ev.UID)

	return nil
}

// conflictedFeed syncs c1/e1, then edits both locally and syncs again so
// the ledger holds one calendar and one event conflict.
func conflictedFeed(t *testing.T) (*Coordinator, *calendar.Feed, *fakeRemote) {
	t.Helper()

	ctx := context.Background()
	repo := newTestRepo(t)
	feed := newTestFeed(t, repo)
	coord := NewCoordinator(repo, testLogger(t), Options{})
	remote := singleCalendarRemote()

	_, err := coord.Sync(ctx, feed, remote, SyncOptions{})
	require.NoError(t, err)

	cal, _ := feed.Calendar("c1")
	cal.Updated = t2
	require.NoError(t, repo.SaveCalendar(ctx, cal))

	ev, _ := cal.Event("e1")
	ev.Updated = t2
	require.NoError(t, repo.SaveEvent(ctx, ev))

	// Same container stamp: the fast path runs the event pass of c1,
	// a forced pass reconciles the calendar too.
	sum, err := coord.Sync(ctx, feed, remote, SyncOptions{Force: true})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Calendars.Conflicted)

	sum, err = coord.Sync(ctx, feed, remote, SyncOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Events.Conflicted)

	return coord, feed, remote
}

func TestPushConflicts_PushesAndResolves(t *testing.T) {
	ctx := context.Background()
	coord, feed, _ := conflictedFeed(t)
	pusher := &fakePusher{}

	sum, err := coord.PushConflicts(ctx, feed, pusher)
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Pushed)
	assert.Zero(t, sum.Failed)
	assert.Equal(t, []string{"c1"}, pusher.calendars)
	assert.Equal(t, []string{"c1/e1"}, pusher.events)

	open, err := coord.repo.ListConflicts(ctx, feed.ID, true)
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := coord.repo.ListConflicts(ctx, feed.ID, false)
	require.NoError(t, err)
	require.Len(t, all, 2)

	for _, cf := range all {
		assert.Equal(t, calendar.ResolutionPushed, cf.Resolution)
		assert.True(t, cf.ResolvedAt.IsPresent())
	}
}

func TestPushConflicts_FailureMarksEntryFailed(t *testing.T) {
	ctx := context.Background()
	coord, feed, _ := conflictedFeed(t)

	sum, err := coord.PushConflicts(ctx, feed, &fakePusher{failUID: "e1"})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Pushed)
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, sum.Errors, 1)
	assert.ErrorIs(t, sum.Errors[0], ErrTransport)

	all, err := coord.repo.ListConflicts(ctx, feed.ID, false)
	require.NoError(t, err)

	byUID := make(map[string]calendar.Resolution)
	for _, cf := range all {
		byUID[cf.UID] = cf.Resolution
	}

	assert.Equal(t, calendar.ResolutionPushed, byUID["c1"])
	assert.Equal(t, calendar.ResolutionFailed, byUID["e1"])
}

func TestPushConflicts_EmptyLedger(t *testing.T) {
	repo := newTestRepo(t)
	feed := newTestFeed(t, repo)
	coord := NewCoordinator(repo, testLogger(t), Options{})

	sum, err := coord.PushConflicts(context.Background(), feed, &fakePusher{})
	require.NoError(t, err)
	assert.Zero(t, sum.Pushed+sum.Failed)
}

func TestStale_ReportsRecordsNotRefreshed(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	feed := newTestFeed(t, repo)
	coord := NewCoordinator(repo, testLogger(t), Options{})

	_, err := coord.Sync(ctx, feed, singleCalendarRemote(), SyncOptions{})
	require.NoError(t, err)

	recs, err := coord.Stale(ctx, feed, 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, recs)

	coord.nowFunc = func() time.Time { return time.Now().Add(48 * time.Hour) }

	recs, err = coord.Stale(ctx, feed, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, calendar.EntityCalendar, recs[0].Kind)
	assert.Equal(t, "c1", recs[0].UID)
	assert.Equal(t, calendar.EntityEvent, recs[1].Kind)
	assert.Equal(t, "e1", recs[1].UID)
	assert.Equal(t, "c1", recs[1].CalendarUID)

	_, ok := feed.Calendar("c1")
	assert.True(t, ok, "staleness never deletes")
}

func TestStale_UnchangedRecordsAreNotStale(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	feed := newTestFeed(t, repo)
	coord := NewCoordinator(repo, testLogger(t), Options{})

	remote := singleCalendarRemote()
	remote.calendars = append(remote.calendars, parsedCalendar("c2", t1))

	_, err := coord.Sync(ctx, feed, remote, SyncOptions{})
	require.NoError(t, err)

	// Two days on, c2 is gone from the remote and nothing else changed.
	later := time.Now().Add(48 * time.Hour)
	coord.nowFunc = func() time.Time { return later }
	remote.stamp = t2
	remote.calendars = remote.calendars[:1]

	sum, err := coord.Sync(ctx, feed, remote, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Calendars.Unchanged)
	assert.Equal(t, 1, remote.fetches("c1"), "unchanged calendar skips its event pass")

	recs, err := coord.Stale(ctx, feed, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, calendar.EntityCalendar, recs[0].Kind)
	assert.Equal(t, "c2", recs[0].UID)

	// A fast-path pass also counts as seen.
	later = later.Add(48 * time.Hour)

	sum, err = coord.Sync(ctx, feed, remote, SyncOptions{})
	require.NoError(t, err)
	require.True(t, sum.FastPath)

	recs, err = coord.Stale(ctx, feed, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "c2", recs[0].UID)
}
