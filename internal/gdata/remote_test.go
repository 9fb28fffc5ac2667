package gdata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/calsync/internal/calendar"
)

// fakeService serves a calendar list with one calendar whose event feed is
// split over two pages, plus one standalone template entry.
func fakeService(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("GET /calendars", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<feed xmlns='http://www.w3.org/2005/Atom' xmlns:gd='http://schemas.google.com/g/2005'>
			<updated>2024-06-01T08:00:00Z</updated>
			<entry gd:etag='"c1"'>
				<id>c1</id><updated>2024-06-01T07:00:00Z</updated><title>One</title>
				<link rel='http://schemas.google.com/gCal/2005#eventFeed' href='%s/events/c1'/>
			</entry>
		</feed>`, srv.URL)
	})

	mux.HandleFunc("GET /events/c1", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `<feed xmlns='http://www.w3.org/2005/Atom' xmlns:gCal='http://schemas.google.com/gCal/2005'>
				<entry><updated>2024-06-01T07:00:00Z</updated><gCal:uid value='e2@google.com'/></entry>
			</feed>`)

			return
		}

		fmt.Fprintf(w, `<feed xmlns='http://www.w3.org/2005/Atom' xmlns:gCal='http://schemas.google.com/gCal/2005'>
			<link rel='next' href='%s/events/c1?page=2'/>
			<entry><updated>2024-06-01T07:00:00Z</updated><gCal:uid value='e1@google.com'/></entry>
		</feed>`, srv.URL)
	})

	mux.HandleFunc("GET /events/c1/r1", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<entry xmlns='http://www.w3.org/2005/Atom' xmlns:gd='http://schemas.google.com/g/2005'
			xmlns:gCal='http://schemas.google.com/gCal/2005'>
			<updated>2024-06-01T07:00:00Z</updated>
			<gd:recurrence>RRULE:FREQ=DAILY;COUNT=2</gd:recurrence>
			<gCal:uid value='r1@google.com'/>
		</entry>`)
	})

	return srv
}

func TestFetchCalendars(t *testing.T) {
	srv := fakeService(t)
	c := newTestClient(t, srv.URL+"/calendars")

	stamp, cals, err := c.FetchCalendars(context.Background(), calendar.NewFeed("personal", "me"))
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, time.June, 1, 8, 0, 0, 0, time.UTC), stamp)
	require.Len(t, cals, 1)
	assert.Equal(t, "c1", cals[0].UID)
	assert.Equal(t, `"c1"`, cals[0].ETag)
	assert.Equal(t, srv.URL+"/events/c1", cals[0].EventFeedURL)
}

func TestFetchEvents_FollowsNextLinks(t *testing.T) {
	srv := fakeService(t)
	c := newTestClient(t, srv.URL+"/calendars")

	cal := &calendar.Calendar{UID: "c1", CalendarFields: calendar.CalendarFields{EventFeedURL: srv.URL + "/events/c1"}}

	evs, err := c.FetchEvents(context.Background(), cal)
	require.NoError(t, err)

	require.Len(t, evs, 2)
	assert.Equal(t, "e1", evs[0].UID)
	assert.Equal(t, "e2", evs[1].UID)
}

func TestFetchEvents_NoFeedLink(t *testing.T) {
	c := newTestClient(t, "http://unused")

	_, err := c.FetchEvents(context.Background(), &calendar.Calendar{UID: "c1"})
	require.ErrorIs(t, err, ErrNoEventFeed)
}

func TestFetchEvents_PageLoopIsBounded(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<feed xmlns='http://www.w3.org/2005/Atom'><link rel='next' href='%s/again'/></feed>`, srv.URL)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	cal := &calendar.Calendar{UID: "c1", CalendarFields: calendar.CalendarFields{EventFeedURL: srv.URL}}

	_, err := c.FetchEvents(context.Background(), cal)
	require.ErrorIs(t, err, ErrMalformedFeed)
}

func TestFetchOriginalEvent(t *testing.T) {
	srv := fakeService(t)
	c := newTestClient(t, srv.URL+"/calendars")

	p, err := c.FetchOriginalEvent(context.Background(), calendar.OriginalRef{
		UID:  "r1",
		Href: mo.Some(srv.URL + "/events/c1/r1"),
	})
	require.NoError(t, err)

	assert.Equal(t, "r1", p.UID)
	assert.Equal(t, calendar.KindTemplate, p.Kind())

	_, err = c.FetchOriginalEvent(context.Background(), calendar.OriginalRef{UID: "r1"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPushEvent_SendsEntryWithIfMatch(t *testing.T) {
	var (
		gotMatch string
		gotBody  []byte
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		gotMatch = r.Header.Get("If-Match")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write(gotBody)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	ev := &calendar.Event{
		UID: "e1",
		EventFields: calendar.EventFields{
			ETag:     `"ev-1"`,
			Title:    mo.Some("Standup"),
			Location: mo.Some("Room 1"),
			Start:    calendar.At(time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)),
			End:      calendar.At(time.Date(2024, time.June, 1, 11, 0, 0, 0, time.UTC)),
			Status:   calendar.StatusTentative,
			EditURL:  mo.Some(srv.URL + "/e1"),
			Updated:  time.Date(2024, time.June, 2, 0, 0, 0, 0, time.UTC),
		},
	}

	require.NoError(t, c.PushEvent(context.Background(), &calendar.Calendar{UID: "c1"}, ev))
	assert.Equal(t, `"ev-1"`, gotMatch)

	// The entry decodes back to the same writable fields.
	root, err := parseEntryDocument(gotBody)
	require.NoError(t, err)

	back := parseEventEntry(root)
	assert.Equal(t, "e1", back.UID)
	assert.Equal(t, `"ev-1"`, back.ETag)
	assert.Equal(t, "Standup", back.Title.MustGet())
	assert.Equal(t, "Room 1", back.Location.MustGet())
	assert.Equal(t, calendar.StatusTentative, back.Status)
	assert.True(t, ev.Start.Equal(back.Start))
	assert.True(t, ev.End.Equal(back.End))
}

func TestPushEvent_EtagMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ev := &calendar.Event{UID: "e1", EventFields: calendar.EventFields{EditURL: mo.Some(srv.URL)}}

	err := c.PushEvent(context.Background(), &calendar.Calendar{UID: "c1"}, ev)
	require.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestPush_WithoutEditLink(t *testing.T) {
	c := newTestClient(t, "http://unused")

	err := c.PushEvent(context.Background(), &calendar.Calendar{UID: "c1"}, &calendar.Event{UID: "e1"})
	require.ErrorIs(t, err, ErrNotEditable)

	err = c.PushCalendar(context.Background(), &calendar.Calendar{UID: "c1"})
	require.ErrorIs(t, err, ErrNotEditable)
}

func TestPushCalendar_RoundTrip(t *testing.T) {
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write(gotBody)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	cal := &calendar.Calendar{
		UID: "c1",
		CalendarFields: calendar.CalendarFields{
			ETag:     `"c1"`,
			Title:    "Work",
			Summary:  mo.Some("Team calendar"),
			Color:    mo.Some("#2952A3"),
			TimeZone: mo.Some("Europe/Helsinki"),
			Hidden:   true,
			EditURL:  mo.Some(srv.URL + "/c1"),
		},
	}

	require.NoError(t, c.PushCalendar(context.Background(), cal))

	root, err := parseEntryDocument(gotBody)
	require.NoError(t, err)

	back := parseCalendarEntry(root)
	assert.Equal(t, "c1", back.UID)
	assert.Equal(t, "Work", back.Title)
	assert.Equal(t, "Team calendar", back.Summary.MustGet())
	assert.Equal(t, "#2952A3", back.Color.MustGet())
	assert.Equal(t, "Europe/Helsinki", back.TimeZone.MustGet())
	assert.True(t, back.Hidden)
}
