package calendar

import (
	"log/slog"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func testRange(t *testing.T, from, to time.Time) Range {
	t.Helper()

	r, err := NewRange(from, to)
	require.NoError(t, err)

	return r
}

func singleEvent(uid string, start, end time.Time) *Event {
	return &Event{
		ID:  "id-" + uid,
		UID: uid,
		EventFields: EventFields{
			Title:   mo.Some("event " + uid),
			Start:   At(start),
			End:     At(end),
			Status:  StatusConfirmed,
			Updated: day(2024, time.May, 1),
		},
	}
}

const weeklyAllDay = "DTSTART;VALUE=DATE:20240603\nDTEND;VALUE=DATE:20240604\nRRULE:FREQ=WEEKLY;COUNT=4\n"

func templateEvent(uid, rule string) *Event {
	return &Event{
		ID:  "id-" + uid,
		UID: uid,
		EventFields: EventFields{
			Title:      mo.Some("series " + uid),
			Location:   mo.Some("Room 1"),
			Start:      OnDate(day(2024, time.June, 3)),
			End:        OnDate(day(2024, time.June, 4)),
			Status:     StatusConfirmed,
			Recurrence: mo.Some(rule),
			Updated:    day(2024, time.May, 1),
		},
	}
}

func exceptionEvent(uid, templateUID string, original mo.Option[Time], start, end Time) *Event {
	return &Event{
		ID:  "id-" + uid,
		UID: uid,
		EventFields: EventFields{
			Title:  mo.Some("moved " + uid),
			Start:  start,
			End:    end,
			Status: StatusConfirmed,
			Original: mo.Some(OriginalRef{
				UID:           templateUID,
				OriginalStart: original,
			}),
			Updated: day(2024, time.May, 2),
		},
	}
}

func newTestCalendar(t *testing.T, events ...*Event) *Calendar {
	t.Helper()

	c := NewCalendar("feed-1", ParsedCalendar{
		UID:            "c1",
		CalendarFields: CalendarFields{Title: "Work", Updated: day(2024, time.May, 1)},
	}, day(2024, time.May, 1))

	for _, e := range events {
		require.NoError(t, c.AddEvent(e))
	}

	return c
}
