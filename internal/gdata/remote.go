package gdata

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tonimelisma/calsync/internal/calendar"
)

// maxPages bounds pagination of a single feed.
const maxPages = 200

// FetchCalendars returns the calendar list's update stamp and every entry,
// following next links. The stamp is the first page's.
func (c *Client) FetchCalendars(ctx context.Context, feed *calendar.Feed) (time.Time, []calendar.ParsedCalendar, error) {
	var (
		stamp time.Time
		out   []calendar.ParsedCalendar
	)

	err := c.walk(ctx, c.calendarListURL, func(i int, p *page) {
		if i == 0 {
			stamp = p.updated
		}

		for _, e := range p.entries {
			out = append(out, parseCalendarEntry(e))
		}
	})
	if err != nil {
		return time.Time{}, nil, err
	}

	c.logger.Debug("fetched calendar list",
		slog.String("feed", feed.Name),
		slog.Int("calendars", len(out)),
		slog.Time("updated", stamp),
	)

	return stamp, out, nil
}

// FetchEvents returns every event entry of cal.
func (c *Client) FetchEvents(ctx context.Context, cal *calendar.Calendar) ([]calendar.ParsedEvent, error) {
	if cal.EventFeedURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoEventFeed, cal.UID)
	}

	var out []calendar.ParsedEvent

	err := c.walk(ctx, cal.EventFeedURL, func(_ int, p *page) {
		for _, e := range p.entries {
			out = append(out, parseEventEntry(e))
		}
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetched events",
		slog.String("calendar", cal.UID),
		slog.Int("events", len(out)),
	)

	return out, nil
}

// FetchOriginalEvent follows an exception's originalEvent link.
func (c *Client) FetchOriginalEvent(ctx context.Context, ref calendar.OriginalRef) (calendar.ParsedEvent, error) {
	href, ok := ref.Href.Get()
	if !ok {
		return calendar.ParsedEvent{}, fmt.Errorf("%w: original event %q has no href", ErrNotFound, ref.UID)
	}

	data, err := c.Do(ctx, http.MethodGet, href, nil, "")
	if err != nil {
		return calendar.ParsedEvent{}, err
	}

	entry, err := parseEntryDocument(data)
	if err != nil {
		return calendar.ParsedEvent{}, fmt.Errorf("original event %q: %w", ref.UID, err)
	}

	return parseEventEntry(entry), nil
}

// PushCalendar writes cal to its edit link, guarded by its etag.
func (c *Client) PushCalendar(ctx context.Context, cal *calendar.Calendar) error {
	edit, ok := cal.EditURL.Get()
	if !ok {
		return fmt.Errorf("%w: calendar %q", ErrNotEditable, cal.UID)
	}

	body, err := calendarEntry(cal)
	if err != nil {
		return err
	}

	if _, err := c.Do(ctx, http.MethodPut, edit, body, cal.ETag); err != nil {
		return err
	}

	c.logger.Info("pushed calendar", slog.String("calendar", cal.UID))

	return nil
}

// PushEvent writes ev to its edit link, guarded by its etag.
func (c *Client) PushEvent(ctx context.Context, cal *calendar.Calendar, ev *calendar.Event) error {
	edit, ok := ev.EditURL.Get()
	if !ok {
		return fmt.Errorf("%w: event %q", ErrNotEditable, ev.UID)
	}

	body, err := eventEntry(ev)
	if err != nil {
		return err
	}

	if _, err := c.Do(ctx, http.MethodPut, edit, body, ev.ETag); err != nil {
		return err
	}

	c.logger.Info("pushed event",
		slog.String("calendar", cal.UID),
		slog.String("event", ev.UID),
	)

	return nil
}

// walk fetches url and every page linked from it by rel=next.
func (c *Client) walk(ctx context.Context, url string, fn func(i int, p *page)) error {
	for i := 0; url != ""; i++ {
		if i >= maxPages {
			return fmt.Errorf("%w: more than %d pages", ErrMalformedFeed, maxPages)
		}

		data, err := c.Do(ctx, http.MethodGet, url, nil, "")
		if err != nil {
			return err
		}

		p, err := parsePage(data)
		if err != nil {
			return fmt.Errorf("%s: %w", url, err)
		}

		fn(i, p)
		url = p.next
	}

	return nil
}
