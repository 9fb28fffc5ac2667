// Package calendar holds the local data model of a feed: calendars, their
// events, and the transient occurrences produced by expanding recurring
// events over a range.
//
// Records come in two shapes. Parsed* values are decoded from the remote and
// carry only remote-owned fields; Calendar and Event add the local identity
// (primary key, owner) and the sync stamp. Both embed the same field struct,
// so reconciliation overwrites remote-owned data in one assignment and can
// never touch identity.
package calendar

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// CalendarFields are the remote-owned, mutable fields of a calendar.
type CalendarFields struct {
	ETag         string
	Title        string
	Summary      mo.Option[string]
	Color        mo.Option[string]
	TimeZone     mo.Option[string]
	Hidden       bool
	EventFeedURL string
	EditURL      mo.Option[string]
	Updated      time.Time
}

// UpdatedAt returns the remote-derived update stamp.
func (f CalendarFields) UpdatedAt() time.Time {
	return f.Updated
}

// ParsedCalendar is a calendar entry as decoded from the remote.
type ParsedCalendar struct {
	UID string
	CalendarFields
}

// Identity returns the remote uid.
func (p ParsedCalendar) Identity() string { return p.UID }

// Validate reports ErrMalformedInput for a missing uid or updated stamp.
func (p ParsedCalendar) Validate() error {
	var errs []error

	if p.UID == "" {
		errs = append(errs, fmt.Errorf("%w: calendar without uid", ErrMalformedInput))
	}

	if p.Updated.IsZero() {
		errs = append(errs, fmt.Errorf("%w: calendar %q: missing updated", ErrMalformedInput, p.UID))
	}

	return errors.Join(errs...)
}

// Calendar is the local record of one remote calendar and owns its events.
// The event collection is safe for concurrent use; the embedded fields are
// written only by the owning sync pass.
type Calendar struct {
	ID     string
	FeedID string
	UID    string
	CalendarFields
	SyncedAt mo.Option[time.Time]
	// EventsSyncedAt is set by the last event pass that completed without a
	// blocking error and cleared by one that failed. Absent means the
	// calendar's events are owed a pass.
	EventsSyncedAt mo.Option[time.Time]

	mu     sync.RWMutex
	events map[string]*Event
}

// NewCalendar creates a local record from a parsed one.
func NewCalendar(feedID string, p ParsedCalendar, syncedAt time.Time) *Calendar {
	return &Calendar{
		ID:             uuid.NewString(),
		FeedID:         feedID,
		UID:            p.UID,
		CalendarFields: p.CalendarFields,
		SyncedAt:       mo.Some(syncedAt),
	}
}

// Identity returns the remote uid.
func (c *Calendar) Identity() string { return c.UID }

// Overwrite replaces every remote-owned field. ID, FeedID, UID and the
// event collection are kept. The returned func puts the previous fields
// back.
func (c *Calendar) Overwrite(p ParsedCalendar, syncedAt time.Time) (restore func()) {
	prevFields, prevSynced := c.CalendarFields, c.SyncedAt
	c.CalendarFields = p.CalendarFields
	c.SyncedAt = mo.Some(syncedAt)

	return func() {
		c.CalendarFields = prevFields
		c.SyncedAt = prevSynced
	}
}

// AddEvent attaches e to the calendar. A second event with the same uid is
// rejected with ErrIdentityConflict and the collection is left unchanged.
func (c *Calendar) AddEvent(e *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.events == nil {
		c.events = make(map[string]*Event)
	}

	if _, exists := c.events[e.UID]; exists {
		return fmt.Errorf("%w: event %q already in calendar %q", ErrIdentityConflict, e.UID, c.UID)
	}

	e.CalendarID = c.ID
	c.events[e.UID] = e

	return nil
}

// Event looks up an event by uid.
func (c *Calendar) Event(uid string) (*Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.events[uid]

	return e, ok
}

// Events returns the events ordered by uid.
func (c *Calendar) Events() []*Event {
	c.mu.RLock()
	out := make([]*Event, 0, len(c.events))

	for _, e := range c.events {
		out = append(out, e)
	}
	c.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Event) int { return cmp.Compare(a.UID, b.UID) })

	return out
}

// Len returns the number of events.
func (c *Calendar) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.events)
}

// Feed is the root of one account's cache.
type Feed struct {
	ID       string
	Name     string
	Account  string
	SyncedAt mo.Option[time.Time]

	mu        sync.RWMutex
	calendars map[string]*Calendar
}

// NewFeed creates an empty feed.
func NewFeed(name, account string) *Feed {
	return &Feed{
		ID:      uuid.NewString(),
		Name:    name,
		Account: account,
	}
}

// AddCalendar attaches c to the feed, rejecting a duplicate uid with
// ErrIdentityConflict.
func (f *Feed) AddCalendar(c *Calendar) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.calendars == nil {
		f.calendars = make(map[string]*Calendar)
	}

	if _, exists := f.calendars[c.UID]; exists {
		return fmt.Errorf("%w: calendar %q already in feed %q", ErrIdentityConflict, c.UID, f.Name)
	}

	c.FeedID = f.ID
	f.calendars[c.UID] = c

	return nil
}

// Calendar looks up a calendar by uid.
func (f *Feed) Calendar(uid string) (*Calendar, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	c, ok := f.calendars[uid]

	return c, ok
}

// Calendars returns the calendars ordered by uid.
func (f *Feed) Calendars() []*Calendar {
	f.mu.RLock()
	out := make([]*Calendar, 0, len(f.calendars))

	for _, c := range f.calendars {
		out = append(out, c)
	}
	f.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Calendar) int { return cmp.Compare(a.UID, b.UID) })

	return out
}

// Advance moves SyncedAt forward to t. It never moves it backwards and
// reports whether the stamp changed.
func (f *Feed) Advance(t time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cur, ok := f.SyncedAt.Get(); ok && !t.After(cur) {
		return false
	}

	f.SyncedAt = mo.Some(t)

	return true
}

// Stamp returns SyncedAt under the feed lock.
func (f *Feed) Stamp() mo.Option[time.Time] {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.SyncedAt
}
