package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// Status is the confirmation state of an event.
type Status string

// Event statuses as stored in the events.status column.
const (
	StatusConfirmed Status = "confirmed"
	StatusTentative Status = "tentative"
	StatusCancelled Status = "cancelled"
)

// ParseStatus maps a status name (or the fragment of a status URI such as
// "...#event.canceled") to a Status. Unknown or empty values are confirmed.
func ParseStatus(s string) Status {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.LastIndexAny(s, "#."); i >= 0 {
		s = s[i+1:]
	}

	switch s {
	case "tentative":
		return StatusTentative
	case "canceled", "cancelled":
		return StatusCancelled
	default:
		return StatusConfirmed
	}
}

// Kind classifies an event by its recurrence data.
type Kind int

// Event classifications.
const (
	KindSingle Kind = iota
	KindTemplate
	KindException
)

func (k Kind) String() string {
	switch k {
	case KindTemplate:
		return "template"
	case KindException:
		return "exception"
	default:
		return "single"
	}
}

// OriginalRef links an exception to the template it deviates from.
type OriginalRef struct {
	UID  string
	Href mo.Option[string]
	// OriginalStart is the nominal start of the replaced instance, when the
	// remote reports it.
	OriginalStart mo.Option[Time]
}

// EventFields are the remote-owned, mutable fields of an event. They are
// shared verbatim between ParsedEvent and Event so an overwrite is a single
// assignment.
type EventFields struct {
	ETag        string
	Title       mo.Option[string]
	Description mo.Option[string]
	Author      mo.Option[string]
	Location    mo.Option[string]
	Start       Time
	End         Time
	Status      Status
	Recurrence  mo.Option[string]
	Original    mo.Option[OriginalRef]
	EditURL     mo.Option[string]
	Updated     time.Time
}

// Kind classifies the event. An original-event link wins over a rule, since
// the remote sometimes copies its template's rule onto an exception.
func (f EventFields) Kind() Kind {
	switch {
	case f.Original.IsPresent():
		return KindException
	case f.Recurrence.IsPresent():
		return KindTemplate
	default:
		return KindSingle
	}
}

// AllDay is true iff both start and end lack a time of day.
func (f EventFields) AllDay() bool {
	return f.Start.DateOnly && f.End.DateOnly
}

// UpdatedAt returns the remote-derived update stamp.
func (f EventFields) UpdatedAt() time.Time {
	return f.Updated
}

// NominalStart is the start of the series instance an exception replaces:
// the original start when known, else the exception's own start.
func (f EventFields) NominalStart() Time {
	if ref, ok := f.Original.Get(); ok {
		if orig, ok := ref.OriginalStart.Get(); ok {
			return orig
		}
	}

	return f.Start
}

// ParsedEvent is an event as decoded from the remote.
type ParsedEvent struct {
	UID string
	EventFields
}

// Identity returns the remote uid.
func (p ParsedEvent) Identity() string { return p.UID }

// Validate reports ErrMalformedInput for a missing uid or updated stamp, a
// missing start on a non-template, or an exception without a template uid.
func (p ParsedEvent) Validate() error {
	var errs []error

	if p.UID == "" {
		errs = append(errs, fmt.Errorf("%w: event without uid", ErrMalformedInput))
	}

	if p.Updated.IsZero() {
		errs = append(errs, fmt.Errorf("%w: event %q: missing updated", ErrMalformedInput, p.UID))
	}

	if p.Start.IsZero() && p.Kind() != KindTemplate {
		errs = append(errs, fmt.Errorf("%w: event %q: missing start", ErrMalformedInput, p.UID))
	}

	if !p.End.IsZero() && p.End.Before(p.Start.Time) {
		errs = append(errs, fmt.Errorf("%w: event %q: end before start", ErrMalformedInput, p.UID))
	}

	if ref, ok := p.Original.Get(); ok && ref.UID == "" {
		errs = append(errs, fmt.Errorf("%w: event %q: original event without uid", ErrMalformedInput, p.UID))
	}

	return errors.Join(errs...)
}

// Event is the local record of one remote event.
type Event struct {
	ID         string
	CalendarID string
	UID        string
	EventFields
	SyncedAt mo.Option[time.Time]
}

// NewEvent creates a local record from a parsed one.
func NewEvent(calendarID string, p ParsedEvent, syncedAt time.Time) *Event {
	return &Event{
		ID:          uuid.NewString(),
		CalendarID:  calendarID,
		UID:         p.UID,
		EventFields: p.EventFields,
		SyncedAt:    mo.Some(syncedAt),
	}
}

// Identity returns the remote uid.
func (e *Event) Identity() string { return e.UID }

// Overwrite replaces every remote-owned field. ID, CalendarID and UID are
// kept. The returned func undoes the overwrite.
func (e *Event) Overwrite(p ParsedEvent, syncedAt time.Time) (restore func()) {
	prevFields, prevSynced := e.EventFields, e.SyncedAt
	e.EventFields = p.EventFields
	e.SyncedAt = mo.Some(syncedAt)

	return func() {
		e.EventFields = prevFields
		e.SyncedAt = prevSynced
	}
}
