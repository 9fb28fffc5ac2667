package calendar

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire form of a date-only value.
const DateLayout = "2006-01-02"

// Time is an instant plus a flag recording whether the source value carried
// a time of day. Date-only values are held at midnight UTC.
type Time struct {
	time.Time
	DateOnly bool
}

// At wraps an instant.
func At(t time.Time) Time {
	return Time{Time: t}
}

// OnDate returns the date-only value for the calendar day of t.
func OnDate(t time.Time) Time {
	y, m, d := t.Date()

	return Time{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), DateOnly: true}
}

// ParseTime accepts "2006-01-02" for date-only values and RFC 3339 (with or
// without fractional seconds) for instants.
func ParseTime(s string) (Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Time{}, fmt.Errorf("calendar: empty time value")
	}

	if !strings.Contains(s, "T") {
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return Time{}, fmt.Errorf("calendar: parsing date %q: %w", s, err)
		}

		return Time{Time: t, DateOnly: true}, nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Time{}, fmt.Errorf("calendar: parsing time %q: %w", s, err)
	}

	return Time{Time: t}, nil
}

// Equal reports whether both values denote the same instant and kind.
func (t Time) Equal(o Time) bool {
	return t.DateOnly == o.DateOnly && t.Time.Equal(o.Time)
}

// String renders the value in the form ParseTime accepts.
func (t Time) String() string {
	if t.IsZero() {
		return ""
	}

	if t.DateOnly {
		return t.Format(DateLayout)
	}

	return t.Format(time.RFC3339)
}

// sameDate reports whether a and b fall on the same calendar day as seen
// from a's location.
func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()

	return ay == by && am == bm && ad == bd
}

// Range is an inclusive window [From, To].
type Range struct {
	From time.Time
	To   time.Time
}

// NewRange validates that to does not precede from.
func NewRange(from, to time.Time) (Range, error) {
	if to.Before(from) {
		return Range{}, fmt.Errorf("%w: %s is before %s", ErrInvalidRange,
			to.Format(time.RFC3339), from.Format(time.RFC3339))
	}

	return Range{From: from, To: to}, nil
}

// Contains reports whether t lies within the window, bounds included.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

// Overlaps reports whether the period [start, end) intersects the window.
// Zero-length periods must start inside it.
func (r Range) Overlaps(start, end time.Time) bool {
	if start.After(r.To) {
		return false
	}

	if !end.After(start) {
		return !start.Before(r.From)
	}

	return end.After(r.From)
}
