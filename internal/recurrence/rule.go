// Package recurrence parses the recurrence definitions attached to calendar
// templates and expands them into concrete periods over a bounded window.
//
// A definition is the block of iCalendar lines the remote service emits for
// a recurring event (DTSTART, DTEND or DURATION, RRULE, RDATE, EXDATE and
// optional VTIMEZONE components). Parsing goes through go-ical so property
// parameters (VALUE=DATE, TZID) are honored, and expansion through rrule-go.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
)

// DefaultMaxOccurrences caps a single Overlapping call. Rules are always
// queried over a finite window, but a fine-grained rule over a wide window
// can still produce an unreasonable number of periods.
const DefaultMaxOccurrences = 5000

// maxScanned bounds the starts generated by one Overlapping call, counting
// those before the window.
const maxScanned = 1 << 20

const (
	dateLayout     = "20060102"
	dateTimeLayout = "20060102T150405"
	oneDay         = 24 * time.Hour
)

// Sentinel errors for definition parsing.
var (
	ErrEmpty   = errors.New("recurrence: empty definition")
	ErrInvalid = errors.New("recurrence: invalid definition")
)

// Period is one concrete occurrence of a rule.
type Period struct {
	Start time.Time
	End   time.Time
}

// Rule is an immutable parsed recurrence definition.
type Rule struct {
	text           string
	start          time.Time
	duration       time.Duration
	dateOnly       bool
	set            *rrule.Set
	maxOccurrences int
}

// Parse decodes a recurrence definition. Date-only and floating values are
// interpreted in loc (UTC when nil).
func Parse(text string, loc *time.Location) (*Rule, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmpty
	}

	if loc == nil {
		loc = time.UTC
	}

	comp, err := decodeEvent(text)
	if err != nil {
		return nil, err
	}

	startProp := comp.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return nil, fmt.Errorf("%w: missing DTSTART", ErrInvalid)
	}

	start, err := startProp.DateTime(loc)
	if err != nil {
		return nil, fmt.Errorf("%w: DTSTART: %w", ErrInvalid, err)
	}

	r := &Rule{
		text:           text,
		start:          start,
		dateOnly:       isDateValue(startProp),
		maxOccurrences: DefaultMaxOccurrences,
	}

	r.duration, err = eventDuration(comp, start, r.dateOnly, loc)
	if err != nil {
		return nil, err
	}

	r.set, err = buildSet(comp, start, loc)
	if err != nil {
		return nil, err
	}

	return r, nil
}

// decodeEvent wraps the definition lines into a VEVENT inside a VCALENDAR
// and decodes it. VTIMEZONE blocks are hoisted to calendar level.
func decodeEvent(text string) (*ical.Component, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var body, zones []string

	inZone := false

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		upper := strings.ToUpper(strings.TrimSpace(line))

		switch {
		case upper == "BEGIN:VTIMEZONE":
			inZone = true
			zones = append(zones, line)
		case upper == "END:VTIMEZONE":
			inZone = false
			zones = append(zones, line)
		case inZone:
			zones = append(zones, line)
		default:
			body = append(body, line)
		}
	}

	var b strings.Builder

	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//calsync//recurrence//EN\r\n")

	for _, line := range zones {
		b.WriteString(line + "\r\n")
	}

	b.WriteString("BEGIN:VEVENT\r\n")

	for _, line := range body {
		b.WriteString(line + "\r\n")
	}

	b.WriteString("END:VEVENT\r\nEND:VCALENDAR\r\n")

	cal, err := ical.NewDecoder(strings.NewReader(b.String())).Decode()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	for _, child := range cal.Children {
		if child.Name == ical.CompEvent {
			return child, nil
		}
	}

	return nil, fmt.Errorf("%w: no event component", ErrInvalid)
}

// eventDuration derives the length of every occurrence: DTEND - DTSTART,
// else DURATION, else one day for date-only starts and zero otherwise.
func eventDuration(comp *ical.Component, start time.Time, dateOnly bool, loc *time.Location) (time.Duration, error) {
	if endProp := comp.Props.Get(ical.PropDateTimeEnd); endProp != nil {
		end, err := endProp.DateTime(loc)
		if err != nil {
			return 0, fmt.Errorf("%w: DTEND: %w", ErrInvalid, err)
		}

		if end.Before(start) {
			return 0, fmt.Errorf("%w: DTEND before DTSTART", ErrInvalid)
		}

		return end.Sub(start), nil
	}

	if durProp := comp.Props.Get(ical.PropDuration); durProp != nil {
		d, err := durProp.Duration()
		if err != nil {
			return 0, fmt.Errorf("%w: DURATION: %w", ErrInvalid, err)
		}

		return d, nil
	}

	if dateOnly {
		return oneDay, nil
	}

	return 0, nil
}

func buildSet(comp *ical.Component, start time.Time, loc *time.Location) (*rrule.Set, error) {
	set := &rrule.Set{}

	rules := comp.Props[ical.PropRecurrenceRule]
	for _, p := range rules {
		opt, err := rrule.StrToROption(p.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: RRULE %q: %w", ErrInvalid, p.Value, err)
		}

		opt.Dtstart = start

		rule, err := rrule.NewRRule(*opt)
		if err != nil {
			return nil, fmt.Errorf("%w: RRULE %q: %w", ErrInvalid, p.Value, err)
		}

		set.RRule(rule)
	}

	rdates, err := propDates(comp.Props[ical.PropRecurrenceDates], loc)
	if err != nil {
		return nil, fmt.Errorf("%w: RDATE: %w", ErrInvalid, err)
	}

	if len(rules) == 0 && len(rdates) == 0 {
		return nil, fmt.Errorf("%w: neither RRULE nor RDATE present", ErrInvalid)
	}

	// DTSTART is always the first instance of an RDATE-only series.
	if len(rules) == 0 {
		set.RDate(start)
	}

	for _, t := range rdates {
		set.RDate(t)
	}

	exdates, err := propDates(comp.Props[ical.PropExceptionDates], loc)
	if err != nil {
		return nil, fmt.Errorf("%w: EXDATE: %w", ErrInvalid, err)
	}

	for _, t := range exdates {
		set.ExDate(t)
	}

	return set, nil
}

// propDates parses the comma-separated values of every RDATE/EXDATE property.
func propDates(props []ical.Prop, loc *time.Location) ([]time.Time, error) {
	var out []time.Time

	for i := range props {
		p := &props[i]

		zone := loc
		if tzid := p.Params.Get(ical.ParamTimezoneID); tzid != "" {
			z, err := time.LoadLocation(tzid)
			if err != nil {
				return nil, fmt.Errorf("loading TZID %q: %w", tzid, err)
			}

			zone = z
		}

		for _, v := range strings.Split(p.Value, ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}

			t, err := parseValue(v, zone)
			if err != nil {
				return nil, err
			}

			out = append(out, t)
		}
	}

	return out, nil
}

func parseValue(v string, loc *time.Location) (time.Time, error) {
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse(dateTimeLayout+"Z", v)
	case len(v) == len(dateLayout):
		return time.ParseInLocation(dateLayout, v, loc)
	default:
		return time.ParseInLocation(dateTimeLayout, v, loc)
	}
}

func isDateValue(p *ical.Prop) bool {
	if strings.EqualFold(p.Params.Get(ical.ParamValue), string(ical.ValueDate)) {
		return true
	}

	return len(p.Value) == len(dateLayout)
}

// WithLimit returns a copy of r whose Overlapping calls stop after n periods.
// n <= 0 restores the default cap.
func (r *Rule) WithLimit(n int) *Rule {
	cp := *r
	if n <= 0 {
		n = DefaultMaxOccurrences
	}

	cp.maxOccurrences = n

	return &cp
}

// Text returns the definition the rule was parsed from.
func (r *Rule) Text() string { return r.text }

// Start returns DTSTART.
func (r *Rule) Start() time.Time { return r.start }

// Duration returns the length of every occurrence.
func (r *Rule) Duration() time.Duration { return r.duration }

// DateOnly reports whether DTSTART carries no time of day.
func (r *Rule) DateOnly() bool { return r.dateOnly }

// First returns the period anchored at DTSTART.
func (r *Rule) First() Period {
	return Period{Start: r.start, End: r.start.Add(r.duration)}
}

// Overlapping returns, in ascending order, every period that overlaps the
// inclusive window [from, to]. A period overlaps when it starts no later
// than to and ends after from; zero-length periods must start within the
// window. The walk stops at the occurrence cap, and after maxScanned
// generated starts, so a fine-grained rule costs no more than the cap
// allows whatever the window.
func (r *Rule) Overlapping(from, to time.Time) []Period {
	if to.Before(from) {
		return nil
	}

	// Periods that started before the window may still be running inside it.
	lower := from.Add(-r.duration)
	next := r.set.Iterator()

	var out []Period

	for range maxScanned {
		s, ok := next()
		if !ok || s.After(to) {
			break
		}

		if s.Before(lower) {
			continue
		}

		p := Period{Start: s, End: s.Add(r.duration)}
		if !p.overlaps(from, to) {
			continue
		}

		out = append(out, p)
		if len(out) >= r.maxOccurrences {
			break
		}
	}

	return out
}

func (p Period) overlaps(from, to time.Time) bool {
	if p.Start.After(to) {
		return false
	}

	if p.End.Equal(p.Start) {
		return !p.Start.Before(from)
	}

	return p.End.After(from)
}
