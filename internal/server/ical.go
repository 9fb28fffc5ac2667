package server

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/tonimelisma/calsync/internal/calendar"
)

const productID = "-//calsync//calsync//EN"

// WriteICS encodes occurrences as a VCALENDAR with one VEVENT each.
// Instances of a series share the template uid and carry a RECURRENCE-ID.
func WriteICS(w io.Writer, c *calendar.Calendar, occ []calendar.Occurrence, now time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropName, c.Title)

	if tz, ok := c.TimeZone.Get(); ok {
		cal.Props.SetText("X-WR-TIMEZONE", tz)
	}

	for _, o := range occ {
		cal.Children = append(cal.Children, occurrenceComponent(o, now))
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encoding calendar: %w", err)
	}

	return nil
}

func occurrenceComponent(o calendar.Occurrence, now time.Time) *ical.Component {
	ev := ical.NewEvent()

	uid := o.Source.UID
	if o.TemplateUID != "" {
		uid = o.TemplateUID
	}

	ev.Props.SetText(ical.PropUID, uid)
	ev.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	setTime(ev.Component, ical.PropDateTimeStart, o.Start)

	if !o.End.IsZero() {
		setTime(ev.Component, ical.PropDateTimeEnd, o.End)
	}

	if o.TemplateUID != "" {
		setTime(ev.Component, ical.PropRecurrenceID, o.Start)
	}

	if v, ok := o.Title.Get(); ok {
		ev.Props.SetText(ical.PropSummary, v)
	}

	if v, ok := o.Description.Get(); ok {
		ev.Props.SetText(ical.PropDescription, v)
	}

	if v, ok := o.Location.Get(); ok {
		ev.Props.SetText(ical.PropLocation, v)
	}

	ev.Props.SetText(ical.PropStatus, strings.ToUpper(string(o.Status)))

	return ev.Component
}

func setTime(comp *ical.Component, name string, t calendar.Time) {
	if !t.DateOnly {
		comp.Props.SetDateTime(name, t.UTC())
		return
	}

	p := ical.NewProp(name)
	p.SetDate(t.Time)
	comp.Props.Set(p)
}
