package calendar

import (
	"cmp"
	"slices"

	"github.com/samber/mo"
)

// Occurrence is one concrete instance returned by a range query. It is
// built fresh from its source record and never persisted or reconciled.
type Occurrence struct {
	// Source is the record whose descriptive fields were copied: the
	// template for rule-generated instances, otherwise the event itself.
	Source *Event
	// TemplateUID is the uid of the series template, empty for single
	// events.
	TemplateUID string
	// Exception marks an instance standing for an explicit exception.
	Exception bool

	Title       mo.Option[string]
	Description mo.Option[string]
	Author      mo.Option[string]
	Location    mo.Option[string]
	Status      Status
	Start       Time
	End         Time
	AllDay      bool
}

func newOccurrence(src *Event, templateUID string, start, end Time, allDay bool) Occurrence {
	return Occurrence{
		Source:      src,
		TemplateUID: templateUID,
		Title:       src.Title,
		Description: src.Description,
		Author:      src.Author,
		Location:    src.Location,
		Status:      src.Status,
		Start:       start,
		End:         end,
		AllDay:      allDay,
	}
}

// seriesKey is the tie-break key: template uid, or the event's own uid for
// single events.
func (o Occurrence) seriesKey() string {
	if o.TemplateUID != "" {
		return o.TemplateUID
	}

	return o.Source.UID
}

// sortOccurrences orders by start, then series uid, keeping the incoming
// order for full ties.
func sortOccurrences(occ []Occurrence) {
	slices.SortStableFunc(occ, func(a, b Occurrence) int {
		if c := a.Start.Compare(b.Start.Time); c != 0 {
			return c
		}

		return cmp.Compare(a.seriesKey(), b.seriesKey())
	})
}
