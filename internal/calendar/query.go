package calendar

import (
	"errors"
)

// EventsInRange returns every occurrence in the calendar overlapping r,
// ordered by start: single events starting inside r, the expansion of every
// template, and every exception's own instance.
//
// An exception replaces the rule-generated instance of its template for the
// same nominal date, whether or not the exception itself lands in r.
// Cancelled exceptions suppress that instance and contribute nothing.
// Expansion failures are joined into the returned error alongside the
// occurrences that could be produced.
func (c *Calendar) EventsInRange(r Range, x *Expander) ([]Occurrence, error) {
	x = x.ForCalendar(c)
	events := c.Events()

	overrides := make(map[string][]Time)

	for _, ev := range events {
		if ev.Kind() != KindException {
			continue
		}

		tmpl := ev.Original.MustGet().UID
		overrides[tmpl] = append(overrides[tmpl], ev.NominalStart())
	}

	var (
		out  []Occurrence
		errs []error
	)

	for _, ev := range events {
		switch ev.Kind() {
		case KindSingle:
			if r.Contains(ev.Start.Time) {
				end := ev.End
				if end.IsZero() {
					end = ev.Start
				}

				out = append(out, newOccurrence(ev, "", ev.Start, end, ev.AllDay()))
			}

		case KindTemplate:
			occ, err := x.Expand(ev, r)
			if err != nil {
				errs = append(errs, err)
				continue
			}

			out = append(out, suppressOverridden(occ, overrides[ev.UID])...)

		case KindException:
			occ, err := x.Expand(ev, r)
			if err != nil {
				errs = append(errs, err)
				continue
			}

			out = append(out, occ...)
		}
	}

	sortOccurrences(out)

	return out, errors.Join(errs...)
}

// suppressOverridden drops rule-generated occurrences replaced by an
// exception: same instant, or same date as seen from the occurrence.
func suppressOverridden(occ []Occurrence, nominal []Time) []Occurrence {
	if len(nominal) == 0 {
		return occ
	}

	kept := occ[:0]

	for _, o := range occ {
		if !overridden(o, nominal) {
			kept = append(kept, o)
		}
	}

	return kept
}

func overridden(o Occurrence, nominal []Time) bool {
	for _, n := range nominal {
		if n.IsZero() {
			continue
		}

		if o.Start.Time.Equal(n.Time) || sameDate(o.Start.Time, n.Time) {
			return true
		}
	}

	return false
}
