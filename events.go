package main

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/calsync/internal/calendar"
	"github.com/tonimelisma/calsync/internal/server"
)

const defaultEventWindow = 30 * 24 * time.Hour

type eventsOptions struct {
	From string
	To   string
	ICS  bool
}

func newEventsCmd() *cobra.Command {
	var opts eventsOptions

	cmd := &cobra.Command{
		Use:   "events [calendar...]",
		Short: "List event occurrences in a time range",
		Long: `List event occurrences in a time range, with recurring events expanded
and exceptions applied. Calendars are named by uid or title; all calendars are
listed when none is given. --from and --to take a date (2006-01-02) or an
RFC 3339 time and default to now and thirty days later.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			rng, err := parseRangeFlags(opts.From, opts.To, time.Now())
			if err != nil {
				return err
			}

			sess, err := openFeedSession(ctx, cc)
			if err != nil {
				return err
			}
			defer sess.Close()

			cals, err := selectCalendars(sess.feed, args)
			if err != nil {
				return err
			}

			if opts.ICS {
				if len(cals) != 1 {
					return errors.New("--ics exports exactly one calendar")
				}

				return exportICS(cc, cals[0], rng)
			}

			return printEvents(cc, cals, rng)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "range start (default now)")
	cmd.Flags().StringVar(&opts.To, "to", "", "range end (default thirty days after --from)")
	cmd.Flags().BoolVar(&opts.ICS, "ics", false, "write the occurrences of one calendar as iCalendar")

	return cmd
}

func parseRangeFlags(from, to string, now time.Time) (calendar.Range, error) {
	start := now.UTC()

	if from != "" {
		t, err := calendar.ParseTime(from)
		if err != nil {
			return calendar.Range{}, fmt.Errorf("--from: %w", err)
		}

		start = t.Time
	}

	end := start.Add(defaultEventWindow)

	if to != "" {
		t, err := calendar.ParseTime(to)
		if err != nil {
			return calendar.Range{}, fmt.Errorf("--to: %w", err)
		}

		end = t.Time
	}

	return calendar.NewRange(start, end)
}

type occurrenceOutput struct {
	Calendar    string `json:"calendar"`
	UID         string `json:"uid"`
	TemplateUID string `json:"template_uid,omitempty"`
	Exception   bool   `json:"exception,omitempty"`
	Title       string `json:"title,omitempty"`
	Location    string `json:"location,omitempty"`
	Status      string `json:"status"`
	Start       string `json:"start"`
	End         string `json:"end,omitempty"`
	AllDay      bool   `json:"all_day"`
}

// printEvents expands every calendar over rng. Expansion failures are
// reported and the remaining occurrences still printed.
func printEvents(cc *CLIContext, cals []*calendar.Calendar, rng calendar.Range) error {
	x := newExpander(cc)

	type calendarOccurrence struct {
		cal *calendar.Calendar
		occ calendar.Occurrence
	}

	var (
		all  []calendarOccurrence
		errs []error
	)

	for _, c := range cals {
		occ, err := c.EventsInRange(rng, x)
		if err != nil {
			cc.Logger.Warn("range query incomplete",
				"calendar", c.UID,
				"error", err.Error(),
			)
			errs = append(errs, fmt.Errorf("calendar %q: %w", c.Title, err))
		}

		for _, o := range occ {
			all = append(all, calendarOccurrence{cal: c, occ: o})
		}
	}

	slices.SortStableFunc(all, func(a, b calendarOccurrence) int {
		return a.occ.Start.Compare(b.occ.Start.Time)
	})

	out := make([]occurrenceOutput, 0, len(all))

	for _, co := range all {
		o := co.occ
		out = append(out, occurrenceOutput{
			Calendar:    co.cal.Title,
			UID:         o.Source.UID,
			TemplateUID: o.TemplateUID,
			Exception:   o.Exception,
			Title:       o.Title.OrEmpty(),
			Location:    o.Location.OrEmpty(),
			Status:      string(o.Status),
			Start:       o.Start.String(),
			End:         o.End.String(),
			AllDay:      o.AllDay,
		})
	}

	if cc.Flags.JSON {
		if err := writeJSON(cc.Out, out); err != nil {
			return err
		}

		return errors.Join(errs...)
	}

	if len(out) == 0 {
		fmt.Fprintln(cc.Out, "No events in range.")
	} else {
		writeOccurrenceTable(cc.Out, out)
	}

	return errors.Join(errs...)
}

func writeOccurrenceTable(w io.Writer, occ []occurrenceOutput) {
	rows := make([][]string, 0, len(occ))

	for _, o := range occ {
		title := o.Title
		if title == "" {
			title = "(untitled)"
		}

		rows = append(rows, []string{o.Start, o.End, title, o.Status, o.Calendar})
	}

	printTable(w, []string{"START", "END", "TITLE", "STATUS", "CALENDAR"}, rows)
}

func exportICS(cc *CLIContext, c *calendar.Calendar, rng calendar.Range) error {
	occ, err := c.EventsInRange(rng, newExpander(cc))
	if err != nil {
		cc.Logger.Warn("range query incomplete", "calendar", c.UID, "error", err.Error())
	}

	if werr := server.WriteICS(cc.Out, c, occ, time.Now()); werr != nil {
		return werr
	}

	return err
}
