package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/calsync/internal/calendar"
)

func newCalendarsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "calendars",
		Short: "List the cached calendars of the feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			sess, err := openFeedSession(ctx, cc)
			if err != nil {
				return err
			}
			defer sess.Close()

			return printCalendars(cc, sess.feed.Calendars())
		},
	}
}

type calendarOutput struct {
	UID      string     `json:"uid"`
	Title    string     `json:"title"`
	TimeZone string     `json:"timezone,omitempty"`
	Color    string     `json:"color,omitempty"`
	Hidden   bool       `json:"hidden"`
	Events   int        `json:"events"`
	Updated  time.Time  `json:"updated"`
	SyncedAt *time.Time `json:"synced_at,omitempty"`
}

func printCalendars(cc *CLIContext, cals []*calendar.Calendar) error {
	if cc.Flags.JSON {
		out := make([]calendarOutput, 0, len(cals))

		for _, c := range cals {
			co := calendarOutput{
				UID:      c.UID,
				Title:    c.Title,
				TimeZone: c.TimeZone.OrEmpty(),
				Color:    c.Color.OrEmpty(),
				Hidden:   c.Hidden,
				Events:   c.Len(),
				Updated:  c.Updated,
			}

			if t, ok := c.SyncedAt.Get(); ok {
				co.SyncedAt = &t
			}

			out = append(out, co)
		}

		return writeJSON(cc.Out, out)
	}

	if len(cals) == 0 {
		fmt.Fprintln(cc.Out, "No calendars cached. Run 'calsync sync' first.")
		return nil
	}

	rows := make([][]string, 0, len(cals))

	for _, c := range cals {
		title := c.Title
		if c.Hidden {
			title += " (hidden)"
		}

		rows = append(rows, []string{
			title,
			strconv.Itoa(c.Len()),
			c.TimeZone.OrElse("-"),
			formatOptionalTime(c.SyncedAt),
			c.UID,
		})
	}

	printTable(cc.Out, []string{"TITLE", "EVENTS", "TIMEZONE", "SYNCED", "UID"}, rows)

	return nil
}

// selectCalendars returns the calendars named by uid or exact title, or
// every calendar when names is empty.
func selectCalendars(feed *calendar.Feed, names []string) ([]*calendar.Calendar, error) {
	all := feed.Calendars()
	if len(names) == 0 {
		return all, nil
	}

	out := make([]*calendar.Calendar, 0, len(names))

	for _, name := range names {
		if c, ok := feed.Calendar(name); ok {
			out = append(out, c)
			continue
		}

		var match *calendar.Calendar

		for _, c := range all {
			if c.Title != name {
				continue
			}

			if match != nil {
				return nil, fmt.Errorf("calendar title %q is ambiguous; use the uid", name)
			}

			match = c
		}

		if match == nil {
			return nil, fmt.Errorf("no cached calendar with uid or title %q", name)
		}

		out = append(out, match)
	}

	return out, nil
}
