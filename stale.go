package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/calsync/internal/calendar"
)

func newStaleCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "stale",
		Short: "List cached records no pass has seen recently",
		Long: `List calendars and events missing from every remote snapshot within
--older-than (default: stale_after from the config). Records that are still
on the remote but unchanged count as seen. Records deleted on the remote are
never removed from the cache; this is how they show up.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			if !cmd.Flags().Changed("older-than") {
				olderThan = cc.Cfg.StaleAfter
			}

			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive, got %s", olderThan)
			}

			sess, err := openFeedSession(ctx, cc)
			if err != nil {
				return err
			}
			defer sess.Close()

			recs, err := sess.coord.Stale(ctx, sess.feed, olderThan)
			if err != nil {
				return err
			}

			return printStale(cc, recs, olderThan)
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "report records not seen within this duration")

	return cmd
}

type staleOutput struct {
	Kind        string     `json:"kind"`
	UID         string     `json:"uid"`
	CalendarUID string     `json:"calendar_uid"`
	Title       string     `json:"title"`
	SyncedAt    *time.Time `json:"synced_at,omitempty"`
	SeenAt      *time.Time `json:"seen_at,omitempty"`
}

func printStale(cc *CLIContext, recs []calendar.StaleRecord, olderThan time.Duration) error {
	if cc.Flags.JSON {
		out := make([]staleOutput, 0, len(recs))

		for _, r := range recs {
			so := staleOutput{Kind: string(r.Kind), UID: r.UID, CalendarUID: r.CalendarUID, Title: r.Title}
			if !r.SyncedAt.IsZero() {
				t := r.SyncedAt
				so.SyncedAt = &t
			}

			if !r.SeenAt.IsZero() {
				t := r.SeenAt
				so.SeenAt = &t
			}

			out = append(out, so)
		}

		return writeJSON(cc.Out, out)
	}

	if len(recs) == 0 {
		fmt.Fprintf(cc.Out, "No records older than %s.\n", olderThan)
		return nil
	}

	rows := make([][]string, 0, len(recs))

	for _, r := range recs {
		rows = append(rows, []string{string(r.Kind), r.Title, formatTime(r.SeenAt), formatTime(r.SyncedAt), r.UID})
	}

	printTable(cc.Out, []string{"KIND", "TITLE", "SEEN", "SYNCED", "UID"}, rows)

	return nil
}
