package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/calsync/internal/calendar"
)

func newConflictsCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List records found newer locally than on the remote",
		Long: `List conflict ledger entries: local records whose update stamp was newer
than the remote snapshot during a pass. They stay unresolved until 'calsync
push' writes them back. Use --all to include pushed and failed entries.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			sess, err := openFeedSession(ctx, cc)
			if err != nil {
				return err
			}
			defer sess.Close()

			conflicts, err := sess.store.ListConflicts(ctx, sess.feed.ID, !all)
			if err != nil {
				return err
			}

			return printConflicts(cc, conflicts, all)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include resolved entries")

	return cmd
}

type conflictOutput struct {
	ID            string     `json:"id"`
	Kind          string     `json:"kind"`
	UID           string     `json:"uid"`
	CalendarUID   string     `json:"calendar_uid"`
	LocalUpdated  time.Time  `json:"local_updated"`
	RemoteUpdated time.Time  `json:"remote_updated"`
	DetectedAt    time.Time  `json:"detected_at"`
	Resolution    string     `json:"resolution"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

func printConflicts(cc *CLIContext, conflicts []calendar.Conflict, all bool) error {
	if cc.Flags.JSON {
		out := make([]conflictOutput, 0, len(conflicts))

		for _, c := range conflicts {
			co := conflictOutput{
				ID:            c.ID,
				Kind:          string(c.Kind),
				UID:           c.UID,
				CalendarUID:   c.CalendarUID,
				LocalUpdated:  c.LocalUpdated,
				RemoteUpdated: c.RemoteUpdated,
				DetectedAt:    c.DetectedAt,
				Resolution:    string(c.Resolution),
			}

			if t, ok := c.ResolvedAt.Get(); ok {
				co.ResolvedAt = &t
			}

			out = append(out, co)
		}

		return writeJSON(cc.Out, out)
	}

	if len(conflicts) == 0 {
		if all {
			fmt.Fprintln(cc.Out, "No conflicts recorded.")
		} else {
			fmt.Fprintln(cc.Out, "No unresolved conflicts.")
		}

		return nil
	}

	rows := make([][]string, 0, len(conflicts))

	for _, c := range conflicts {
		rows = append(rows, []string{
			truncateID(c.ID),
			string(c.Kind),
			formatTime(c.LocalUpdated),
			formatTime(c.RemoteUpdated),
			string(c.Resolution),
			c.UID,
		})
	}

	printTable(cc.Out, []string{"ID", "KIND", "LOCAL", "REMOTE", "STATE", "UID"}, rows)

	return nil
}
