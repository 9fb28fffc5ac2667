package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/calsync/internal/config"
	"github.com/tonimelisma/calsync/internal/reconcile"
	"github.com/tonimelisma/calsync/internal/sync"
)

// exitPassIncomplete is the exit status of a pass that finished with
// record or calendar errors.
const exitPassIncomplete = 2

var errPassIncomplete = errors.New("sync pass finished with errors")

func newSyncCmd() *cobra.Command {
	var (
		force   bool
		workers int
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass for the feed",
		Long: `Fetch the calendar list and every changed calendar's events, and
reconcile them into the local cache. Local records newer than the remote are
left alone and recorded as conflicts.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := cc.reresolve(func(o *config.CLIOverrides) {
				if cmd.Flags().Changed("force") {
					o.Force = &force
				}

				if cmd.Flags().Changed("workers") {
					o.Workers = &workers
				}
			}); err != nil {
				return err
			}

			return runSync(cmd.Context(), cc)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "skip the fast path and overwrite records with equal stamps")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent calendar passes")

	return cmd
}

func runSync(ctx context.Context, cc *CLIContext) error {
	remote, err := newRemote(ctx, cc)
	if err != nil {
		return err
	}

	sess, err := openFeedSession(ctx, cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	return syncOnce(ctx, cc, sess, remote)
}

// syncOnce runs a pass and reports it. errPassIncomplete is returned when
// the summary lists any error.
func syncOnce(ctx context.Context, cc *CLIContext, sess *feedSession, remote sync.Remote) error {
	cc.Statusf("Syncing feed %q...\n", sess.feed.Name)

	summary, err := sess.coord.Sync(ctx, sess.feed, remote, sync.SyncOptions{Force: cc.Cfg.Force})
	if err != nil {
		return err
	}

	if err := printSummary(cc, summary); err != nil {
		return err
	}

	if len(summary.Errors) > 0 {
		return fmt.Errorf("%w: %d errors", errPassIncomplete, len(summary.Errors))
	}

	return nil
}

type countsJSON struct {
	Created    int `json:"created"`
	Updated    int `json:"updated"`
	Conflicted int `json:"conflicted"`
	Unchanged  int `json:"unchanged"`
	Errors     int `json:"errors"`
}

func newCountsJSON(c reconcile.Counts) countsJSON {
	return countsJSON(c)
}

// syncOutput is the JSON schema for `sync --json`.
type syncOutput struct {
	Feed       string     `json:"feed"`
	Calendars  countsJSON `json:"calendars"`
	Events     countsJSON `json:"events"`
	FastPath   bool       `json:"fast_path"`
	Advanced   bool       `json:"advanced"`
	SyncedAt   *time.Time `json:"synced_at,omitempty"`
	DurationMs int64      `json:"duration_ms"`
	Errors     []string   `json:"errors"`
}

func printSummary(cc *CLIContext, s *sync.Summary) error {
	errs := make([]string, len(s.Errors))
	for i, err := range s.Errors {
		errs[i] = err.Error()
	}

	if cc.Flags.JSON {
		out := syncOutput{
			Feed:       s.Feed,
			Calendars:  newCountsJSON(s.Calendars),
			Events:     newCountsJSON(s.Events),
			FastPath:   s.FastPath,
			Advanced:   s.Advanced,
			DurationMs: s.Duration.Milliseconds(),
			Errors:     errs,
		}

		if !s.SyncedAt.IsZero() {
			out.SyncedAt = &s.SyncedAt
		}

		return writeJSON(cc.Out, out)
	}

	fmt.Fprintf(cc.Out, "Feed %s synced in %s\n", s.Feed, s.Duration.Round(time.Millisecond))

	if s.FastPath {
		fmt.Fprintln(cc.Out, "  calendars: unchanged since last pass")
	} else {
		fmt.Fprintf(cc.Out, "  calendars: %s\n", formatCounts(s.Calendars))
	}

	fmt.Fprintf(cc.Out, "  events:    %s\n", formatCounts(s.Events))

	if s.Advanced {
		fmt.Fprintf(cc.Out, "  stamp:     %s\n", formatTime(s.SyncedAt))
	} else {
		fmt.Fprintln(cc.Out, "  stamp:     not advanced")
	}

	for _, e := range errs {
		fmt.Fprintf(cc.Out, "  error: %s\n", e)
	}

	return nil
}
