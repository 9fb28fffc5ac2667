package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/calsync/internal/sync"
)

func newPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Write unresolved conflicts back to the remote",
		Long: `Write every unresolved conflict's local record back to the remote and
mark the ledger entry pushed or failed. Failed entries are listed by
'calsync conflicts --all'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			client, err := newRemote(ctx, cc)
			if err != nil {
				return err
			}

			sess, err := openFeedSession(ctx, cc)
			if err != nil {
				return err
			}
			defer sess.Close()

			return pushConflicts(ctx, cc, sess, client)
		},
	}
}

type pushOutput struct {
	Pushed int      `json:"pushed"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors"`
}

func pushConflicts(ctx context.Context, cc *CLIContext, sess *feedSession, pusher sync.Pusher) error {
	summary, err := sess.coord.PushConflicts(ctx, sess.feed, pusher)
	if err != nil {
		return err
	}

	errs := make([]string, len(summary.Errors))
	for i, e := range summary.Errors {
		errs[i] = e.Error()
	}

	if cc.Flags.JSON {
		if err := writeJSON(cc.Out, pushOutput{Pushed: summary.Pushed, Failed: summary.Failed, Errors: errs}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cc.Out, "Pushed %d, failed %d.\n", summary.Pushed, summary.Failed)

		for _, e := range errs {
			fmt.Fprintf(cc.Out, "  error: %s\n", e)
		}
	}

	if len(summary.Errors) > 0 {
		return fmt.Errorf("%w: %w", errPassIncomplete, errors.Join(summary.Errors...))
	}

	return nil
}
