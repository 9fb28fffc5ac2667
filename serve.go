package main

import (
	"github.com/spf13/cobra"

	"github.com/tonimelisma/calsync/internal/config"
	"github.com/tonimelisma/calsync/internal/server"
	"github.com/tonimelisma/calsync/internal/store"
)

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the cache over a read-only HTTP API",
		Long: `Serve feeds, calendars and expanded occurrences from the cache as JSON,
and occurrences of a calendar as iCalendar under .../events.ics. The server
never contacts the remote; run 'calsync watch' to keep the cache fresh.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if cmd.Flags().Changed("listen") {
				if err := cc.reresolve(func(o *config.CLIOverrides) { o.Listen = listen }); err != nil {
					return err
				}
			}

			ctx := shutdownContext(cmd.Context(), cc.Logger)

			st, err := store.Open(ctx, cc.Cfg.Database, cc.Logger)
			if err != nil {
				return err
			}
			defer st.Close()

			cc.Statusf("Serving %s on http://%s\n", cc.Cfg.Database, cc.Cfg.Listen)

			return server.New(st, newExpander(cc), cc.Logger).Run(ctx, cc.Cfg.Listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config)")

	return cmd
}
