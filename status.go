package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/calsync/internal/config"
	"github.com/tonimelisma/calsync/internal/store"
	"github.com/tonimelisma/calsync/internal/tokenfile"
)

// Token states for status reporting.
const (
	tokenStateMissing = "missing"
	tokenStateExpired = "expired"
	tokenStateValid   = "valid"
	tokenStateInvalid = "invalid"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show every configured feed with its token and cache state",
		Long: `Show every feed of the config file: the token state, when the cache last
advanced, how many conflicts are unresolved, and whether a watch is running.`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), mustCLIContext(cmd.Context()))
		},
	}
}

type feedStatus struct {
	Name       string     `json:"name"`
	Account    string     `json:"account,omitempty"`
	TokenState string     `json:"token_state"`
	SyncedAt   *time.Time `json:"synced_at,omitempty"`
	Calendars  int        `json:"calendars"`
	Conflicts  int        `json:"unresolved_conflicts"`
	WatchPID   int        `json:"watch_pid,omitempty"`
}

func runStatus(ctx context.Context, cc *CLIContext) error {
	env := config.ReadEnvOverrides()
	base := cc.cliOverrides()

	cfgPath := firstSet(base.ConfigPath, env.ConfigPath, config.DefaultConfigPath())

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if len(cfg.Feeds) == 0 {
		fmt.Fprintf(cc.Out, "No feeds configured in %s. Run 'calsync login --client-id ID' to add one.\n", cfgPath)
		return nil
	}

	var resolved []*config.Resolved

	for _, name := range cfg.FeedNames() {
		o := base
		o.ConfigPath = cfgPath
		o.Feed = name

		r, err := config.Resolve(env, o)
		if err != nil {
			return fmt.Errorf("resolving feed %q: %w", name, err)
		}

		resolved = append(resolved, r)
	}

	st, err := store.Open(ctx, resolved[0].Database, cc.Logger)
	if err != nil {
		return err
	}
	defer st.Close()

	out := make([]feedStatus, 0, len(resolved))

	for _, r := range resolved {
		fs, err := collectFeedStatus(ctx, st, r)
		if err != nil {
			return err
		}

		out = append(out, fs)
	}

	if cc.Flags.JSON {
		return writeJSON(cc.Out, out)
	}

	rows := make([][]string, 0, len(out))

	for _, fs := range out {
		synced := "never"
		if fs.SyncedAt != nil {
			synced = formatTime(*fs.SyncedAt)
		}

		watch := "-"
		if fs.WatchPID != 0 {
			watch = "pid " + strconv.Itoa(fs.WatchPID)
		}

		rows = append(rows, []string{
			fs.Name,
			fs.Account,
			fs.TokenState,
			synced,
			strconv.Itoa(fs.Calendars),
			strconv.Itoa(fs.Conflicts),
			watch,
		})
	}

	printTable(cc.Out, []string{"FEED", "ACCOUNT", "TOKEN", "SYNCED", "CALENDARS", "CONFLICTS", "WATCH"}, rows)

	return nil
}

func collectFeedStatus(ctx context.Context, st *store.Store, r *config.Resolved) (feedStatus, error) {
	fs := feedStatus{
		Name:       r.FeedName,
		Account:    r.Account,
		TokenState: tokenState(r.TokenFile),
	}

	if pid, err := livePID(pidFilePathFor(r.Database, r.FeedName)); err == nil {
		fs.WatchPID = pid
	}

	feed, err := st.LoadFeed(ctx, r.FeedName)
	if errors.Is(err, store.ErrNotFound) {
		return fs, nil
	}

	if err != nil {
		return fs, err
	}

	if t, ok := feed.Stamp().Get(); ok {
		fs.SyncedAt = &t
	}

	fs.Calendars = len(feed.Calendars())

	conflicts, err := st.ListConflicts(ctx, feed.ID, true)
	if err != nil {
		return fs, err
	}

	fs.Conflicts = len(conflicts)

	if fs.Account == "" {
		fs.Account = feed.Account
	}

	return fs, nil
}

// tokenState classifies the token file. An expired access token with a
// refresh token is still usable and reported valid.
func tokenState(path string) string {
	tok, _, err := tokenfile.Load(path)

	switch {
	case err != nil:
		return tokenStateInvalid
	case tok == nil:
		return tokenStateMissing
	case tok.RefreshToken == "" && !tok.Expiry.IsZero() && tok.Expiry.Before(time.Now()):
		return tokenStateExpired
	default:
		return tokenStateValid
	}
}
