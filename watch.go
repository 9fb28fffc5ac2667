package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/calsync/internal/config"
	"github.com/tonimelisma/calsync/internal/server"
	"github.com/tonimelisma/calsync/internal/sync"
)

func newWatchCmd() *cobra.Command {
	var serve bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync the feed on a schedule until interrupted",
		Long: `Run a sync pass every poll_interval until SIGINT or SIGTERM. Repeated
failures back off up to an hour. The config file is reloaded when it changes
or on SIGHUP (see 'calsync reload').`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd.Context(), mustCLIContext(cmd.Context()), serve)
		},
	}

	cmd.Flags().BoolVar(&serve, "serve", false, "also serve the read-only HTTP API on the configured listen address")

	return cmd
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask a running watch to reload its config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			pid, err := sendSIGHUP(pidFilePath(cc))
			if err != nil {
				return err
			}

			cc.Statusf("Sent reload to watch (pid %d) for feed %q.\n", pid, cc.Cfg.FeedName)

			return nil
		},
	}
}

func runWatch(ctx context.Context, cc *CLIContext, serve bool) error {
	cleanup, err := writePIDFile(pidFilePath(cc))
	if err != nil {
		return err
	}
	defer cleanup()

	ctx = shutdownContext(ctx, cc.Logger)

	remote, err := newRemote(ctx, cc)
	if err != nil {
		return err
	}

	sess, err := openFeedSession(ctx, cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	w := newWatcher(cc, sess, remote)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.run(gctx) })

	if serve {
		srv := server.New(sess.store, newExpander(cc), cc.Logger)
		g.Go(func() error { return srv.Run(gctx, cc.Cfg.Listen) })
	}

	cc.Statusf("Watching feed %q every %s (Ctrl-C to stop).\n", cc.Cfg.FeedName, cc.Cfg.PollInterval)

	return g.Wait()
}

// watcher runs scheduled passes for one feed and tracks consecutive
// failures for backoff.
type watcher struct {
	holder    *config.Holder
	overrides config.CLIOverrides
	sess      *feedSession
	remote    sync.Remote
	logger    *slog.Logger
	nowFunc   func() time.Time

	mu          gosync.Mutex
	failures    int
	nextAllowed time.Time
	entry       cron.EntryID
}

func newWatcher(cc *CLIContext, sess *feedSession, remote sync.Remote) *watcher {
	return &watcher{
		holder:    config.NewHolder(cc.Cfg),
		overrides: cc.cliOverrides(),
		sess:      sess,
		remote:    remote,
		logger:    cc.Logger,
		nowFunc:   time.Now,
	}
}

// run schedules passes, starts one immediately, and serves reload requests
// until ctx is done.
func (w *watcher) run(ctx context.Context) error {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(w.logger.Handler(), slog.LevelDebug))
	sched := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	if err := w.schedule(ctx, sched, w.holder.Resolved().PollInterval); err != nil {
		return err
	}

	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	// Through the wrapped job so the first pass also counts as running.
	go sched.Entry(w.entry).WrappedJob.Run()

	fileEvents, fileErrors, closeWatch := w.watchConfigFile()
	defer closeWatch()

	hup := reloadSignals(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			w.logger.Info("SIGHUP received, reloading config")
			w.reload(ctx, sched)
		case ev := <-fileEvents:
			if filepath.Clean(ev.Name) != filepath.Clean(w.holder.Path()) {
				continue
			}

			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				w.logger.Info("config file changed, reloading", slog.String("path", ev.Name))
				w.reload(ctx, sched)
			}
		case err := <-fileErrors:
			w.logger.Warn("config watch error", slog.String("error", err.Error()))
		}
	}
}

// schedule replaces the pass entry with one firing every interval.
func (w *watcher) schedule(ctx context.Context, sched *cron.Cron, interval time.Duration) error {
	if w.entry != 0 {
		sched.Remove(w.entry)
	}

	id, err := sched.AddFunc(fmt.Sprintf("@every %s", interval), func() { w.tick(ctx) })
	if err != nil {
		return fmt.Errorf("scheduling sync every %s: %w", interval, err)
	}

	w.entry = id

	return nil
}

// tick runs one pass unless a failure backoff is in effect.
func (w *watcher) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	now := w.nowFunc()

	w.mu.Lock()
	wait := w.nextAllowed
	w.mu.Unlock()

	if now.Before(wait) {
		w.logger.Debug("skipping pass during backoff", slog.Time("until", wait))
		return
	}

	cfg := w.holder.Resolved()

	summary, err := w.sess.coord.Sync(ctx, w.sess.feed, w.remote, sync.SyncOptions{Force: cfg.Force})

	switch {
	case errors.Is(err, sync.ErrPassInProgress):
		w.logger.Debug("previous pass still running")
		return
	case ctx.Err() != nil:
		return
	case err != nil:
		w.recordFailure(err)
		return
	case summary.Blocked():
		w.recordFailure(summary.Err())
		return
	}

	w.mu.Lock()
	w.failures = 0
	w.nextAllowed = time.Time{}
	w.mu.Unlock()

	w.logger.Info("watch pass complete",
		slog.String("feed", summary.Feed),
		slog.Bool("fast_path", summary.FastPath),
		slog.Int("events_created", summary.Events.Created),
		slog.Int("events_updated", summary.Events.Updated),
		slog.Int("events_conflicted", summary.Events.Conflicted),
		slog.Int("skipped", len(summary.Errors)),
	)
}

func (w *watcher) recordFailure(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.failures++
	backoff := sync.BackoffDuration(w.failures)
	w.nextAllowed = w.nowFunc().Add(backoff)

	w.logger.Warn("watch pass failed",
		slog.String("error", err.Error()),
		slog.Int("consecutive_failures", w.failures),
		slog.Duration("backoff", backoff),
	)
}

// reload resolves the config again. The poll interval and force flag take
// effect immediately; other changes need a restart. A broken file keeps the
// previous config.
func (w *watcher) reload(ctx context.Context, sched *cron.Cron) {
	old := w.holder.Resolved()

	r, err := config.Resolve(config.ReadEnvOverrides(), w.overrides)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous config", slog.String("error", err.Error()))
		return
	}

	w.holder.Update(r)

	if r.PollInterval != old.PollInterval {
		if err := w.schedule(ctx, sched, r.PollInterval); err != nil {
			w.logger.Warn("rescheduling failed", slog.String("error", err.Error()))
			return
		}

		w.logger.Info("poll interval changed",
			slog.Duration("old", old.PollInterval),
			slog.Duration("new", r.PollInterval),
		)
	}

	if r.Workers != old.Workers || r.Database != old.Database ||
		r.TokenFile != old.TokenFile || r.CalendarFeedURL != old.CalendarFeedURL {
		w.logger.Warn("some config changes take effect only after restarting watch")
	}
}

// watchConfigFile watches the config file's directory, so that editors
// replacing the file by rename are seen. A failure to watch only disables
// automatic reload.
func (w *watcher) watchConfigFile() (<-chan fsnotify.Event, <-chan error, func()) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("config file watch unavailable", slog.String("error", err.Error()))
		return nil, nil, func() {}
	}

	dir := filepath.Dir(w.holder.Path())
	if err := fw.Add(dir); err != nil {
		fw.Close()
		w.logger.Warn("config file watch unavailable",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)

		return nil, nil, func() {}
	}

	return fw.Events, fw.Errors, func() { fw.Close() }
}
