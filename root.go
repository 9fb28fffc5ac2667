package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/calsync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that resolve configuration
// themselves (login, config-free helpers).
const skipConfigAnnotation = "calsync/skip-config"

// CLIFlags are the persistent flags shared by every command.
type CLIFlags struct {
	ConfigPath string
	Feed       string
	Database   string
	JSON       bool
	Verbose    bool
	Debug      bool
	Quiet      bool
}

// CLIContext carries what the root pre-run resolved to every command.
// Cfg is nil for commands with skipConfigAnnotation.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved
	Logger *slog.Logger
	Out    io.Writer
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("calsync: command ran without CLI context")
	}

	return cc
}

// Statusf prints a progress message to stderr unless --quiet is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// cliOverrides maps the persistent flags onto the config layer.
func (cc *CLIContext) cliOverrides() config.CLIOverrides {
	return config.CLIOverrides{
		ConfigPath: cc.Flags.ConfigPath,
		Feed:       cc.Flags.Feed,
		Database:   cc.Flags.Database,
	}
}

// reresolve resolves the config again with command-level flags applied on
// top of the persistent ones.
func (cc *CLIContext) reresolve(apply func(*config.CLIOverrides)) error {
	overrides := cc.cliOverrides()
	apply(&overrides)

	resolved, err := config.Resolve(config.ReadEnvOverrides(), overrides)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cc.Cfg = resolved

	return nil
}

func newRootCmd() *cobra.Command {
	flags := &CLIFlags{}

	cmd := &cobra.Command{
		Use:   "calsync",
		Short: "Mirror Google calendars into a local cache",
		Long: `calsync keeps a local SQLite mirror of the calendars and events of a
Google account, expands recurring events over any time range, and records
conflicts when local records are newer than the remote.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc := &CLIContext{Flags: *flags, Out: cmd.OutOrStdout()}

			if cmd.Annotations[skipConfigAnnotation] == "" {
				resolved, err := config.Resolve(config.ReadEnvOverrides(), cc.cliOverrides())
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}

				cc.Cfg = resolved
			}

			cc.Logger = buildLogger(cc.Cfg, cc.Flags, os.Stderr, isatty.IsTerminal(os.Stderr.Fd()))

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "config file path (env "+config.EnvConfig+")")
	pf.StringVar(&flags.Feed, "feed", "", "feed name from the config file (env "+config.EnvFeed+")")
	pf.StringVar(&flags.Database, "db", "", "cache database path (env "+config.EnvDB+")")
	pf.BoolVar(&flags.JSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "log informational messages")
	pf.BoolVar(&flags.Debug, "debug", false, "log debug messages")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "log errors only and suppress progress output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newStatusCmd(),
		newSyncCmd(),
		newWatchCmd(),
		newReloadCmd(),
		newCalendarsCmd(),
		newEventsCmd(),
		newConflictsCmd(),
		newPushCmd(),
		newStaleCmd(),
		newServeCmd(),
		newConfigCmd(),
	)

	return cmd
}

// buildLogger picks the level from the config file (warn without one) and
// lets --verbose, --debug and --quiet override it. With log_format "auto"
// the output is text on a terminal and JSON otherwise.
func buildLogger(cfg *config.Resolved, flags CLIFlags, w io.Writer, terminal bool) *slog.Logger {
	level := slog.LevelWarn
	format := "auto"

	if cfg != nil {
		level = parseLevel(cfg.LogLevel)
		format = cfg.LogFormat
	}

	switch {
	case flags.Debug:
		level = slog.LevelDebug
	case flags.Verbose:
		level = slog.LevelInfo
	case flags.Quiet:
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !terminal) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
