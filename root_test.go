package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/calsync/internal/config"
)

func enabled(l *slog.Logger, level slog.Level) bool {
	return l.Handler().Enabled(context.Background(), level)
}

func TestBuildLogger_Levels(t *testing.T) {
	cfgDebug := &config.Resolved{LogLevel: "debug", LogFormat: "text"}
	cfgError := &config.Resolved{LogLevel: "error", LogFormat: "text"}

	tests := []struct {
		name  string
		cfg   *config.Resolved
		flags CLIFlags
		want  slog.Level
	}{
		{"no config is warn", nil, CLIFlags{}, slog.LevelWarn},
		{"config level", cfgDebug, CLIFlags{}, slog.LevelDebug},
		{"config error", cfgError, CLIFlags{}, slog.LevelError},
		{"verbose over config", cfgError, CLIFlags{Verbose: true}, slog.LevelInfo},
		{"debug over config", cfgError, CLIFlags{Debug: true}, slog.LevelDebug},
		{"quiet over config", cfgDebug, CLIFlags{Quiet: true}, slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := buildLogger(tt.cfg, tt.flags, &bytes.Buffer{}, true)

			assert.True(t, enabled(l, tt.want))
			assert.False(t, enabled(l, tt.want-1), "level below %s", tt.want)
		})
	}
}

func TestBuildLogger_Format(t *testing.T) {
	tests := []struct {
		name     string
		format   string
		terminal bool
		json     bool
	}{
		{"auto on terminal", "auto", true, false},
		{"auto off terminal", "auto", false, true},
		{"json", "json", true, true},
		{"text", "text", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			cfg := &config.Resolved{LogLevel: "info", LogFormat: tt.format}
			buildLogger(cfg, CLIFlags{}, &buf, tt.terminal).Info("hello")

			if tt.json {
				assert.Contains(t, buf.String(), `"msg":"hello"`)
			} else {
				assert.Contains(t, buf.String(), "msg=hello")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, want := range []string{
		"login", "logout", "status", "sync", "watch", "reload", "calendars",
		"events", "conflicts", "push", "stale", "serve", "config",
	} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "feed", "db", "json", "verbose", "debug", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "missing flag --%s", name)
	}
}

func TestNewRootCmd_SkipConfigAnnotations(t *testing.T) {
	cmd := newRootCmd()

	for _, path := range [][]string{{"login"}, {"status"}, {"config", "path"}} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err)
		assert.NotEmpty(t, sub.Annotations[skipConfigAnnotation], "%v", path)
	}

	sub, _, err := cmd.Find([]string{"sync"})
	require.NoError(t, err)
	assert.Empty(t, sub.Annotations[skipConfigAnnotation])
}

func TestRootCmd_VerbosityFlagsExclusive(t *testing.T) {
	env := newCLIEnv(t, "https://example.test/calendars")

	_, err := env.run(t, "--verbose", "--debug", "calendars")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verbose")
}

func TestRootCmd_SetsCLIContext(t *testing.T) {
	env := newCLIEnv(t, "https://example.test/calendars")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", env.cfgPath, "--db", "/tmp/other.db", "config", "show"})
	cmd.SetOut(&bytes.Buffer{})

	var got *CLIContext

	show, _, err := cmd.Find([]string{"config", "show"})
	require.NoError(t, err)

	show.RunE = func(c *cobra.Command, _ []string) error {
		got = mustCLIContext(c.Context())
		return nil
	}

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	require.NotNil(t, got)
	assert.Equal(t, "personal", got.Cfg.FeedName)
	assert.Equal(t, "/tmp/other.db", got.Cfg.Database)
	assert.NotNil(t, got.Logger)
}

func TestCLIContextFrom_Missing(t *testing.T) {
	assert.Nil(t, cliContextFrom(context.Background()))
	assert.Panics(t, func() { mustCLIContext(context.Background()) })
}
