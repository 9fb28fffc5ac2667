package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/calsync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	cmd.AddCommand(newConfigShowCmd(), newConfigPathCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration of the feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if cc.Flags.JSON {
				return writeJSON(cc.Out, newConfigOutput(cc.Cfg))
			}

			return config.RenderEffective(cc.Cfg, cc.Out)
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "path",
		Short:       "Print the config file path",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			env := config.ReadEnvOverrides()

			fmt.Fprintln(cc.Out, firstSet(cc.Flags.ConfigPath, env.ConfigPath, config.DefaultConfigPath()))

			return nil
		},
	}
}

// configOutput is the JSON schema for `config show --json`.
type configOutput struct {
	ConfigPath      string   `json:"config_path"`
	Feed            string   `json:"feed"`
	Feeds           []string `json:"feeds"`
	Account         string   `json:"account"`
	TokenFile       string   `json:"token_file"`
	CalendarFeedURL string   `json:"calendar_feed_url,omitempty"`
	ClientID        string   `json:"client_id,omitempty"`
	ClientSecretSet bool     `json:"client_secret_set"`
	PollInterval    string   `json:"poll_interval"`
	Workers         int      `json:"workers"`
	Force           bool     `json:"force"`
	StaleAfter      string   `json:"stale_after"`
	MaxOccurrences  int      `json:"max_occurrences"`
	LogLevel        string   `json:"log_level"`
	LogFormat       string   `json:"log_format"`
	Timeout         string   `json:"timeout"`
	UserAgent       string   `json:"user_agent"`
	Database        string   `json:"database"`
	Listen          string   `json:"listen"`
}

func newConfigOutput(r *config.Resolved) configOutput {
	feeds := r.FeedNames
	if feeds == nil {
		feeds = []string{}
	}

	return configOutput{
		ConfigPath:      r.ConfigPath,
		Feed:            r.FeedName,
		Feeds:           feeds,
		Account:         r.Account,
		TokenFile:       r.TokenFile,
		CalendarFeedURL: r.CalendarFeedURL,
		ClientID:        r.ClientID,
		ClientSecretSet: r.ClientSecret != "",
		PollInterval:    r.PollInterval.String(),
		Workers:         r.Workers,
		Force:           r.Force,
		StaleAfter:      r.StaleAfter.String(),
		MaxOccurrences:  r.MaxOccurrences,
		LogLevel:        r.LogLevel,
		LogFormat:       r.LogFormat,
		Timeout:         r.Timeout.String(),
		UserAgent:       r.UserAgent,
		Database:        r.Database,
		Listen:          r.Listen,
	}
}
