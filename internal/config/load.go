package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Feed selection errors.
var (
	ErrFeedRequired = errors.New("config: several feeds configured, choose one with --feed")
	ErrUnknownFeed  = errors.New("config: unknown feed")
)

// Load reads, parses, and validates a TOML config file. Unknown keys are
// errors with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path if it exists and returns the defaults otherwise,
// so a first run works without a config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// CLIOverrides holds values from command-line flags. Pointer fields are nil
// when the flag was not given.
type CLIOverrides struct {
	ConfigPath string
	Feed       string
	Database   string
	Listen     string
	Workers    *int
	Force      *bool
	// NewFeed lets Feed name a feed absent from the file, as login does.
	NewFeed bool
}

// Resolved is the effective configuration for one feed after all layers
// have been applied.
type Resolved struct {
	ConfigPath string

	FeedName        string
	Account         string
	TokenFile       string
	CalendarFeedURL string
	ClientID        string
	ClientSecret    string

	PollInterval   time.Duration
	Workers        int
	Force          bool
	StaleAfter     time.Duration
	MaxOccurrences int

	LogLevel  string
	LogFormat string

	Timeout   time.Duration
	UserAgent string

	Database string
	Listen   string

	// FeedNames lists every configured feed, sorted.
	FeedNames []string
}

// Resolve applies defaults -> config file -> environment -> CLI flags and
// selects the active feed.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := firstNonEmpty(cli.ConfigPath, env.ConfigPath, DefaultConfigPath())

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	name, feed, err := selectFeed(cfg.Feeds, firstNonEmpty(cli.Feed, env.Feed), cli.NewFeed)
	if err != nil {
		return nil, err
	}

	r := &Resolved{
		ConfigPath:      cfgPath,
		FeedName:        name,
		Account:         feed.Account,
		TokenFile:       firstNonEmpty(feed.TokenFile, DefaultTokenPath(name)),
		CalendarFeedURL: feed.CalendarFeedURL,
		ClientID:        feed.ClientID,
		ClientSecret:    feed.ClientSecret,
		Workers:         cfg.Sync.Workers,
		Force:           cfg.Sync.Force,
		MaxOccurrences:  cfg.Sync.MaxOccurrences,
		LogLevel:        cfg.Logging.LogLevel,
		LogFormat:       cfg.Logging.LogFormat,
		UserAgent:       cfg.Network.UserAgent,
		Database:        firstNonEmpty(cli.Database, env.Database, cfg.Storage.Database, DefaultDatabasePath()),
		Listen:          firstNonEmpty(cli.Listen, cfg.Server.Listen),
		FeedNames:       feedNames(cfg.Feeds),
	}

	// Durations were checked by Validate; defaults are always parseable.
	r.PollInterval, _ = time.ParseDuration(cfg.Sync.PollInterval)
	r.StaleAfter, _ = time.ParseDuration(cfg.Sync.StaleAfter)
	r.Timeout, _ = time.ParseDuration(cfg.Network.Timeout)

	if cli.Workers != nil {
		if *cli.Workers < minWorkers || *cli.Workers > maxWorkers {
			return nil, fmt.Errorf("--workers: must be between %d and %d, got %d",
				minWorkers, maxWorkers, *cli.Workers)
		}

		r.Workers = *cli.Workers
	}

	if cli.Force != nil {
		r.Force = *cli.Force
	}

	return r, nil
}

// selectFeed picks the named feed, the only configured feed, or a synthetic
// empty feed when none is configured (or allowNew is set).
func selectFeed(feeds map[string]Feed, name string, allowNew bool) (string, Feed, error) {
	if _, ok := feeds[name]; len(feeds) == 0 || (allowNew && name != "" && !ok) {
		if name == "" {
			name = defaultFeedName
		}

		if err := validateFeedName(name); err != nil {
			return "", Feed{}, err
		}

		return name, Feed{}, nil
	}

	if name == "" {
		if len(feeds) > 1 {
			return "", Feed{}, fmt.Errorf("%w (have %s)", ErrFeedRequired, strings.Join(feedNames(feeds), ", "))
		}

		for only, f := range feeds {
			return only, f, nil
		}
	}

	f, ok := feeds[name]
	if !ok {
		if suggestion := closestMatch(name, feedNames(feeds)); suggestion != "" {
			return "", Feed{}, fmt.Errorf("%w %q: did you mean %q?", ErrUnknownFeed, name, suggestion)
		}

		return "", Feed{}, fmt.Errorf("%w %q", ErrUnknownFeed, name)
	}

	return name, f, nil
}

// FeedNames returns the configured feed names in sorted order.
func (c *Config) FeedNames() []string {
	return feedNames(c.Feeds)
}

func feedNames(feeds map[string]Feed) []string {
	names := make([]string, 0, len(feeds))
	for name := range feeds {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
