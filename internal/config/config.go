// Package config implements TOML configuration loading, validation, and
// override resolution for calsync.
//
// A config file holds one [feeds.<name>] table per Google account plus
// global sections. Resolution layers defaults, the file, environment
// variables, and CLI flags, in that order.
package config

// Config is the top-level configuration parsed from a TOML file.
type Config struct {
	Feeds   map[string]Feed `toml:"feeds"`
	Sync    SyncConfig      `toml:"sync"`
	Logging LoggingConfig   `toml:"logging"`
	Network NetworkConfig   `toml:"network"`
	Storage StorageConfig   `toml:"storage"`
	Server  ServerConfig    `toml:"server"`
}

// Feed is one [feeds.<name>] section: a Google account whose calendars are
// mirrored locally.
type Feed struct {
	Account         string `toml:"account"`
	TokenFile       string `toml:"token_file"`
	CalendarFeedURL string `toml:"calendar_feed_url"`
	ClientID        string `toml:"client_id"`
	ClientSecret    string `toml:"client_secret"`
}

// SyncConfig controls the sync pass and the watch loop.
type SyncConfig struct {
	PollInterval   string `toml:"poll_interval"`
	Workers        int    `toml:"workers"`
	Force          bool   `toml:"force"`
	StaleAfter     string `toml:"stale_after"`
	MaxOccurrences int    `toml:"max_occurrences"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls the HTTP client talking to the calendar service.
type NetworkConfig struct {
	Timeout   string `toml:"timeout"`
	UserAgent string `toml:"user_agent"`
}

// StorageConfig locates the local cache database.
type StorageConfig struct {
	Database string `toml:"database"`
}

// ServerConfig controls the read-only HTTP query server.
type ServerConfig struct {
	Listen string `toml:"listen"`
}
