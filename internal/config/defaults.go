package config

// Default values for configuration options.
const (
	defaultFeedName       = "default"
	defaultPollInterval   = "5m"
	defaultWorkers        = 4
	defaultStaleAfter     = "720h"
	defaultMaxOccurrences = 5000
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
	defaultTimeout        = "30s"
	defaultListen         = "127.0.0.1:8765"
)

// DefaultConfig returns a Config populated with all default values. The
// database path is left empty and resolved against the data directory.
func DefaultConfig() *Config {
	return &Config{
		Feeds: make(map[string]Feed),
		Sync: SyncConfig{
			PollInterval:   defaultPollInterval,
			Workers:        defaultWorkers,
			StaleAfter:     defaultStaleAfter,
			MaxOccurrences: defaultMaxOccurrences,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			Timeout: defaultTimeout,
		},
		Server: ServerConfig{
			Listen: defaultListen,
		},
	}
}
