package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"slices"
	"time"
)

// Validation range constants.
const (
	minWorkers        = 1
	maxWorkers        = 32
	minOccurrences    = 1
	maxOccurrences    = 100_000
	minPollInterval   = time.Minute
	minTimeout        = time.Second
	minStaleAfter     = time.Hour
	feedNameMaxLength = 64
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"auto", "text", "json"}
	feedNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

// Validate checks all configuration values and returns every error found,
// joined.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateFeeds(cfg.Feeds)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateServer(&cfg.Server)...)

	return errors.Join(errs...)
}

func validateFeeds(feeds map[string]Feed) []error {
	var errs []error

	names := make([]string, 0, len(feeds))
	for name := range feeds {
		names = append(names, name)
	}

	slices.Sort(names)

	for _, name := range names {
		if err := validateFeedName(name); err != nil {
			errs = append(errs, err)
		}

		f := feeds[name]

		if f.CalendarFeedURL != "" {
			if err := validateHTTPURL(f.CalendarFeedURL); err != nil {
				errs = append(errs, fmt.Errorf("feeds.%s.calendar_feed_url: %w", name, err))
			}
		}

		if f.ClientSecret != "" && f.ClientID == "" {
			errs = append(errs, fmt.Errorf("feeds.%s: client_secret set without client_id", name))
		}
	}

	return errs
}

// validateFeedName rejects names that cannot serve as a token file name.
func validateFeedName(name string) error {
	if len(name) > feedNameMaxLength || !feedNamePattern.MatchString(name) {
		return fmt.Errorf("feed name %q: use letters, digits, '.', '_' or '-' (max %d chars)",
			name, feedNameMaxLength)
	}

	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an http(s) URL", raw)
	}

	return nil
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if err := validateDurationMin("sync.poll_interval", s.PollInterval, minPollInterval); err != nil {
		errs = append(errs, err)
	}

	if err := validateDurationMin("sync.stale_after", s.StaleAfter, minStaleAfter); err != nil {
		errs = append(errs, err)
	}

	if s.Workers < minWorkers || s.Workers > maxWorkers {
		errs = append(errs, fmt.Errorf("sync.workers: must be between %d and %d, got %d",
			minWorkers, maxWorkers, s.Workers))
	}

	if s.MaxOccurrences < minOccurrences || s.MaxOccurrences > maxOccurrences {
		errs = append(errs, fmt.Errorf("sync.max_occurrences: must be between %d and %d, got %d",
			minOccurrences, maxOccurrences, s.MaxOccurrences))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !slices.Contains(validLogLevels, l.LogLevel) {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of %v, got %q", validLogLevels, l.LogLevel))
	}

	if !slices.Contains(validLogFormats, l.LogFormat) {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of %v, got %q", validLogFormats, l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	if err := validateDurationMin("network.timeout", n.Timeout, minTimeout); err != nil {
		return []error{err}
	}

	return nil
}

func validateServer(s *ServerConfig) []error {
	if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		return []error{fmt.Errorf("server.listen: %w", err)}
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be at least %s, got %s", field, minimum, d)
	}

	return nil
}
