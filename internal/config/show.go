package config

import (
	"fmt"
	"io"
)

const redacted = "(set)"

// RenderEffective writes the resolved configuration to w in TOML-like form.
// The client secret is never printed.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration for feed %q\n", r.FeedName)
	ew.printf("# config file: %s\n\n", r.ConfigPath)

	ew.printf("[feeds.%s]\n", r.FeedName)
	ew.printf("account           = %q\n", r.Account)
	ew.printf("token_file        = %q\n", r.TokenFile)

	if r.CalendarFeedURL != "" {
		ew.printf("calendar_feed_url = %q\n", r.CalendarFeedURL)
	}

	if r.ClientID != "" {
		ew.printf("client_id         = %q\n", r.ClientID)
	}

	if r.ClientSecret != "" {
		ew.printf("client_secret     = %q\n", redacted)
	}

	ew.printf("\n[sync]\n")
	ew.printf("poll_interval   = %q\n", r.PollInterval)
	ew.printf("workers         = %d\n", r.Workers)
	ew.printf("force           = %t\n", r.Force)
	ew.printf("stale_after     = %q\n", r.StaleAfter)
	ew.printf("max_occurrences = %d\n", r.MaxOccurrences)

	ew.printf("\n[logging]\n")
	ew.printf("log_level  = %q\n", r.LogLevel)
	ew.printf("log_format = %q\n", r.LogFormat)

	ew.printf("\n[network]\n")
	ew.printf("timeout    = %q\n", r.Timeout)
	ew.printf("user_agent = %q\n", r.UserAgent)

	ew.printf("\n[storage]\n")
	ew.printf("database = %q\n", r.Database)

	ew.printf("\n[server]\n")
	ew.printf("listen = %q\n", r.Listen)

	return ew.err
}

// errWriter keeps the first write error and drops later writes.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
