package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/tonimelisma/calsync/internal/calendar"
	"github.com/tonimelisma/calsync/internal/gdata"
	"github.com/tonimelisma/calsync/internal/store"
	"github.com/tonimelisma/calsync/internal/sync"
)

// feedSession bundles what a command needs to work on one feed: the open
// cache, the feed graph loaded from it, and the coordinator.
type feedSession struct {
	store *store.Store
	feed  *calendar.Feed
	coord *sync.Coordinator
}

func (s *feedSession) Close() error {
	return s.store.Close()
}

// openFeedSession opens the cache and loads (or creates) the active feed.
func openFeedSession(ctx context.Context, cc *CLIContext) (*feedSession, error) {
	st, err := store.Open(ctx, cc.Cfg.Database, cc.Logger)
	if err != nil {
		return nil, err
	}

	feed, err := st.EnsureFeed(ctx, cc.Cfg.FeedName, cc.Cfg.Account)
	if err != nil {
		st.Close()
		return nil, err
	}

	coord := sync.NewCoordinator(st, cc.Logger, sync.Options{Workers: cc.Cfg.Workers})

	return &feedSession{store: st, feed: feed, coord: coord}, nil
}

// newRemote builds the authenticated calendar client for the active feed.
func newRemote(ctx context.Context, cc *CLIContext) (*gdata.Client, error) {
	ts, err := gdata.TokenSourceFromPath(ctx, cc.Cfg.TokenFile, credentials(cc), cc.Logger)
	if errors.Is(err, gdata.ErrNotLoggedIn) {
		return nil, fmt.Errorf("feed %q is not logged in (run 'calsync login --feed %s'): %w",
			cc.Cfg.FeedName, cc.Cfg.FeedName, err)
	}

	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cc.Cfg.Timeout}

	return gdata.NewClient(cc.Cfg.CalendarFeedURL, httpClient, ts, cc.Logger, cc.Cfg.UserAgent), nil
}

func credentials(cc *CLIContext) gdata.Credentials {
	return gdata.Credentials{ClientID: cc.Cfg.ClientID, ClientSecret: cc.Cfg.ClientSecret}
}

func newExpander(cc *CLIContext) *calendar.Expander {
	return calendar.NewExpander(calendar.ExpanderOptions{MaxOccurrences: cc.Cfg.MaxOccurrences}, cc.Logger)
}

// pidFilePath places the watch lock next to the cache database.
func pidFilePath(cc *CLIContext) string {
	return pidFilePathFor(cc.Cfg.Database, cc.Cfg.FeedName)
}

func pidFilePathFor(database, feed string) string {
	return filepath.Join(filepath.Dir(database), "watch-"+feed+".pid")
}
