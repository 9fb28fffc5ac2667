package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/tonimelisma/calsync/internal/calendar"
)

// Stale lists the feed's calendars and events absent from every remote
// snapshot in the last olderThan. Unchanged records count as present.
// Nothing is deleted: a record missing from the remote is only ever
// reported here.
func (c *Coordinator) Stale(ctx context.Context, feed *calendar.Feed, olderThan time.Duration) ([]calendar.StaleRecord, error) {
	before := c.nowFunc().Add(-olderThan)

	recs, err := c.repo.Stale(ctx, feed.ID, before)
	if err != nil {
		return nil, fmt.Errorf("sync: stale records of feed %s: %w", feed.Name, err)
	}

	return recs, nil
}
