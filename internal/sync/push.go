package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/calsync/internal/calendar"
)

// PushConflicts writes the local side of every unresolved ledger entry back
// to the remote and marks each entry pushed or failed. It holds the feed's
// pass lock, so it never overlaps a Sync of the same feed.
func (c *Coordinator) PushConflicts(ctx context.Context, feed *calendar.Feed, pusher Pusher) (*PushSummary, error) {
	unlock, ok := c.locks.tryLock(feed.ID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPassInProgress, feed.Name)
	}
	defer unlock()

	open, err := c.repo.ListConflicts(ctx, feed.ID, true)
	if err != nil {
		return nil, fmt.Errorf("sync: listing conflicts of feed %s: %w", feed.Name, err)
	}

	sum := &PushSummary{}

	for i := range open {
		cf := &open[i]

		if err := ctx.Err(); err != nil {
			sum.Errors = append(sum.Errors, err)
			break
		}

		res := calendar.ResolutionPushed

		if err := c.pushOne(ctx, feed, cf, pusher); err != nil {
			c.logger.Warn("push failed",
				slog.String("kind", string(cf.Kind)),
				slog.String("uid", cf.UID),
				slog.String("error", err.Error()),
			)

			res = calendar.ResolutionFailed
			sum.Failed++
			sum.Errors = append(sum.Errors, err)
		} else {
			sum.Pushed++
		}

		if err := c.repo.ResolveConflict(ctx, cf.ID, res, c.nowFunc()); err != nil {
			sum.Errors = append(sum.Errors, fmt.Errorf("sync: resolving conflict %s: %w", cf.ID, err))
		}
	}

	c.logger.Info("push complete",
		slog.String("feed", feed.Name),
		slog.Int("pushed", sum.Pushed),
		slog.Int("failed", sum.Failed),
	)

	return sum, nil
}

func (c *Coordinator) pushOne(ctx context.Context, feed *calendar.Feed, cf *calendar.Conflict, pusher Pusher) error {
	cal, found, err := calendarCollection{repo: c.repo, feed: feed}.FindByUID(ctx, cf.CalendarUID)
	if err != nil {
		return err
	}

	if !found {
		return fmt.Errorf("%w: calendar %q", ErrRecordMissing, cf.CalendarUID)
	}

	if cf.Kind == calendar.EntityCalendar {
		if err := pusher.PushCalendar(ctx, cal); err != nil {
			return fmt.Errorf("%w: pushing calendar %q: %w", ErrTransport, cal.UID, err)
		}

		return nil
	}

	ev, found, err := eventCollection{repo: c.repo, cal: cal}.FindByUID(ctx, cf.UID)
	if err != nil {
		return err
	}

	if !found {
		return fmt.Errorf("%w: event %q in calendar %q", ErrRecordMissing, cf.UID, cal.UID)
	}

	if err := pusher.PushEvent(ctx, cal, ev); err != nil {
		return fmt.Errorf("%w: pushing event %q: %w", ErrTransport, ev.UID, err)
	}

	return nil
}
