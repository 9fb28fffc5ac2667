// Package sync runs reconciliation passes for a feed: calendars first, then
// the events of every calendar that changed or still owes an event pass,
// bounded by a worker limit. It
// also pushes ledger conflicts back to the remote on request and reports
// records the remote no longer refreshes.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	gosync "sync"
	"time"

	"github.com/samber/mo"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/calsync/internal/calendar"
	"github.com/tonimelisma/calsync/internal/reconcile"
)

const defaultWorkers = 4

// ErrRecordMissing is reported when a ledger entry points at a record that
// is no longer in the store.
var ErrRecordMissing = errors.New("sync: conflicted record not found")

// Options configures a Coordinator.
type Options struct {
	// Workers bounds the number of concurrent calendar event passes.
	Workers int
}

// SyncOptions tunes a single pass.
type SyncOptions struct {
	// Force skips the fast path and overwrites records with equal stamps.
	Force bool
}

// Coordinator drives sync passes against a Repository.
type Coordinator struct {
	repo    Repository
	workers int
	locks   feedLocks
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewCoordinator returns a Coordinator. Workers below one fall back to the
// default.
func NewCoordinator(repo Repository, logger *slog.Logger, opts Options) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	workers := opts.Workers
	if workers < 1 {
		workers = defaultWorkers
	}

	return &Coordinator{
		repo:    repo,
		workers: workers,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Sync runs one pass for feed. The returned error is non-nil only for
// feed-level failures: another pass holds the feed, the calendar list could
// not be fetched, or the advanced feed could not be saved. Everything else
// lands in Summary.Errors and the pass continues. feed.SyncedAt advances to
// the snapshot stamp only when no blocking error was reported.
func (c *Coordinator) Sync(ctx context.Context, feed *calendar.Feed, remote Remote, opts SyncOptions) (*Summary, error) {
	unlock, ok := c.locks.tryLock(feed.ID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPassInProgress, feed.Name)
	}
	defer unlock()

	started := c.nowFunc()
	sum := &Summary{Feed: feed.Name}

	c.logger.Info("sync pass starting",
		slog.String("feed", feed.Name),
		slog.Bool("force", opts.Force),
	)

	stamp, records, err := remote.FetchCalendars(ctx, feed)
	if err != nil {
		return sum, fmt.Errorf("%w: fetching calendars of feed %s: %w", ErrTransport, feed.Name, err)
	}

	sum.SyncedAt = stamp

	targets := c.syncCalendars(ctx, feed, stamp, records, opts, sum)
	c.syncEvents(ctx, feed, remote, targets, opts, sum)

	if sum.Blocked() {
		c.logger.Warn("feed stamp held back",
			slog.String("feed", feed.Name),
			slog.Int("errors", len(sum.Errors)),
		)
	} else if !stamp.IsZero() && feed.Advance(stamp) {
		if err := c.repo.SaveFeed(ctx, feed); err != nil {
			return sum, fmt.Errorf("sync: saving feed %s: %w", feed.Name, err)
		}

		sum.Advanced = true
	}

	sum.Duration = c.nowFunc().Sub(started)

	c.logger.Info("sync pass complete",
		slog.String("feed", feed.Name),
		slog.Int("calendars_changed", sum.Calendars.Created+sum.Calendars.Updated),
		slog.Int("events_created", sum.Events.Created),
		slog.Int("events_updated", sum.Events.Updated),
		slog.Int("conflicts", sum.Calendars.Conflicted+sum.Events.Conflicted),
		slog.Int("errors", len(sum.Errors)),
		slog.Bool("fast_path", sum.FastPath),
		slog.Bool("advanced", sum.Advanced),
		slog.Duration("duration", sum.Duration),
	)

	return sum, nil
}

// syncCalendars reconciles the calendar list and returns the calendars whose
// events need a pass: created and updated ones, plus any whose previous
// event pass failed or never ran. When the container stamp matches the
// feed's, the list is not reconciled and every known calendar gets an event
// pass. Every calendar in the snapshot is marked seen either way.
func (c *Coordinator) syncCalendars(
	ctx context.Context, feed *calendar.Feed, stamp time.Time,
	records []calendar.ParsedCalendar, opts SyncOptions, sum *Summary,
) []*calendar.Calendar {
	defer func() {
		if err := c.repo.MarkSeen(ctx, calendar.EntityCalendar, feed.ID, calendarUIDs(records), c.nowFunc()); err != nil {
			sum.Errors = append(sum.Errors, fmt.Errorf("sync: feed %s: %w", feed.Name, err))
		}
	}()

	if prev, ok := feed.Stamp().Get(); ok && !opts.Force && !stamp.IsZero() && prev.Equal(stamp) {
		c.logger.Debug("calendar list unchanged, skipping calendar reconciliation",
			slog.String("feed", feed.Name),
			slog.Time("stamp", stamp),
		)

		sum.FastPath = true

		return feed.Calendars()
	}

	rec := reconcile.New("calendar", calendarCollection{repo: c.repo, feed: feed},
		func(p calendar.ParsedCalendar, at time.Time) *calendar.Calendar {
			return calendar.NewCalendar(feed.ID, p, at)
		}, c.logger)

	res, err := rec.Reconcile(ctx, records, reconcile.Options{Force: opts.Force})
	sum.Calendars = res.Counts()
	sum.Errors = append(sum.Errors, res.Errors...)

	if err != nil {
		sum.Errors = append(sum.Errors, err)
	}

	targets := res.Changed()
	queued := make(map[string]bool, len(targets))

	for _, cal := range targets {
		queued[cal.ID] = true
	}

	for _, cal := range res.Unchanged {
		// A uid repeated in the snapshot shows up as created and unchanged.
		if cal.EventsSyncedAt.IsAbsent() && !queued[cal.ID] {
			queued[cal.ID] = true
			targets = append(targets, cal)
		}
	}

	for _, cf := range res.Conflicted {
		if err := c.recordConflict(ctx, feed, calendar.EntityCalendar, cf.Local.UID, cf.Local.UID,
			cf.Local.UpdatedAt(), cf.RemoteUpdated); err != nil {
			sum.Errors = append(sum.Errors, err)
		}

		if cf.Local.EventsSyncedAt.IsAbsent() && !queued[cf.Local.ID] {
			queued[cf.Local.ID] = true
			targets = append(targets, cf.Local)
		}
	}

	// Skipped calendars keep their events' seen stamps current.
	for _, cal := range append(slices.Clone(res.Unchanged), conflictedLocals(res.Conflicted)...) {
		if queued[cal.ID] {
			continue
		}

		if err := c.repo.RefreshSeenEvents(ctx, cal.ID, c.nowFunc()); err != nil {
			sum.Errors = append(sum.Errors, &CalendarError{UID: cal.UID, Err: err})
		}
	}

	if owed := len(targets) - len(res.Created) - len(res.Updated); owed > 0 {
		c.logger.Info("retrying owed event passes",
			slog.String("feed", feed.Name),
			slog.Int("calendars", owed),
		)
	}

	return targets
}

// syncEvents runs the event pass of each target calendar, at most
// c.workers at a time. A failure in one calendar never cancels its
// siblings.
func (c *Coordinator) syncEvents(
	ctx context.Context, feed *calendar.Feed, remote Remote,
	targets []*calendar.Calendar, opts SyncOptions, sum *Summary,
) {
	var (
		mu gosync.Mutex
		g  errgroup.Group
	)

	g.SetLimit(c.workers)

	for _, cal := range targets {
		g.Go(func() error {
			passAt := c.nowFunc()

			report := calendarRunner{uid: cal.UID}.run(ctx, func(ctx context.Context) (reconcile.Counts, []error) {
				return c.syncCalendarEvents(ctx, feed, remote, cal, opts, passAt)
			})

			if err := c.saveEventPass(ctx, cal, report, passAt); err != nil {
				report.Errors = append(report.Errors, &CalendarError{UID: cal.UID, Err: err})
			}

			mu.Lock()
			sum.Events = sum.Events.Add(report.Counts)
			sum.Errors = append(sum.Errors, report.Errors...)
			mu.Unlock()

			return nil
		})
	}

	_ = g.Wait()
}

// saveEventPass stamps a calendar whose event pass had no blocking error
// and clears the stamp of one that failed, so that the next pass retries
// it even when the calendar itself is unchanged. The write outlives a
// cancelled pass.
func (c *Coordinator) saveEventPass(ctx context.Context, cal *calendar.Calendar, report *calendarReport, passAt time.Time) error {
	failed := slices.ContainsFunc(report.Errors, blocking)

	switch {
	case failed && cal.EventsSyncedAt.IsAbsent():
		return nil
	case failed:
		cal.EventsSyncedAt = mo.None[time.Time]()
	default:
		cal.EventsSyncedAt = mo.Some(passAt)
	}

	if err := c.repo.SaveEventPass(context.WithoutCancel(ctx), cal); err != nil {
		return fmt.Errorf("sync: recording event pass: %w", err)
	}

	return nil
}

// syncCalendarEvents is one calendar's event pass. Templates referenced by
// exceptions but absent locally are fetched and reconciled afterwards.
// Every event in the snapshot is marked seen at passAt.
func (c *Coordinator) syncCalendarEvents(
	ctx context.Context, feed *calendar.Feed, remote Remote, cal *calendar.Calendar, opts SyncOptions,
	passAt time.Time,
) (reconcile.Counts, []error) {
	var errs []error

	fail := func(err error) {
		errs = append(errs, &CalendarError{UID: cal.UID, Err: err})
	}

	if err := ctx.Err(); err != nil {
		fail(err)
		return reconcile.Counts{}, errs
	}

	records, err := remote.FetchEvents(ctx, cal)
	if err != nil {
		fail(fmt.Errorf("%w: fetching events: %w", ErrTransport, err))
		return reconcile.Counts{}, errs
	}

	coll := eventCollection{repo: c.repo, cal: cal}
	rec := reconcile.New("event", coll, func(p calendar.ParsedEvent, at time.Time) *calendar.Event {
		return calendar.NewEvent(cal.ID, p, at)
	}, c.logger.With(slog.String("calendar", cal.UID)))

	counts := c.reconcileEvents(ctx, feed, cal, rec, records, opts, fail)

	templates, fetchErrs := c.fetchMissingTemplates(ctx, remote, coll, records)
	for _, err := range fetchErrs {
		fail(err)
	}

	if len(templates) > 0 {
		counts = counts.Add(c.reconcileEvents(ctx, feed, cal, rec, templates, opts, fail))
	}

	seen := append(eventUIDs(records), eventUIDs(templates)...)
	if err := c.repo.MarkSeen(ctx, calendar.EntityEvent, cal.ID, seen, passAt); err != nil {
		fail(err)
	}

	return counts, errs
}

func conflictedLocals(cfs []reconcile.Conflict[*calendar.Calendar]) []*calendar.Calendar {
	out := make([]*calendar.Calendar, 0, len(cfs))

	for _, cf := range cfs {
		out = append(out, cf.Local)
	}

	return out
}

func calendarUIDs(records []calendar.ParsedCalendar) []string {
	out := make([]string, 0, len(records))

	for _, p := range records {
		if p.UID != "" {
			out = append(out, p.UID)
		}
	}

	return out
}

func eventUIDs(records []calendar.ParsedEvent) []string {
	out := make([]string, 0, len(records))

	for _, p := range records {
		if p.UID != "" {
			out = append(out, p.UID)
		}
	}

	return out
}

func (c *Coordinator) reconcileEvents(
	ctx context.Context, feed *calendar.Feed, cal *calendar.Calendar,
	rec *reconcile.Reconciler[*calendar.Event, calendar.ParsedEvent],
	records []calendar.ParsedEvent, opts SyncOptions, fail func(error),
) reconcile.Counts {
	res, err := rec.Reconcile(ctx, records, reconcile.Options{Force: opts.Force})

	for _, e := range res.Errors {
		fail(e)
	}

	if err != nil {
		fail(err)
	}

	for _, cf := range res.Conflicted {
		if err := c.recordConflict(ctx, feed, calendar.EntityEvent, cf.Local.UID, cal.UID,
			cf.Local.UpdatedAt(), cf.RemoteUpdated); err != nil {
			fail(err)
		}
	}

	return res.Counts()
}

// fetchMissingTemplates follows the original-event link of every exception
// whose template is not stored. Each template is fetched once. Links without
// an href cannot be followed and are left to query-time resolution.
func (c *Coordinator) fetchMissingTemplates(
	ctx context.Context, remote Remote, coll eventCollection, records []calendar.ParsedEvent,
) ([]calendar.ParsedEvent, []error) {
	var (
		out  []calendar.ParsedEvent
		errs []error
		seen = make(map[string]bool)
	)

	for _, p := range records {
		ref, ok := p.Original.Get()
		if !ok || ref.UID == "" || seen[ref.UID] {
			continue
		}

		seen[ref.UID] = true

		_, found, err := coll.FindByUID(ctx, ref.UID)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if found {
			continue
		}

		if ref.Href.IsAbsent() {
			c.logger.Debug("template missing and not linked",
				slog.String("calendar", coll.cal.UID),
				slog.String("template", ref.UID),
			)

			continue
		}

		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		tmpl, err := remote.FetchOriginalEvent(ctx, ref)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: fetching template %q: %w", ErrTransport, ref.UID, err))
			continue
		}

		c.logger.Debug("fetched missing template",
			slog.String("calendar", coll.cal.UID),
			slog.String("template", tmpl.UID),
		)

		out = append(out, tmpl)
	}

	return out, errs
}

func (c *Coordinator) recordConflict(
	ctx context.Context, feed *calendar.Feed, kind calendar.EntityKind,
	uid, calendarUID string, local, remote time.Time,
) error {
	cf := &calendar.Conflict{
		FeedID:        feed.ID,
		Kind:          kind,
		UID:           uid,
		CalendarUID:   calendarUID,
		LocalUpdated:  local,
		RemoteUpdated: remote,
		DetectedAt:    c.nowFunc(),
		Resolution:    calendar.ResolutionUnresolved,
	}

	if err := c.repo.RecordConflict(ctx, cf); err != nil {
		return fmt.Errorf("sync: ledger: %w", err)
	}

	return nil
}
