// Package reconcile matches local records against a remote snapshot by uid
// and decides, per record, whether to create, overwrite, skip, or flag it
// for a push back to the remote. It is shared by calendar and event
// reconciliation and never deletes: local records absent from the snapshot
// are left alone.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/calsync/internal/calendar"
)

// Outcome is the decision taken for one remote record.
type Outcome int

// Reconciliation outcomes.
const (
	OutcomeCreated Outcome = iota
	OutcomeUpdated
	OutcomeConflicted
	OutcomeUnchanged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeConflicted:
		return "conflicted"
	default:
		return "unchanged"
	}
}

// Remote is a record decoded from the remote snapshot.
type Remote interface {
	Identity() string
	UpdatedAt() time.Time
	Validate() error
}

// Local is a stored record that can absorb a remote one. Overwrite returns
// a func restoring the previous fields, used when the write fails.
type Local[P Remote] interface {
	Identity() string
	UpdatedAt() time.Time
	Overwrite(p P, syncedAt time.Time) (restore func())
}

// Store is the collection a reconciliation runs against.
type Store[T any] interface {
	FindByUID(ctx context.Context, uid string) (T, bool, error)
	Add(ctx context.Context, rec T) error
	Save(ctx context.Context, rec T) error
}

// Factory builds a new local record from a remote one.
type Factory[T any, P Remote] func(p P, syncedAt time.Time) T

// Options tunes a single Reconcile call.
type Options struct {
	// Force overwrites matched records even when their stamps are equal.
	Force bool
}

// Conflict pairs a local record found newer than the remote with the
// remote's stamp.
type Conflict[T any] struct {
	Local         T
	RemoteUpdated time.Time
}

// Result collects the outcome of one batch.
type Result[T any] struct {
	Created    []T
	Updated    []T
	Conflicted []Conflict[T]
	Unchanged  []T
	Errors     []error
}

// Counts is the per-outcome tally of a batch.
type Counts struct {
	Created    int
	Updated    int
	Conflicted int
	Unchanged  int
	Errors     int
}

// Add returns the element-wise sum of c and o.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Created:    c.Created + o.Created,
		Updated:    c.Updated + o.Updated,
		Conflicted: c.Conflicted + o.Conflicted,
		Unchanged:  c.Unchanged + o.Unchanged,
		Errors:     c.Errors + o.Errors,
	}
}

// Counts tallies the result.
func (r *Result[T]) Counts() Counts {
	return Counts{
		Created:    len(r.Created),
		Updated:    len(r.Updated),
		Conflicted: len(r.Conflicted),
		Unchanged:  len(r.Unchanged),
		Errors:     len(r.Errors),
	}
}

// Changed returns created and updated records, in that order.
func (r *Result[T]) Changed() []T {
	out := make([]T, 0, len(r.Created)+len(r.Updated))
	out = append(out, r.Created...)

	return append(out, r.Updated...)
}

// Decide is the per-record policy for a matched pair. A strictly newer local
// record is always a conflict, even when forced; equal stamps are unchanged
// unless forced, whatever the etags say.
func Decide(local, remote time.Time, force bool) Outcome {
	switch {
	case local.After(remote):
		return OutcomeConflicted
	case local.Equal(remote) && !force:
		return OutcomeUnchanged
	default:
		return OutcomeUpdated
	}
}

// Reconciler applies Decide to every record of a remote snapshot.
type Reconciler[T Local[P], P Remote] struct {
	kind    string
	store   Store[T]
	create  Factory[T, P]
	logger  *slog.Logger
	nowFunc func() time.Time
}

// New returns a Reconciler for one entity kind ("calendar", "event"), used
// in log lines and errors.
func New[T Local[P], P Remote](kind string, store Store[T], create Factory[T, P], logger *slog.Logger) *Reconciler[T, P] {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler[T, P]{
		kind:    kind,
		store:   store,
		create:  create,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Reconcile processes every remote record in order. Malformed records and
// per-record store failures are collected in Result.Errors and the batch
// continues. An identity conflict from the store aborts the batch: the
// partial result is returned with the error. Cancellation stops the batch
// the same way.
func (r *Reconciler[T, P]) Reconcile(ctx context.Context, remote []P, opts Options) (*Result[T], error) {
	res := &Result[T]{}

	for _, p := range remote {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("reconcile %s: %w", r.kind, err)
		}

		if err := p.Validate(); err != nil {
			r.logger.Warn("skipping malformed record",
				slog.String("kind", r.kind),
				slog.String("uid", p.Identity()),
				slog.String("error", err.Error()),
			)

			res.Errors = append(res.Errors, err)

			continue
		}

		if err := r.reconcileOne(ctx, p, opts, res); err != nil {
			if errors.Is(err, calendar.ErrIdentityConflict) {
				return res, err
			}

			res.Errors = append(res.Errors, err)
		}
	}

	c := res.Counts()
	r.logger.Debug("reconciliation complete",
		slog.String("kind", r.kind),
		slog.Int("created", c.Created),
		slog.Int("updated", c.Updated),
		slog.Int("conflicted", c.Conflicted),
		slog.Int("unchanged", c.Unchanged),
		slog.Int("errors", c.Errors),
	)

	return res, nil
}

func (r *Reconciler[T, P]) reconcileOne(ctx context.Context, p P, opts Options, res *Result[T]) error {
	uid := p.Identity()

	local, found, err := r.store.FindByUID(ctx, uid)
	if err != nil {
		return fmt.Errorf("reconcile %s %q: lookup: %w", r.kind, uid, err)
	}

	if !found {
		rec := r.create(p, r.nowFunc())
		if err := r.store.Add(ctx, rec); err != nil {
			return fmt.Errorf("reconcile %s %q: add: %w", r.kind, uid, err)
		}

		r.logger.Debug("created", slog.String("kind", r.kind), slog.String("uid", uid))
		res.Created = append(res.Created, rec)

		return nil
	}

	outcome := Decide(local.UpdatedAt(), p.UpdatedAt(), opts.Force)

	switch outcome {
	case OutcomeUnchanged:
		res.Unchanged = append(res.Unchanged, local)

	case OutcomeConflicted:
		r.logger.Info("local record newer than remote",
			slog.String("kind", r.kind),
			slog.String("uid", uid),
			slog.Time("local_updated", local.UpdatedAt()),
			slog.Time("remote_updated", p.UpdatedAt()),
		)

		res.Conflicted = append(res.Conflicted, Conflict[T]{Local: local, RemoteUpdated: p.UpdatedAt()})

	default:
		restore := local.Overwrite(p, r.nowFunc())

		if err := r.store.Save(ctx, local); err != nil {
			restore()

			return fmt.Errorf("reconcile %s %q: save: %w", r.kind, uid, err)
		}

		r.logger.Debug("updated", slog.String("kind", r.kind), slog.String("uid", uid))
		res.Updated = append(res.Updated, local)
	}

	return nil
}
