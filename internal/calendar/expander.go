package calendar

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tonimelisma/calsync/internal/recurrence"
)

// TemplateLookup resolves a template by uid.
type TemplateLookup func(uid string) (*Event, bool)

// ExpanderOptions configures an Expander.
type ExpanderOptions struct {
	// MaxOccurrences caps the periods produced per rule and query. Zero
	// uses recurrence.DefaultMaxOccurrences.
	MaxOccurrences int
	// Location interprets floating and date-only rule values. Nil is UTC.
	Location *time.Location
	// Lookup resolves the template of an exception.
	Lookup TemplateLookup
}

// Expander materializes recurring events into occurrences. It never mutates
// the records it reads and is safe for concurrent use; parsed rules are
// cached and shared by every view returned from ForCalendar.
type Expander struct {
	cache  *ruleCache
	opts   ExpanderOptions
	logger *slog.Logger
}

// NewExpander returns an Expander with an empty rule cache.
func NewExpander(opts ExpanderOptions, logger *slog.Logger) *Expander {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.MaxOccurrences <= 0 {
		opts.MaxOccurrences = recurrence.DefaultMaxOccurrences
	}

	if opts.Location == nil {
		opts.Location = time.UTC
	}

	return &Expander{
		cache:  &ruleCache{rules: make(map[ruleKey]*recurrence.Rule)},
		opts:   opts,
		logger: logger,
	}
}

// ForCalendar returns a view of x that resolves templates among c's events.
// The view shares x's rule cache.
func (x *Expander) ForCalendar(c *Calendar) *Expander {
	cp := *x
	cp.opts.Lookup = c.Event

	return &cp
}

// Expand returns the occurrences of ev overlapping r, ordered by start.
//
// Single events yield nothing. A template expands its own rule. An exception
// yields only its own overridden instance, once its series rule resolves
// through the template lookup or through a rule copied onto the exception
// itself; cancelled exceptions yield nothing. The resolved rule is not
// expanded for an exception: the rest of the series comes from the
// template's own expansion, and EventsInRange drops the instance the
// exception replaces. A non-single event with no resolvable rule fails with
// ErrUnresolvedRecurrence.
func (x *Expander) Expand(ev *Event, r Range) ([]Occurrence, error) {
	switch ev.Kind() {
	case KindTemplate:
		return x.expandTemplate(ev, r)
	case KindException:
		return x.expandException(ev, r)
	default:
		return nil, nil
	}
}

func (x *Expander) expandTemplate(ev *Event, r Range) ([]Occurrence, error) {
	rule, err := x.rule(ev)
	if err != nil {
		return nil, err
	}

	allDay := rule.DateOnly() || ev.AllDay()
	periods := rule.Overlapping(r.From, r.To)
	out := make([]Occurrence, 0, len(periods))

	for _, p := range periods {
		start := Time{Time: p.Start, DateOnly: rule.DateOnly()}
		end := Time{Time: p.End, DateOnly: rule.DateOnly()}
		out = append(out, newOccurrence(ev, ev.UID, start, end, allDay))
	}

	sortOccurrences(out)

	return out, nil
}

func (x *Expander) expandException(ev *Event, r Range) ([]Occurrence, error) {
	ref := ev.Original.MustGet()

	if _, err := x.resolveSeries(ev, ref); err != nil {
		return nil, err
	}

	if ev.Status == StatusCancelled {
		return nil, nil
	}

	end := ev.End
	if end.IsZero() {
		end = ev.Start
	}

	if !r.Overlaps(ev.Start.Time, end.Time) {
		return nil, nil
	}

	occ := newOccurrence(ev, ref.UID, ev.Start, end, ev.AllDay())
	occ.Exception = true

	return []Occurrence{occ}, nil
}

// resolveSeries finds the rule governing an exception: the template's when
// the lookup has it, else a rule copied onto the exception.
func (x *Expander) resolveSeries(ev *Event, ref OriginalRef) (*recurrence.Rule, error) {
	if x.opts.Lookup != nil {
		if tmpl, ok := x.opts.Lookup(ref.UID); ok && tmpl.Recurrence.IsPresent() {
			return x.rule(tmpl)
		}
	}

	if ev.Recurrence.IsPresent() {
		x.logger.Debug("template not available, using rule copied on exception",
			slog.String("uid", ev.UID),
			slog.String("template_uid", ref.UID),
		)

		return x.rule(ev)
	}

	return nil, fmt.Errorf("%w: exception %q: template %q not found and no rule on the exception",
		ErrUnresolvedRecurrence, ev.UID, ref.UID)
}

func (x *Expander) rule(ev *Event) (*recurrence.Rule, error) {
	text, ok := ev.Recurrence.Get()
	if !ok {
		return nil, fmt.Errorf("%w: event %q has no rule", ErrUnresolvedRecurrence, ev.UID)
	}

	key := ruleKey{uid: ev.UID, text: text}
	if rule, ok := x.cache.get(key); ok {
		return rule, nil
	}

	rule, err := recurrence.Parse(text, x.opts.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: event %q: %w", ErrUnresolvedRecurrence, ev.UID, err)
	}

	rule = rule.WithLimit(x.opts.MaxOccurrences)
	x.cache.put(key, rule)

	return rule, nil
}

type ruleKey struct {
	uid  string
	text string
}

// ruleCache memoizes parsed rules. Entries never expire: a changed rule
// text is a new key.
type ruleCache struct {
	mu    sync.RWMutex
	rules map[ruleKey]*recurrence.Rule
}

func (c *ruleCache) get(k ruleKey) (*recurrence.Rule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.rules[k]

	return r, ok
}

func (c *ruleCache) put(k ruleKey, r *recurrence.Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rules[k] = r
}

func (c *ruleCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.rules)
}
