package sync

import (
	"errors"
	"fmt"
	"time"

	"github.com/tonimelisma/calsync/internal/calendar"
	"github.com/tonimelisma/calsync/internal/reconcile"
)

// Sentinel errors for sync passes.
var (
	// ErrTransport wraps every failed call to the remote.
	ErrTransport = errors.New("sync: transport error")

	// ErrPassInProgress is returned when another pass holds the feed.
	ErrPassInProgress = errors.New("sync: pass already in progress for feed")
)

// CalendarError attributes a failure to one calendar's pass.
type CalendarError struct {
	UID string
	Err error
}

func (e *CalendarError) Error() string {
	return fmt.Sprintf("calendar %s: %v", e.UID, e.Err)
}

func (e *CalendarError) Unwrap() error {
	return e.Err
}

// Summary reports one sync pass. A pass never stops on the first failure:
// per-record and per-calendar errors are listed here.
type Summary struct {
	Feed      string
	Calendars reconcile.Counts
	Events    reconcile.Counts
	// FastPath is set when the container stamp was unchanged and
	// calendar-level reconciliation was skipped.
	FastPath bool
	// Advanced is set when feed.SyncedAt moved to the snapshot stamp.
	Advanced bool
	SyncedAt time.Time
	Errors   []error
	Duration time.Duration
}

// Err joins every reported error, nil when the pass was clean.
func (s *Summary) Err() error {
	return errors.Join(s.Errors...)
}

// Blocked reports whether any error must hold back the feed stamp.
// Malformed records are skipped and reported but do not block.
func (s *Summary) Blocked() bool {
	for _, err := range s.Errors {
		if blocking(err) {
			return true
		}
	}

	return false
}

func blocking(err error) bool {
	return !errors.Is(err, calendar.ErrMalformedInput)
}

// PushSummary reports one PushConflicts run.
type PushSummary struct {
	Pushed int
	Failed int
	Errors []error
}
