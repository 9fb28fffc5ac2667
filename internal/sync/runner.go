package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/tonimelisma/calsync/internal/reconcile"
)

// Backoff for consecutive failed passes in watch mode. Nothing is delayed
// before backoffThreshold failures.
const (
	backoffThreshold = 3
	backoffMaxCap    = 1 * time.Hour
)

// backoffSteps maps failure counts from the threshold on: 3→1m, 4→5m,
// 5→15m, 6+→1h.
var backoffSteps = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	backoffMaxCap,
}

// calendarReport is the result of one calendar's event pass.
type calendarReport struct {
	UID    string
	Counts reconcile.Counts
	Errors []error
}

// calendarRunner isolates one calendar's event pass: a panic is converted
// into an error on that calendar only.
type calendarRunner struct {
	uid string
}

func (cr calendarRunner) run(ctx context.Context, fn func(context.Context) (reconcile.Counts, []error)) (report *calendarReport) {
	report = &calendarReport{UID: cr.uid}

	defer func() {
		if r := recover(); r != nil {
			report.Errors = append(report.Errors, &CalendarError{
				UID: cr.uid,
				Err: fmt.Errorf("panic in event pass: %v", r),
			})
		}
	}()

	report.Counts, report.Errors = fn(ctx)

	return report
}

// BackoffDuration returns how long watch mode waits after the given number
// of consecutive failed passes.
func BackoffDuration(failures int) time.Duration {
	if failures < backoffThreshold {
		return 0
	}

	idx := failures - backoffThreshold
	if idx >= len(backoffSteps) {
		return backoffMaxCap
	}

	return backoffSteps[idx]
}
