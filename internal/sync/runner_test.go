package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/calsync/internal/reconcile"
)

func TestBackoffDuration(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0},
		{1, 0},
		{2, 0},
		{3, time.Minute},
		{4, 5 * time.Minute},
		{5, 15 * time.Minute},
		{6, time.Hour},
		{50, time.Hour},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, BackoffDuration(tt.failures), "failures=%d", tt.failures)
	}
}

func TestCalendarRunner_RecoversPanic(t *testing.T) {
	report := calendarRunner{uid: "c1"}.run(context.Background(), func(context.Context) (reconcile.Counts, []error) {
		panic("boom")
	})

	require.Len(t, report.Errors, 1)

	var ce *CalendarError
	require.ErrorAs(t, report.Errors[0], &ce)
	assert.Equal(t, "c1", ce.UID)
	assert.Contains(t, ce.Error(), "boom")
}

func TestCalendarRunner_PassesThroughResult(t *testing.T) {
	report := calendarRunner{uid: "c1"}.run(context.Background(), func(context.Context) (reconcile.Counts, []error) {
		return reconcile.Counts{Created: 2}, nil
	})

	assert.Equal(t, "c1", report.UID)
	assert.Equal(t, 2, report.Counts.Created)
	assert.Empty(t, report.Errors)
}

func TestFeedLocks_TryLock(t *testing.T) {
	var l feedLocks

	unlock, ok := l.tryLock("f1")
	require.True(t, ok)

	_, ok = l.tryLock("f1")
	assert.False(t, ok)

	other, ok := l.tryLock("f2")
	require.True(t, ok)
	other()

	unlock()

	unlock, ok = l.tryLock("f1")
	require.True(t, ok)
	unlock()
}
