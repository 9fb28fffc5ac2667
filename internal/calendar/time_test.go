package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	d, err := ParseTime("2024-06-03")
	require.NoError(t, err)
	assert.True(t, d.DateOnly)
	assert.True(t, d.Time.Equal(day(2024, time.June, 3)))
	assert.Equal(t, "2024-06-03", d.String())

	ts, err := ParseTime("2024-06-01T10:00:00.000-07:00")
	require.NoError(t, err)
	assert.False(t, ts.DateOnly)
	assert.True(t, ts.Time.Equal(at(2024, time.June, 1, 17, 0)))

	_, err = ParseTime("")
	assert.Error(t, err)

	_, err = ParseTime("June 3rd")
	assert.Error(t, err)
}

func TestTime_EqualDistinguishesKind(t *testing.T) {
	assert.False(t, OnDate(day(2024, 6, 3)).Equal(At(day(2024, 6, 3))))
	assert.True(t, OnDate(at(2024, 6, 3, 22, 0)).Equal(OnDate(day(2024, 6, 3))))
}

func TestNewRange(t *testing.T) {
	_, err := NewRange(day(2024, 6, 2), day(2024, 6, 1))
	require.ErrorIs(t, err, ErrInvalidRange)

	r, err := NewRange(day(2024, 6, 1), day(2024, 6, 1))
	require.NoError(t, err)
	assert.True(t, r.Contains(day(2024, 6, 1)))
}

func TestRange_Overlaps(t *testing.T) {
	r := testRange(t, day(2024, 6, 10), day(2024, 6, 17))

	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"inside", day(2024, 6, 12), day(2024, 6, 13), true},
		{"starts on upper bound", day(2024, 6, 17), day(2024, 6, 18), true},
		{"runs into window", day(2024, 6, 9), day(2024, 6, 11), true},
		{"ends at lower bound", day(2024, 6, 9), day(2024, 6, 10), false},
		{"after", day(2024, 6, 18), day(2024, 6, 19), false},
		{"zero length on lower bound", day(2024, 6, 10), day(2024, 6, 10), true},
		{"zero length before", day(2024, 6, 9), day(2024, 6, 9), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Overlaps(tt.start, tt.end))
		})
	}
}
