package recurrence_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeplan/planner/recurrence"
)

// 2025-01-15 is a Wednesday.
var wednesday = time.Date(2025, time.January, 15, 14, 30, 0, 0, time.UTC)

func TestNamedRange(t *testing.T) {
	tests := []struct {
		name      string
		weekStart recurrence.Weekday
		start     time.Time
		end       time.Time
	}{
		{"today", recurrence.Monday, utc(2025, 1, 15, 0, 0), utc(2025, 1, 16, 0, 0)},
		{"week", recurrence.Monday, utc(2025, 1, 13, 0, 0), utc(2025, 1, 20, 0, 0)},
		{"week", recurrence.Sunday, utc(2025, 1, 12, 0, 0), utc(2025, 1, 19, 0, 0)},
		{"month", recurrence.Monday, utc(2025, 1, 1, 0, 0), utc(2025, 2, 1, 0, 0)},
		{"year", recurrence.Monday, utc(2025, 1, 1, 0, 0), utc(2026, 1, 1, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.weekStart.String(), func(t *testing.T) {
			w, err := recurrence.NamedRange(tt.name, wednesday, tt.weekStart)

			require.NoError(t, err)
			assert.Equal(t, tt.start, w.Start)
			assert.Equal(t, tt.end.Add(-time.Nanosecond), w.End)
			assert.True(t, w.Contains(wednesday))
		})
	}
}

func TestNamedRange_Unknown(t *testing.T) {
	_, err := recurrence.NamedRange("fortnight", wednesday, recurrence.Monday)
	assert.True(t, errors.Is(err, recurrence.ErrWindowParse))
}

func TestParseWindow_DefaultsToCurrentMonth(t *testing.T) {
	w, err := recurrence.ParseWindow(recurrence.WindowQuery{}, wednesday, recurrence.Monday)

	require.NoError(t, err)
	assert.Equal(t, utc(2025, 1, 1, 0, 0), w.Start)
	assert.Equal(t, 31, w.End.Day())
}

func TestParseWindow_ExplicitDates(t *testing.T) {
	// GIVEN: Date-only bounds
	q := recurrence.WindowQuery{Start: "2025-01-06", End: "2025-02-02"}

	// WHEN: Parsing
	w, err := recurrence.ParseWindow(q, wednesday, recurrence.Monday)

	// THEN: The end date covers its whole day
	require.NoError(t, err)
	assert.Equal(t, utc(2025, 1, 6, 0, 0), w.Start)
	assert.True(t, w.Contains(time.Date(2025, 2, 2, 23, 59, 59, 0, time.UTC)))
	assert.False(t, w.Contains(utc(2025, 2, 3, 0, 0)))
}

func TestParseWindow_RFC3339AndLocalForms(t *testing.T) {
	q := recurrence.WindowQuery{Start: "2025-01-06T08:00:00Z", End: "2025-01-07 18:00"}

	w, err := recurrence.ParseWindow(q, wednesday, recurrence.Monday)

	require.NoError(t, err)
	assert.Equal(t, utc(2025, 1, 6, 8, 0), w.Start)
	assert.Equal(t, utc(2025, 1, 7, 18, 0), w.End)
}

func TestParseWindow_MissingSideFromRange(t *testing.T) {
	q := recurrence.WindowQuery{Start: "2025-01-14", Range: "week"}

	w, err := recurrence.ParseWindow(q, wednesday, recurrence.Monday)

	require.NoError(t, err)
	assert.Equal(t, utc(2025, 1, 14, 0, 0), w.Start)
	assert.Equal(t, utc(2025, 1, 20, 0, 0).Add(-time.Nanosecond), w.End)
}

func TestParseWindow_Errors(t *testing.T) {
	tests := []struct {
		name  string
		q     recurrence.WindowQuery
		param string
	}{
		{"bad start", recurrence.WindowQuery{Start: "yesterday"}, "start"},
		{"bad end", recurrence.WindowQuery{End: "2025-13-01"}, "end"},
		{"bad range", recurrence.WindowQuery{Range: "decade"}, "range"},
		{"end before start", recurrence.WindowQuery{Start: "2025-02-01", End: "2025-01-01"}, "end"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := recurrence.ParseWindow(tt.q, wednesday, recurrence.Monday)

			require.Error(t, err)
			assert.True(t, errors.Is(err, recurrence.ErrWindowParse))
			var wpe *recurrence.WindowParseError
			require.True(t, errors.As(err, &wpe))
			assert.Equal(t, tt.param, wpe.Param)
		})
	}
}

func TestWindow_UnboundedSides(t *testing.T) {
	w := recurrence.Window{Start: utc(2025, 1, 1, 0, 0)}

	assert.True(t, w.Contains(utc(2099, 1, 1, 0, 0)))
	assert.False(t, w.Contains(utc(2024, 12, 31, 23, 59)))
	assert.False(t, w.Bounded())
	assert.Equal(t, "[2025-01-01T00:00:00Z, *]", w.String())
}
