package recurrence_test

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appLog "github.com/lifeplan/planner/log"
	"github.com/lifeplan/planner/recurrence"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(y int, m time.Month, d int) *recurrence.Date {
	v := recurrence.NewDate(y, m, d)
	return &v
}

func clock(h, m int) *recurrence.Clock {
	return &recurrence.Clock{Hour: h, Minute: m}
}

func utc(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func everything() recurrence.Window { return recurrence.Window{} }

var expander = recurrence.NewExpander(time.UTC, 0)

// =============================================================================
// BASIC EXPANSION
// =============================================================================

func TestExpand_WeeklyMondayCount(t *testing.T) {
	// GIVEN: Weekly on Mondays, four times, starting Monday 2025-01-06
	spec := &recurrence.Spec{
		Frequency: recurrence.Weekly,
		Interval:  1,
		ByWeekday: recurrence.Every(recurrence.Monday),
		Count:     4,
		StartDate: date(2025, time.January, 6),
	}

	// WHEN: Expanding without a window
	got := expander.Expand(spec, everything())

	// THEN: Four consecutive Mondays at midnight
	assert.Equal(t, []time.Time{
		utc(2025, 1, 6, 0, 0),
		utc(2025, 1, 13, 0, 0),
		utc(2025, 1, 20, 0, 0),
		utc(2025, 1, 27, 0, 0),
	}, got)
}

func TestExpand_MonthDay31SkipsShortMonths(t *testing.T) {
	spec := &recurrence.Spec{
		Frequency:  recurrence.Monthly,
		Interval:   1,
		ByMonthDay: []int{31},
		Count:      3,
		StartDate:  date(2025, time.January, 1),
	}

	got := expander.Expand(spec, everything())

	assert.Equal(t, []time.Time{
		utc(2025, 1, 31, 0, 0),
		utc(2025, 3, 31, 0, 0),
		utc(2025, 5, 31, 0, 0),
	}, got)
}

func TestExpand_NoStartDateIsEmptyNotError(t *testing.T) {
	spec := &recurrence.Spec{Frequency: recurrence.Daily, Count: 3}

	res := expander.Run(spec, everything())

	assert.Empty(t, res.Occurrences)
	assert.NotNil(t, res.Occurrences)
	assert.NoError(t, res.Err)
}

func TestExpand_NilSpec(t *testing.T) {
	assert.Empty(t, expander.Expand(nil, everything()))
}

func TestExpand_StartTimeApplied(t *testing.T) {
	spec := &recurrence.Spec{
		Frequency: recurrence.Daily,
		StartDate: date(2025, time.January, 1),
		StartTime: clock(9, 30),
		Count:     2,
	}

	got := expander.Expand(spec, everything())

	assert.Equal(t, []time.Time{utc(2025, 1, 1, 9, 30), utc(2025, 1, 2, 9, 30)}, got)
}

// =============================================================================
// END BOUND
// =============================================================================

func TestExpand_EndDateIsInclusive(t *testing.T) {
	// GIVEN: Daily from Jan 1 to Jan 5 with default end time 23:59
	spec := &recurrence.Spec{
		Frequency: recurrence.Daily,
		StartDate: date(2025, time.January, 1),
		EndDate:   date(2025, time.January, 5),
	}

	got := expander.Expand(spec, everything())

	require.Len(t, got, 5)
	assert.Equal(t, utc(2025, 1, 5, 0, 0), got[4])
}

func TestExpand_EndTimeExactMatchIncluded(t *testing.T) {
	spec := &recurrence.Spec{
		Frequency: recurrence.Daily,
		StartDate: date(2025, time.January, 1),
		StartTime: clock(9, 0),
		EndDate:   date(2025, time.January, 3),
		EndTime:   clock(9, 0),
	}

	got := expander.Expand(spec, everything())

	assert.Equal(t, []time.Time{
		utc(2025, 1, 1, 9, 0),
		utc(2025, 1, 2, 9, 0),
		utc(2025, 1, 3, 9, 0),
	}, got)
}

func TestExpand_EndBeforeStartIsEmpty(t *testing.T) {
	spec := &recurrence.Spec{
		Frequency: recurrence.Daily,
		StartDate: date(2025, time.March, 1),
		EndDate:   date(2025, time.February, 1),
	}

	res := expander.Run(spec, everything())

	assert.Empty(t, res.Occurrences)
	assert.NoError(t, res.Err)
}

// =============================================================================
// WINDOW FILTERING
// =============================================================================

func TestExpand_WindowIsInclusive(t *testing.T) {
	spec := &recurrence.Spec{
		Frequency: recurrence.Daily,
		StartDate: date(2025, time.January, 1),
	}
	w := recurrence.Window{Start: utc(2025, 1, 10, 0, 0), End: utc(2025, 1, 12, 0, 0)}

	got := expander.Expand(spec, w)

	assert.Equal(t, []time.Time{
		utc(2025, 1, 10, 0, 0),
		utc(2025, 1, 11, 0, 0),
		utc(2025, 1, 12, 0, 0),
	}, got)
}

func TestExpand_CountAppliesBeforeWindow(t *testing.T) {
	// GIVEN: Five daily occurrences from Jan 1
	spec := &recurrence.Spec{
		Frequency: recurrence.Daily,
		StartDate: date(2025, time.January, 1),
		Count:     5,
	}

	// WHEN: Only Jan 3 onward is requested
	got := expander.Expand(spec, recurrence.Window{Start: utc(2025, 1, 3, 0, 0)})

	// THEN: The series still ends on Jan 5
	assert.Equal(t, []time.Time{
		utc(2025, 1, 3, 0, 0),
		utc(2025, 1, 4, 0, 0),
		utc(2025, 1, 5, 0, 0),
	}, got)
}

func TestExpand_ResultsStayInsideWindow(t *testing.T) {
	spec := &recurrence.Spec{
		Frequency: recurrence.Hourly,
		Interval:  5,
		ByMinute:  []int{15},
		StartDate: date(2025, time.January, 1),
	}
	w := recurrence.Window{Start: utc(2025, 1, 2, 0, 0), End: utc(2025, 1, 3, 0, 0)}

	got := expander.Expand(spec, w)

	require.NotEmpty(t, got)
	for i, ts := range got {
		assert.True(t, w.Contains(ts), "%s outside window", ts)
		if i > 0 {
			assert.True(t, ts.After(got[i-1]))
		}
	}
}

// =============================================================================
// SAFETY CAP
// =============================================================================

func TestExpand_DefaultCapTruncates(t *testing.T) {
	// GIVEN: A daily rule over a whole year and a captured log
	var buf bytes.Buffer
	appLog.SetOutput(&buf)
	defer appLog.SetOutput(os.Stderr)
	spec := &recurrence.Spec{
		Frequency: recurrence.Daily,
		StartDate: date(2025, time.January, 1),
	}
	w := recurrence.Window{Start: utc(2025, 1, 1, 0, 0), End: utc(2025, 12, 31, 23, 59)}

	// WHEN: Expanding with the default cap
	res := expander.Run(spec, w)

	// THEN: The result stops at the cap and the truncation is logged as an error
	assert.Len(t, res.Occurrences, recurrence.DefaultMaxOccurrences)
	assert.True(t, res.Truncated)
	assert.NoError(t, res.Err)
	assert.Contains(t, buf.String(), "[ERROR] expand: truncated occurrences")
}

func TestExpand_ConfiguredCap(t *testing.T) {
	spec := &recurrence.Spec{
		Frequency: recurrence.Daily,
		StartDate: date(2025, time.January, 1),
	}
	w := recurrence.Window{Start: utc(2025, 1, 1, 0, 0), End: utc(2025, 12, 31, 23, 59)}

	res := recurrence.NewExpander(time.UTC, 10).Run(spec, w)

	assert.Len(t, res.Occurrences, 10)
	assert.True(t, res.Truncated)
}

func TestExpand_ExactlyCapIsNotTruncated(t *testing.T) {
	spec := &recurrence.Spec{
		Frequency: recurrence.Daily,
		StartDate: date(2025, time.January, 1),
		Count:     10,
	}

	res := recurrence.NewExpander(time.UTC, 10).Run(spec, everything())

	assert.Len(t, res.Occurrences, 10)
	assert.False(t, res.Truncated)
}

func TestExpand_ScanLimit(t *testing.T) {
	// GIVEN: A counted secondly rule, which has to be walked from its start
	spec := &recurrence.Spec{
		Frequency: recurrence.Secondly,
		StartDate: date(2025, time.January, 1),
		Count:     10_000_000,
	}
	e := recurrence.Expander{Location: time.UTC, ScanLimit: 1000}

	// WHEN: Expanding a window a month later
	res := e.Run(spec, recurrence.Window{Start: utc(2025, 2, 1, 0, 0), End: utc(2025, 2, 2, 0, 0)})

	// THEN: Expansion gives up with a scan-limit error
	assert.Empty(t, res.Occurrences)
	assert.True(t, errors.Is(res.Err, recurrence.ErrScanLimit))
}

func TestExpand_LongRunningRuleSkipsAhead(t *testing.T) {
	// GIVEN: A minutely rule that started more than two years before the window
	spec := &recurrence.Spec{
		Frequency: recurrence.Minutely,
		StartDate: date(2024, time.January, 1),
	}
	e := recurrence.Expander{Location: time.UTC, ScanLimit: 2000}

	// WHEN: Expanding ten minutes in 2026
	res := e.Run(spec, recurrence.Window{Start: utc(2026, 3, 2, 0, 0), End: utc(2026, 3, 2, 0, 9)})

	// THEN: Every minute is produced without hitting the scan limit
	require.NoError(t, res.Err)
	require.Len(t, res.Occurrences, 10)
	assert.Equal(t, utc(2026, 3, 2, 0, 0), res.Occurrences[0])
	assert.Equal(t, utc(2026, 3, 2, 0, 9), res.Occurrences[9])
}

func TestExpand_SkipAheadKeepsIntervalPhase(t *testing.T) {
	tests := []struct {
		name string
		spec *recurrence.Spec
		w    recurrence.Window
		want []time.Time
	}{
		{
			// 1416 hours from the start to 1 March; the 5-hour grid lands on 04:00.
			name: "every five hours",
			spec: &recurrence.Spec{Frequency: recurrence.Hourly, Interval: 5, StartDate: date(2025, time.January, 1)},
			w:    recurrence.Window{Start: utc(2025, 3, 1, 0, 0), End: utc(2025, 3, 1, 23, 59)},
			want: []time.Time{utc(2025, 3, 1, 4, 0), utc(2025, 3, 1, 9, 0), utc(2025, 3, 1, 14, 0), utc(2025, 3, 1, 19, 0)},
		},
		{
			// Fortnightly from Monday 6 January 2025: 2 and 16 March 2026 are on the grid.
			name: "every other monday",
			spec: &recurrence.Spec{
				Frequency: recurrence.Weekly,
				Interval:  2,
				ByWeekday: recurrence.Every(recurrence.Monday),
				StartDate: date(2025, time.January, 6),
			},
			w:    recurrence.Window{Start: utc(2026, 3, 1, 0, 0), End: utc(2026, 3, 31, 23, 59)},
			want: []time.Time{utc(2026, 3, 2, 0, 0), utc(2026, 3, 16, 0, 0), utc(2026, 3, 30, 0, 0)},
		},
		{
			name: "every third day",
			spec: &recurrence.Spec{Frequency: recurrence.Daily, Interval: 3, StartDate: date(2025, time.January, 1)},
			w:    recurrence.Window{Start: utc(2025, 3, 1, 0, 0), End: utc(2025, 3, 7, 23, 59)},
			// Day 60 after 1 January is 2 March.
			want: []time.Time{utc(2025, 3, 2, 0, 0), utc(2025, 3, 5, 0, 0)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := recurrence.Expander{Location: time.UTC, ScanLimit: 100}

			res := e.Run(tt.spec, tt.w)

			require.NoError(t, res.Err)
			assert.Equal(t, tt.want, res.Occurrences)
		})
	}
}

// =============================================================================
// INVALID SPECS
// =============================================================================

func TestExpand_InvalidSpecsAreEmptyWithError(t *testing.T) {
	base := func() *recurrence.Spec {
		return &recurrence.Spec{Frequency: recurrence.Monthly, StartDate: date(2025, time.January, 1)}
	}

	tests := []struct {
		name  string
		edit  func(s *recurrence.Spec)
		field string
	}{
		{"month 13", func(s *recurrence.Spec) { s.ByMonth = []int{13} }, "by_month"},
		{"set position 0", func(s *recurrence.Spec) { s.BySetPosition = []int{0} }, "by_set_position"},
		{"set position 32", func(s *recurrence.Spec) { s.BySetPosition = []int{32} }, "by_set_position"},
		{"set position -32", func(s *recurrence.Spec) { s.BySetPosition = []int{-32} }, "by_set_position"},
		{"month day 0", func(s *recurrence.Spec) { s.ByMonthDay = []int{0} }, "by_month_day"},
		{"hour 24", func(s *recurrence.Spec) { s.ByHour = []int{24} }, "by_hour"},
		{"negative interval", func(s *recurrence.Spec) { s.Interval = -1 }, "interval"},
		{"negative count", func(s *recurrence.Spec) { s.Count = -2 }, "count"},
		{"unknown frequency", func(s *recurrence.Spec) { s.Frequency = 9 }, "frequency"},
		{"impossible date", func(s *recurrence.Spec) { s.StartDate = date(2025, time.February, 30) }, "start_date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := base()
			tt.edit(spec)

			res := expander.Run(spec, everything())

			assert.Empty(t, res.Occurrences)
			require.Error(t, res.Err)
			assert.True(t, errors.Is(res.Err, recurrence.ErrInvalidSpec))
			var ise *recurrence.InvalidSpecError
			require.True(t, errors.As(res.Err, &ise))
			assert.Equal(t, tt.field, ise.Field)
		})
	}
}

// =============================================================================
// RULE FEATURES
// =============================================================================

func TestExpand_IntervalWithSeveralWeekdays(t *testing.T) {
	spec := &recurrence.Spec{
		Frequency: recurrence.Weekly,
		Interval:  2,
		ByWeekday: recurrence.Every(recurrence.Monday, recurrence.Wednesday),
		Count:     4,
		StartDate: date(2025, time.January, 6),
	}

	got := expander.Expand(spec, everything())

	assert.Equal(t, []time.Time{
		utc(2025, 1, 6, 0, 0),
		utc(2025, 1, 8, 0, 0),
		utc(2025, 1, 20, 0, 0),
		utc(2025, 1, 22, 0, 0),
	}, got)
}

func TestExpand_LastFridayOfMonth(t *testing.T) {
	lastFriday, err := recurrence.ParseWeekdayRule("-1FR")
	require.NoError(t, err)
	spec := &recurrence.Spec{
		Frequency: recurrence.Monthly,
		ByWeekday: []recurrence.WeekdayRule{lastFriday},
		Count:     2,
		StartDate: date(2025, time.January, 1),
	}

	got := expander.Expand(spec, everything())

	assert.Equal(t, []time.Time{utc(2025, 1, 31, 0, 0), utc(2025, 2, 28, 0, 0)}, got)
}

func TestExpand_LastWorkdayViaSetPosition(t *testing.T) {
	spec := &recurrence.Spec{
		Frequency: recurrence.Monthly,
		ByWeekday: recurrence.Every(recurrence.Monday, recurrence.Tuesday, recurrence.Wednesday,
			recurrence.Thursday, recurrence.Friday),
		BySetPosition: []int{-1},
		Count:         3,
		StartDate:     date(2025, time.May, 1),
	}

	got := expander.Expand(spec, everything())

	// May 31 2025 is a Saturday, June 30 a Monday, July 31 a Thursday.
	assert.Equal(t, []time.Time{
		utc(2025, 5, 30, 0, 0),
		utc(2025, 6, 30, 0, 0),
		utc(2025, 7, 31, 0, 0),
	}, got)
}

func TestExpand_RepeatedFiltersDoNotDuplicate(t *testing.T) {
	spec := &recurrence.Spec{
		Frequency: recurrence.Daily,
		ByHour:    []int{9, 9},
		Count:     2,
		StartDate: date(2025, time.January, 1),
	}

	got := expander.Expand(spec, everything())

	assert.Equal(t, []time.Time{utc(2025, 1, 1, 9, 0), utc(2025, 1, 2, 9, 0)}, got)
}

func TestExpand_Location(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	spec := &recurrence.Spec{
		Frequency: recurrence.Daily,
		StartDate: date(2025, time.March, 8),
		StartTime: clock(9, 0),
		Count:     2,
	}

	got := expander.In(ny).Expand(spec, everything())

	require.Len(t, got, 2)
	for _, ts := range got {
		assert.Equal(t, 9, ts.In(ny).Hour())
	}
	// DST starts on March 9 2025, so the UTC offset shifts by an hour.
	assert.Equal(t, 23*time.Hour, got[1].Sub(got[0]))
}

func TestExpand_Deterministic(t *testing.T) {
	spec := &recurrence.Spec{
		Frequency:  recurrence.Yearly,
		ByMonth:    []int{2},
		ByMonthDay: []int{29},
		Count:      3,
		StartDate:  date(2024, time.January, 1),
	}

	first := expander.Expand(spec, everything())
	second := expander.Expand(spec, everything())

	assert.Equal(t, first, second)
	assert.Equal(t, []time.Time{
		utc(2024, 2, 29, 0, 0),
		utc(2028, 2, 29, 0, 0),
		utc(2032, 2, 29, 0, 0),
	}, first)
}
