package factory

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeplan/planner/recurrence"
)

func TestParseSchedule_JSON(t *testing.T) {
	// GIVEN: A weekly schedule document as stored by the API
	doc := `{
		"name": "Standup",
		"freq": "weekly",
		"interval": "2.00",
		"count": 10,
		"by_week_day": ["MO", "+1FR"],
		"start_date": "2025-01-06",
		"start_time": "09:30",
		"end_date": "2025-06-30",
		"week_start": "6"
	}`

	// WHEN: Parsing it
	spec, err := NewScheduleFactory().ParseSchedule([]byte(doc))

	// THEN: Every field lands on the spec
	require.NoError(t, err)
	assert.Equal(t, recurrence.Weekly, spec.Frequency)
	assert.Equal(t, 2, spec.Interval)
	assert.Equal(t, 10, spec.Count)
	assert.Equal(t, []recurrence.WeekdayRule{{Day: recurrence.Monday}, {Day: recurrence.Friday, N: 1}}, spec.ByWeekday)
	assert.Equal(t, recurrence.NewDate(2025, time.January, 6), *spec.StartDate)
	assert.Equal(t, recurrence.Clock{Hour: 9, Minute: 30}, *spec.StartTime)
	assert.Equal(t, recurrence.NewDate(2025, time.June, 30), *spec.EndDate)
	assert.Nil(t, spec.EndTime)
	assert.Equal(t, recurrence.Sunday, spec.WeekStart)
}

func TestParseScheduleYAML_MatchesJSON(t *testing.T) {
	doc := `
freq: 1
interval: 1
by_month_day: [1, 15]
by_hour: [8]
start_date: "2025-01-01"
week_start: sunday
`
	spec, err := NewScheduleFactory().ParseScheduleYAML([]byte(doc))

	require.NoError(t, err)
	assert.Equal(t, recurrence.Monthly, spec.Frequency)
	assert.Equal(t, 1, spec.Interval)
	assert.Zero(t, spec.Count)
	assert.Equal(t, []int{1, 15}, spec.ByMonthDay)
	assert.Equal(t, []int{8}, spec.ByHour)
	assert.Equal(t, recurrence.Sunday, spec.WeekStart)

	occ := recurrence.NewExpander(time.UTC, 0).Expand(spec, recurrence.Window{End: time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)})
	assert.Equal(t, []time.Time{
		time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 15, 8, 0, 0, 0, time.UTC),
	}, occ)
}

func TestParseSchedule_Defaults(t *testing.T) {
	spec, err := NewScheduleFactory().ParseSchedule([]byte(`{}`))

	require.NoError(t, err)
	assert.Equal(t, recurrence.Daily, spec.Frequency)
	assert.Equal(t, 1, spec.Interval)
	assert.Nil(t, spec.StartDate)
	assert.Equal(t, recurrence.Monday, spec.WeekStart)
}

func TestParseSchedule_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"fractional interval", `{"freq":"daily","interval":2.5}`, "interval"},
		{"zero interval", `{"freq":"daily","interval":0}`, "interval"},
		{"zero count", `{"freq":"daily","count":0}`, "count"},
		{"unknown frequency", `{"freq":"fortnightly"}`, "frequency"},
		{"month out of range", `{"freq":"yearly","by_month":[13]}`, "by_month"},
		{"bad weekday", `{"freq":"weekly","by_week_day":["XX"]}`, "by_weekday"},
		{"bad start date", `{"freq":"daily","start_date":"2025-02-30"}`, "start_date"},
		{"bad start time", `{"freq":"daily","start_time":"25:00"}`, "start_time"},
		{"bad week start", `{"freq":"daily","week_start":"funday"}`, "week_start"},
		{"set position zero", `{"freq":"monthly","by_set_position":[0]}`, "by_set_position"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScheduleFactory().ParseSchedule([]byte(tt.doc))

			require.Error(t, err)
			assert.ErrorIs(t, err, recurrence.ErrInvalidSpec)
			var ise *recurrence.InvalidSpecError
			require.True(t, errors.As(err, &ise))
			assert.Equal(t, tt.field, ise.Field)
		})
	}
}

func TestParseSchedule_MalformedDocument(t *testing.T) {
	_, err := NewScheduleFactory().ParseSchedule([]byte(`{"freq":`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, recurrence.ErrInvalidSpec)

	_, err = NewScheduleFactory().ParseScheduleYAML([]byte("interval: often\n"))
	require.Error(t, err)
}

func TestMarshal_WritesCanonicalDocument(t *testing.T) {
	start := recurrence.NewDate(2025, time.January, 6)
	spec := &recurrence.Spec{
		Frequency: recurrence.Weekly,
		Count:     4,
		ByWeekday: []recurrence.WeekdayRule{{Day: recurrence.Monday}, {Day: recurrence.Friday, N: -1}},
		StartDate: &start,
	}
	f := NewScheduleFactory()

	data, err := f.Marshal(spec)

	require.NoError(t, err)
	assert.JSONEq(t, `{
		"freq": "weekly",
		"interval": 1,
		"count": 4,
		"by_week_day": ["MO", "-1FR"],
		"start_date": "2025-01-06"
	}`, string(data))

	back, err := f.ParseSchedule(data)
	require.NoError(t, err)
	spec.Interval = 1
	assert.Equal(t, spec, back)
}

func TestUnmarshal_SkipsRangeValidation(t *testing.T) {
	f := NewScheduleFactory()

	spec, err := f.Unmarshal([]byte(`{"freq":"yearly","by_month":[13]}`))

	require.NoError(t, err)
	assert.Equal(t, []int{13}, spec.ByMonth)
	assert.ErrorIs(t, spec.Validate(), recurrence.ErrInvalidSpec)
}
