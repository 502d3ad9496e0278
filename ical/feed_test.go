package ical

import (
	"strings"
	"testing"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeplan/planner/planner"
)

func TestWriteFeed(t *testing.T) {
	// GIVEN: A timed record, an all-day record completed with an excuse, and an archived one
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	done := time.Date(2025, 3, 4, 20, 0, 0, 0, time.UTC)
	events := []planner.Event{
		{ID: "ev-1", TaskID: "t1", Title: "Standup", Location: "Room 4",
			Start: time.Date(2025, 3, 3, 9, 30, 0, 0, time.UTC), End: &end},
		{ID: "ev-2", TaskID: "t2", Title: "Run", AllDay: true,
			Start: time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC), Completed: &done, Excuse: "sick"},
		{ID: "ev-3", TaskID: "t1", Title: "Old", IsArchived: true,
			Start: time.Date(2025, 3, 5, 9, 30, 0, 0, time.UTC)},
	}

	// WHEN: Writing the feed and parsing it back
	var b strings.Builder
	require.NoError(t, WriteFeed(&b, "Planner", events, now))
	cal, err := ics.ParseCalendar(strings.NewReader(b.String()))
	require.NoError(t, err)

	// THEN: Only live records appear, with their times and completion state
	out := cal.Events()
	require.Len(t, out, 2)
	assert.Contains(t, b.String(), "X-WR-CALNAME:Planner")

	standup := out[0]
	assert.Equal(t, "ev-1@planner", standup.Id())
	assert.Equal(t, "Standup", standup.GetProperty(ics.ComponentPropertySummary).Value)
	assert.Equal(t, "Room 4", standup.GetProperty(ics.ComponentPropertyLocation).Value)
	assert.Equal(t, "20250303T093000Z", standup.GetProperty(ics.ComponentPropertyDtStart).Value)
	assert.Equal(t, "20250303T100000Z", standup.GetProperty(ics.ComponentPropertyDtEnd).Value)
	assert.Equal(t, "CONFIRMED", standup.GetProperty(ics.ComponentPropertyStatus).Value)

	run := out[1]
	assert.Equal(t, "20250304", run.GetProperty(ics.ComponentPropertyDtStart).Value)
	assert.Equal(t, "20250305", run.GetProperty(ics.ComponentPropertyDtEnd).Value)
	assert.Equal(t, "COMPLETED", run.GetProperty(ics.ComponentPropertyStatus).Value)
	assert.Equal(t, "sick", run.GetProperty(ics.ComponentPropertyComment).Value)
}

func TestBuildFeed_Empty(t *testing.T) {
	cal := BuildFeed("", nil, time.Now())

	assert.Empty(t, cal.Events())
	assert.Contains(t, cal.Serialize(), "BEGIN:VCALENDAR")
}
