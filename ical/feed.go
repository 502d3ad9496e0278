// Package ical renders occurrence records as an iCalendar feed.
package ical

import (
	"io"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/lifeplan/planner/planner"
)

const productID = "lifeplan planner"

// BuildFeed returns a calendar holding one VEVENT per non-archived record.
// Completed records carry STATUS:COMPLETED and their excuse as a COMMENT.
func BuildFeed(name string, events []planner.Event, now time.Time) *ics.Calendar {
	cal := ics.NewCalendarFor(productID)
	cal.SetMethod(ics.MethodPublish)
	if name != "" {
		cal.SetName(name)
	}

	for _, e := range events {
		if e.IsArchived {
			continue
		}
		ve := cal.AddEvent(string(e.ID) + "@planner")
		ve.SetDtStampTime(now)
		ve.SetSummary(e.Title)
		if e.Description != "" {
			ve.SetDescription(e.Description)
		}
		if e.Location != "" {
			ve.SetLocation(e.Location)
		}

		if e.AllDay {
			ve.SetAllDayStartAt(e.Start)
			end := e.Start.AddDate(0, 0, 1)
			if e.End != nil && e.End.After(e.Start) {
				end = *e.End
			}
			ve.SetAllDayEndAt(end)
		} else {
			ve.SetStartAt(e.Start)
			if e.End != nil {
				ve.SetEndAt(*e.End)
			}
		}

		if e.IsCompleted() {
			ve.SetStatus(ics.ObjectStatusCompleted)
			if e.Excuse != "" {
				ve.AddComment(e.Excuse)
			}
		} else {
			ve.SetStatus(ics.ObjectStatusConfirmed)
		}
		if !e.UpdatedAt.IsZero() {
			ve.SetLastModifiedAt(e.UpdatedAt)
		}
	}
	return cal
}

// WriteFeed serializes BuildFeed's calendar to w.
func WriteFeed(w io.Writer, name string, events []planner.Event, now time.Time) error {
	return BuildFeed(name, events, now).SerializeTo(w)
}
