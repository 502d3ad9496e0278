package recurrence

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// WINDOW - The time range a caller cares about
// =============================================================================

// Window is an inclusive time range. A zero Start or End leaves that side
// unbounded.
//
// Examples:
//   - This month: Jan 1 00:00 - Jan 31 23:59:59.999999999
//   - Explicit:   start=2025-01-06, end=2025-02-02
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow rejects a window whose end precedes its start.
func NewWindow(start, end time.Time) (Window, error) {
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return Window{}, &WindowParseError{Param: "end", Value: end.Format(time.RFC3339)}
	}
	return Window{Start: start, End: end}, nil
}

// Contains returns true if t is within [Start, End].
func (w Window) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && t.After(w.End) {
		return false
	}
	return true
}

func (w Window) Bounded() bool { return !w.Start.IsZero() && !w.End.IsZero() }

func (w Window) String() string {
	format := func(t time.Time) string {
		if t.IsZero() {
			return "*"
		}
		return t.Format(time.RFC3339)
	}
	return "[" + format(w.Start) + ", " + format(w.End) + "]"
}

// =============================================================================
// NAMED RANGES
// =============================================================================

const (
	RangeToday = "today"
	RangeWeek  = "week"
	RangeMonth = "month"
	RangeYear  = "year"

	// DefaultRange applies when a caller supplies neither bounds nor a range.
	DefaultRange = RangeMonth
)

// NamedRange returns the calendar window containing now. Weeks begin on
// weekStart; everything is computed in now's location.
func NamedRange(name string, now time.Time, weekStart Weekday) (Window, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case RangeToday:
		return Window{Start: startOfDay(now), End: endOfDay(now)}, nil
	case RangeWeek:
		offset := (int(WeekdayOf(now.Weekday())) - int(weekStart) + 7) % 7
		start := startOfDay(now).AddDate(0, 0, -offset)
		return Window{Start: start, End: start.AddDate(0, 0, 7).Add(-time.Nanosecond)}, nil
	case RangeMonth, "":
		start := startOfMonth(now)
		return Window{Start: start, End: start.AddDate(0, 1, 0).Add(-time.Nanosecond)}, nil
	case RangeYear:
		start := startOfYear(now)
		return Window{Start: start, End: start.AddDate(1, 0, 0).Add(-time.Nanosecond)}, nil
	default:
		return Window{}, &WindowParseError{Param: "range", Value: name}
	}
}

// =============================================================================
// WINDOW PARSING - Request parameters to Window
// =============================================================================

// WindowQuery carries the raw trigger parameters.
type WindowQuery struct {
	Start string
	End   string
	Range string
}

var boundLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseWindow resolves a trigger query. Explicit bounds win; a missing side
// is taken from the named range (default: the current month). Any bound or
// range name that cannot be parsed is an error wrapping ErrWindowParse.
func ParseWindow(q WindowQuery, now time.Time, weekStart Weekday) (Window, error) {
	base, err := NamedRange(q.Range, now, weekStart)
	if err != nil {
		return Window{}, err
	}
	start, end := base.Start, base.End

	if s := strings.TrimSpace(q.Start); s != "" {
		if start, err = parseBound(s, now.Location(), false); err != nil {
			return Window{}, &WindowParseError{Param: "start", Value: q.Start}
		}
	}
	if s := strings.TrimSpace(q.End); s != "" {
		if end, err = parseBound(s, now.Location(), true); err != nil {
			return Window{}, &WindowParseError{Param: "end", Value: q.End}
		}
	}
	return NewWindow(start, end)
}

// parseBound accepts RFC 3339, local date-times and plain dates. A plain
// date used as an end bound covers the whole day.
func parseBound(s string, loc *time.Location, isEnd bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range boundLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		if isEnd {
			return endOfDay(t), nil
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
