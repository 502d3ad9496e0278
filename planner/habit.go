package planner

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// HabitProgress compares logged habit occurrences with the expected ones.
type HabitProgress struct {
	Expected int
	Logged   int
	Percent  decimal.Decimal
	OnTrack  bool
	Points   decimal.Decimal
}

// Progress computes the share of expected occurrences that were logged. Logs
// beyond the expectation do not push the share past 100%. A window with no
// expected occurrences counts as on track.
func Progress(h Habit, logs []HabitLog, expected []time.Time) HabitProgress {
	threshold := h.ThresholdPercent
	if threshold.IsZero() {
		threshold = DefaultHabitThreshold
	}
	points := h.Points
	if points.IsZero() {
		points = DefaultHabitPoints
	}

	p := HabitProgress{
		Expected: len(expected),
		Logged:   len(logs),
		Percent:  decimal.Zero,
		Points:   points.Mul(decimal.NewFromInt(int64(len(logs)))),
	}
	if p.Expected == 0 {
		p.OnTrack = true
		return p
	}

	p.Percent = decimal.NewFromInt(int64(p.Logged)).
		Div(decimal.NewFromInt(int64(p.Expected))).
		Mul(hundred).
		Round(2)
	if p.Percent.GreaterThan(hundred) {
		p.Percent = hundred
	}
	p.OnTrack = p.Percent.GreaterThanOrEqual(threshold)
	return p
}
