/*
expand.go - RecurrenceExpander

PURPOSE:
  Turns a Spec into the concrete, strictly ascending list of instants at
  which it fires, optionally restricted to a Window.

RULES:
  - No start date: no occurrences (not an error)
  - Start instant is the start date at the start time (default 00:00)
  - End bound is the end date at the end time (default 23:59), inclusive
  - Count is honoured from the start instant, before any window filtering
  - At most MaxOccurrences instants are returned per expansion
  - Invalid rules produce no occurrences; the error is logged and exposed
    on Expansion.Err so callers can tell it apart from an empty rule

ENGINE:
  github.com/teambition/rrule-go does the RFC 5545 arithmetic. The window end
  is folded into the rule's UNTIL so iteration stops at the window. Rules
  without a count start iterating close to the window start; candidates
  before the window start are skipped up to ScanLimit.

SEE ALSO:
  - spec.go: Spec definition and validation
  - window.go: Window and named ranges
  - planner/reconcile.go: Main consumer
*/
package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	appLog "github.com/lifeplan/planner/log"
)

const (
	// DefaultMaxOccurrences is the safety cap on a single expansion.
	DefaultMaxOccurrences = 100

	// DefaultScanLimit bounds how many candidates before the window start are
	// skipped before expansion gives up.
	DefaultScanLimit = 500_000
)

// Expander expands recurrence specs in a fixed location.
type Expander struct {
	Location       *time.Location
	MaxOccurrences int
	ScanLimit      int
}

// NewExpander returns an expander for loc. A non-positive cap uses the default.
func NewExpander(loc *time.Location, maxOccurrences int) Expander {
	return Expander{Location: loc, MaxOccurrences: maxOccurrences}
}

// In returns a copy of the expander that evaluates rules in loc.
func (e Expander) In(loc *time.Location) Expander {
	e.Location = loc
	return e
}

// Expansion is the detailed result of a single expansion.
type Expansion struct {
	Occurrences []time.Time
	Truncated   bool
	Err         error
}

// Expand returns the occurrences of spec inside w, ascending and without
// duplicates. Invalid specs yield an empty slice.
func (e Expander) Expand(spec *Spec, w Window) []time.Time {
	return e.Run(spec, w).Occurrences
}

// Run is Expand with truncation and error details.
func (e Expander) Run(spec *Spec, w Window) Expansion {
	res := Expansion{Occurrences: []time.Time{}}
	loc := e.location()

	dtstart, ok := spec.Start(loc)
	if !ok {
		return res
	}
	if err := spec.Validate(); err != nil {
		return e.fail(res, spec, err)
	}

	until := w.End
	if specUntil, ok := spec.Until(loc); ok && (until.IsZero() || specUntil.Before(until)) {
		until = specUntil
	}
	if !until.IsZero() && until.Before(dtstart) {
		return res
	}

	rule, err := rrule.NewRRule(spec.options(fastForward(spec, dtstart, w.Start), until))
	if err != nil {
		return e.fail(res, spec, &InvalidSpecError{Field: "rule", Reason: err.Error()})
	}

	limit := e.maxOccurrences()
	scanLimit := e.scanLimit()
	skipped := 0
	next := rule.Iterator()
	var last time.Time

	for {
		t, ok := next()
		if !ok {
			break
		}
		if !until.IsZero() && t.After(until) {
			break
		}
		if !w.Start.IsZero() && t.Before(w.Start) {
			skipped++
			if skipped > scanLimit {
				return e.fail(res, spec, fmt.Errorf("%w: skipped %d candidates before %s",
					ErrScanLimit, skipped, w.Start.Format(time.RFC3339)))
			}
			continue
		}
		if !last.IsZero() && !t.After(last) {
			continue
		}

		if len(res.Occurrences) == limit {
			res.Truncated = true
			appLog.Error("expand: truncated occurrences", ErrTruncated, "rule", spec.String(), "cap", limit, "window", w.String())
			break
		}
		res.Occurrences = append(res.Occurrences, t)
		last = t
	}

	return res
}

// fastForward moves the start of an uncounted rule to at most from, by a
// whole number of days that is also a whole number of intervals, so the
// rule's phase is unchanged. Counted rules must be walked from the start and
// monthly or yearly periods have no fixed length; both are left alone.
func fastForward(spec *Spec, dtstart, from time.Time) time.Time {
	if spec.Count > 0 || from.IsZero() || !from.After(dtstart) {
		return dtstart
	}
	interval := spec.Interval
	if interval == 0 {
		interval = 1
	}

	var step int
	switch spec.Frequency {
	case Weekly:
		step = 7 * interval
	case Daily:
		step = interval
	case Hourly:
		step = wholeDays(3600 * interval)
	case Minutely:
		step = wholeDays(60 * interval)
	case Secondly:
		step = wholeDays(interval)
	default:
		return dtstart
	}

	periods := int(from.Sub(dtstart).Hours()/24) / step
	shifted := dtstart.AddDate(0, 0, periods*step)
	// A DST change between the two can land a day-based shift past from.
	if shifted.After(from) {
		periods--
		shifted = dtstart.AddDate(0, 0, periods*step)
	}
	if periods <= 0 {
		return dtstart
	}
	return shifted
}

// wholeDays is the smallest number of days that is a multiple of period
// seconds.
func wholeDays(period int) int {
	a, b := period, 86400
	for b != 0 {
		a, b = b, a%b
	}
	return period / a
}

func (e Expander) fail(res Expansion, spec *Spec, err error) Expansion {
	appLog.Error("expand: rule rejected", err, "rule", spec.String())
	res.Occurrences = []time.Time{}
	res.Err = err
	return res
}

func (e Expander) location() *time.Location {
	if e.Location == nil {
		return time.UTC
	}
	return e.Location
}

func (e Expander) maxOccurrences() int {
	if e.MaxOccurrences <= 0 {
		return DefaultMaxOccurrences
	}
	return e.MaxOccurrences
}

func (e Expander) scanLimit() int {
	if e.ScanLimit <= 0 {
		return DefaultScanLimit
	}
	return e.ScanLimit
}
