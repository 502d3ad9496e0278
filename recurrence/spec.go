/*
spec.go - Recurrence rule definition

PURPOSE:
  Spec is the declarative description of when a task recurs: frequency,
  interval, start/end bounds, optional count and the usual RFC 5545 BY*
  filters. It is plain data; expansion lives in expand.go.

DEFAULTS:
  - Interval 0 is treated as 1
  - Missing start time is 00:00, missing end time is 23:59
  - Zero WeekStart is Monday
  - Count 0 means unbounded (the end date or the window bounds the series)

WEEKDAY CODES:
  MO TU WE TH FR SA SU, optionally prefixed with an ordinal for
  monthly/yearly rules: "+1MO" first Monday, "-1FR" last Friday.
*/
package recurrence

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// =============================================================================
// FREQUENCY
// =============================================================================

// Frequency values are stored as integers, 0=Yearly through 6=Secondly.
type Frequency int

const (
	Yearly Frequency = iota
	Monthly
	Weekly
	Daily
	Hourly
	Minutely
	Secondly
)

var frequencyNames = [...]string{"yearly", "monthly", "weekly", "daily", "hourly", "minutely", "secondly"}

func (f Frequency) Valid() bool { return f >= Yearly && f <= Secondly }

func (f Frequency) String() string {
	if !f.Valid() {
		return fmt.Sprintf("frequency(%d)", int(f))
	}
	return frequencyNames[f]
}

// ParseFrequency accepts a name ("weekly", "WEEKLY") or the stored integer ("2").
func ParseFrequency(s string) (Frequency, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range frequencyNames {
		if s == name {
			return Frequency(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Frequency(n).Valid() {
		return Frequency(n), nil
	}
	return 0, invalid("frequency", "unknown frequency %q", s)
}

func (f Frequency) rrule() rrule.Frequency {
	switch f {
	case Yearly:
		return rrule.YEARLY
	case Monthly:
		return rrule.MONTHLY
	case Weekly:
		return rrule.WEEKLY
	case Hourly:
		return rrule.HOURLY
	case Minutely:
		return rrule.MINUTELY
	case Secondly:
		return rrule.SECONDLY
	default:
		return rrule.DAILY
	}
}

// =============================================================================
// WEEKDAYS
// =============================================================================

// Weekday counts from Monday=0 to Sunday=6.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayCodes = [...]string{"MO", "TU", "WE", "TH", "FR", "SA", "SU"}

func (d Weekday) Valid() bool { return d >= Monday && d <= Sunday }

func (d Weekday) String() string {
	if !d.Valid() {
		return fmt.Sprintf("weekday(%d)", int(d))
	}
	return weekdayCodes[d]
}

// Time converts to the standard library's Sunday-first numbering.
func (d Weekday) Time() time.Weekday {
	return time.Weekday((int(d) + 1) % 7)
}

// WeekdayOf is the inverse of Time.
func WeekdayOf(wd time.Weekday) Weekday {
	return Weekday((int(wd) + 6) % 7)
}

// ParseWeekday accepts a two-letter code or a full English day name.
func ParseWeekday(s string) (Weekday, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, code := range weekdayCodes {
		if s == code || (len(s) > 2 && strings.HasPrefix(strings.ToUpper(Weekday(i).Time().String()), s)) {
			return Weekday(i), nil
		}
	}
	return 0, invalid("weekday", "unknown weekday %q", s)
}

func (d Weekday) rrule() rrule.Weekday {
	switch d {
	case Tuesday:
		return rrule.TU
	case Wednesday:
		return rrule.WE
	case Thursday:
		return rrule.TH
	case Friday:
		return rrule.FR
	case Saturday:
		return rrule.SA
	case Sunday:
		return rrule.SU
	default:
		return rrule.MO
	}
}

// WeekdayRule is one BYDAY entry. N selects the nth occurrence of the day
// within the month or year (negative counts from the end); zero means every.
type WeekdayRule struct {
	Day Weekday
	N   int
}

// ParseWeekdayRule parses "MO", "+2TU" or "-1FR".
func ParseWeekdayRule(s string) (WeekdayRule, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) < 2 {
		return WeekdayRule{}, invalid("by_weekday", "unknown weekday %q", s)
	}
	day, err := ParseWeekday(s[len(s)-2:])
	if err != nil {
		return WeekdayRule{}, invalid("by_weekday", "unknown weekday %q", s)
	}
	rule := WeekdayRule{Day: day}
	if prefix := s[:len(s)-2]; prefix != "" {
		n, err := strconv.Atoi(prefix)
		if err != nil || n == 0 || n < -53 || n > 53 {
			return WeekdayRule{}, invalid("by_weekday", "bad ordinal in %q", s)
		}
		rule.N = n
	}
	return rule, nil
}

func (w WeekdayRule) String() string {
	if w.N == 0 {
		return w.Day.String()
	}
	return fmt.Sprintf("%+d%s", w.N, w.Day)
}

func (w WeekdayRule) rrule() rrule.Weekday {
	day := w.Day.rrule()
	if w.N == 0 {
		return day
	}
	return day.Nth(w.N)
}

// Every returns rules matching every occurrence of the given days.
func Every(days ...Weekday) []WeekdayRule {
	rules := make([]WeekdayRule, len(days))
	for i, d := range days {
		rules[i] = WeekdayRule{Day: d}
	}
	return rules
}

// =============================================================================
// SPEC
// =============================================================================

// Spec is a declarative recurrence rule.
type Spec struct {
	Frequency Frequency
	Interval  int

	StartDate *Date
	StartTime *Clock
	EndDate   *Date
	EndTime   *Clock
	Count     int

	ByWeekday     []WeekdayRule
	ByMonthDay    []int
	ByMonth       []int
	ByYearDay     []int
	ByWeekNumber  []int
	ByHour        []int
	ByMinute      []int
	BySecond      []int
	BySetPosition []int

	WeekStart Weekday
}

// Start is the first candidate instant, or false when no start date is set.
func (s *Spec) Start(loc *time.Location) (time.Time, bool) {
	if s == nil || s.StartDate == nil {
		return time.Time{}, false
	}
	clock := StartOfDay
	if s.StartTime != nil {
		clock = *s.StartTime
	}
	return s.StartDate.At(clock, loc), true
}

// Until is the inclusive end bound, or false when the rule has no end date.
func (s *Spec) Until(loc *time.Location) (time.Time, bool) {
	if s == nil || s.EndDate == nil {
		return time.Time{}, false
	}
	clock := DefaultEndOfDay
	if s.EndTime != nil {
		clock = *s.EndTime
	}
	return s.EndDate.At(clock, loc), true
}

// Validate checks the rule without expanding it.
func (s *Spec) Validate() error {
	if s == nil {
		return invalid("spec", "nil")
	}
	if !s.Frequency.Valid() {
		return invalid("frequency", "unknown frequency %d", int(s.Frequency))
	}
	if s.Interval < 0 {
		return invalid("interval", "must be positive, got %d", s.Interval)
	}
	if s.Count < 0 {
		return invalid("count", "must not be negative, got %d", s.Count)
	}
	if s.StartDate != nil && !s.StartDate.Valid() {
		return invalid("start_date", "%s is not a calendar date", s.StartDate)
	}
	if s.EndDate != nil && !s.EndDate.Valid() {
		return invalid("end_date", "%s is not a calendar date", s.EndDate)
	}
	if s.StartTime != nil && !s.StartTime.Valid() {
		return invalid("start_time", "out of range")
	}
	if s.EndTime != nil && !s.EndTime.Valid() {
		return invalid("end_time", "out of range")
	}
	if !s.WeekStart.Valid() {
		return invalid("week_start", "unknown weekday %d", int(s.WeekStart))
	}
	for _, w := range s.ByWeekday {
		if !w.Day.Valid() {
			return invalid("by_weekday", "unknown weekday %d", int(w.Day))
		}
		if w.N < -53 || w.N > 53 {
			return invalid("by_weekday", "ordinal %d out of range", w.N)
		}
	}

	checks := []struct {
		field     string
		values    []int
		lo, hi    int
		plusMinus bool
	}{
		{"by_month_day", s.ByMonthDay, 1, 31, true},
		{"by_month", s.ByMonth, 1, 12, false},
		{"by_year_day", s.ByYearDay, 1, 366, true},
		{"by_week_number", s.ByWeekNumber, 1, 53, true},
		{"by_hour", s.ByHour, 0, 23, false},
		{"by_minute", s.ByMinute, 0, 59, false},
		{"by_second", s.BySecond, 0, 59, false},
		{"by_set_position", s.BySetPosition, 1, 31, true},
	}
	for _, c := range checks {
		for _, v := range c.values {
			inRange := v >= c.lo && v <= c.hi
			if c.plusMinus && v <= -c.lo && v >= -c.hi {
				inRange = true
			}
			if !inRange {
				return invalid(c.field, "value %d out of range", v)
			}
		}
	}
	return nil
}

// options builds the rule-engine options. until overrides the spec's own end
// bound when non-zero; callers pass the earlier of the two.
func (s *Spec) options(dtstart, until time.Time) rrule.ROption {
	interval := s.Interval
	if interval == 0 {
		interval = 1
	}
	opt := rrule.ROption{
		Freq:       s.Frequency.rrule(),
		Dtstart:    dtstart,
		Interval:   interval,
		Wkst:       s.WeekStart.rrule(),
		Count:      s.Count,
		Until:      until,
		Bysetpos:   uniqueSorted(s.BySetPosition),
		Bymonth:    uniqueSorted(s.ByMonth),
		Bymonthday: uniqueSorted(s.ByMonthDay),
		Byyearday:  uniqueSorted(s.ByYearDay),
		Byweekno:   uniqueSorted(s.ByWeekNumber),
		Byhour:     uniqueSorted(s.ByHour),
		Byminute:   uniqueSorted(s.ByMinute),
		Bysecond:   uniqueSorted(s.BySecond),
	}
	seen := make(map[WeekdayRule]bool, len(s.ByWeekday))
	for _, w := range s.ByWeekday {
		if seen[w] {
			continue
		}
		seen[w] = true
		opt.Byweekday = append(opt.Byweekday, w.rrule())
	}
	return opt
}

// uniqueSorted drops repeated filter values, which would otherwise be
// emitted as duplicate instants.
func uniqueSorted(values []int) []int {
	if len(values) == 0 {
		return nil
	}
	out := append([]int(nil), values...)
	slices.Sort(out)
	return slices.Compact(out)
}

// String renders the rule in RFC 5545 RRULE form without DTSTART, for logs
// and feeds.
func (s *Spec) String() string {
	if s == nil {
		return ""
	}
	until, _ := s.Until(time.UTC)
	opt := s.options(time.Time{}, until)
	return opt.RRuleString()
}
