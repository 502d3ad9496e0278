/*
Package factory converts schedule documents into recurrence specs.

PURPOSE:
  Schedules arrive as JSON (HTTP API, database column) or YAML (scenario
  files, hand-written fixtures). The factory turns those documents into a
  validated recurrence.Spec and back, so the rest of the system never deals
  with loosely typed input.

JSON SCHEMA:
  {
    "name": "Weekday standup",
    "freq": "weekly",             // name or stored integer ("2")
    "interval": 1,                // whole number >= 1
    "count": 10,                  // optional, whole number >= 1
    "by_week_day": ["MO", "WE", "+1FR"],
    "by_month_day": [1, 15],
    "by_month": [1, 6],
    "by_year_day": [100],
    "by_week_no": [20],
    "by_hour": [9],
    "by_minute": [30],
    "by_second": [0],
    "by_set_position": [-1],
    "start_date": "2025-01-06",
    "start_time": "09:30",
    "end_date": "2025-06-30",
    "end_time": "18:00",
    "week_start": "MO"            // code, day name or integer 0-6
  }

KEY FEATURES:
  - Interval and count are decimals in storage and must be whole numbers
  - Field-named InvalidSpecError on every rejection
  - The same document shape works for JSON and YAML

USAGE:
  f := NewScheduleFactory()
  spec, err := f.ParseSchedule(data)
  doc := f.ToJSON(spec)

SEE ALSO:
  - recurrence/spec.go: Spec and its validation
  - store/sqlite: schedules are persisted as these documents
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/lifeplan/planner/recurrence"
)

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// ScheduleJSON is the document form of a schedule.
type ScheduleJSON struct {
	Name          string   `json:"name,omitempty" yaml:"name,omitempty"`
	Frequency     string   `json:"freq" yaml:"freq"`
	Interval      *Number  `json:"interval,omitempty" yaml:"interval,omitempty"`
	Count         *Number  `json:"count,omitempty" yaml:"count,omitempty"`
	ByWeekday     []string `json:"by_week_day,omitempty" yaml:"by_week_day,omitempty"`
	ByMonthDay    []int    `json:"by_month_day,omitempty" yaml:"by_month_day,omitempty"`
	ByMonth       []int    `json:"by_month,omitempty" yaml:"by_month,omitempty"`
	ByYearDay     []int    `json:"by_year_day,omitempty" yaml:"by_year_day,omitempty"`
	ByWeekNumber  []int    `json:"by_week_no,omitempty" yaml:"by_week_no,omitempty"`
	ByHour        []int    `json:"by_hour,omitempty" yaml:"by_hour,omitempty"`
	ByMinute      []int    `json:"by_minute,omitempty" yaml:"by_minute,omitempty"`
	BySecond      []int    `json:"by_second,omitempty" yaml:"by_second,omitempty"`
	BySetPosition []int    `json:"by_set_position,omitempty" yaml:"by_set_position,omitempty"`
	StartDate     string   `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	StartTime     string   `json:"start_time,omitempty" yaml:"start_time,omitempty"`
	EndDate       string   `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	EndTime       string   `json:"end_time,omitempty" yaml:"end_time,omitempty"`
	WeekStart     string   `json:"week_start,omitempty" yaml:"week_start,omitempty"`
}

// Number is a decimal accepting bare or quoted numbers in JSON and YAML.
type Number struct {
	decimal.Decimal
}

func NewNumber(n int) *Number {
	return &Number{Decimal: decimal.NewFromInt(int64(n))}
}

func (n *Number) UnmarshalYAML(value *yaml.Node) error {
	d, err := decimal.NewFromString(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("line %d: %q is not a number", value.Line, value.Value)
	}
	n.Decimal = d
	return nil
}

func (n Number) MarshalYAML() (interface{}, error) {
	if n.IsInteger() {
		return n.IntPart(), nil
	}
	return n.InexactFloat64(), nil
}

// MarshalJSON writes a bare number.
func (n Number) MarshalJSON() ([]byte, error) {
	return []byte(n.String()), nil
}

// =============================================================================
// SCHEDULE FACTORY
// =============================================================================

// ScheduleFactory converts schedule documents to recurrence specs.
type ScheduleFactory struct{}

// NewScheduleFactory creates a new schedule factory.
func NewScheduleFactory() *ScheduleFactory {
	return &ScheduleFactory{}
}

// ParseSchedule parses a JSON document into a validated spec.
func (f *ScheduleFactory) ParseSchedule(data []byte) (*recurrence.Spec, error) {
	var sj ScheduleJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return nil, fmt.Errorf("failed to parse schedule JSON: %w", err)
	}
	return f.FromJSON(sj)
}

// ParseScheduleYAML parses a YAML document into a validated spec.
func (f *ScheduleFactory) ParseScheduleYAML(data []byte) (*recurrence.Spec, error) {
	var sj ScheduleJSON
	if err := yaml.Unmarshal(data, &sj); err != nil {
		return nil, fmt.Errorf("failed to parse schedule YAML: %w", err)
	}
	return f.FromJSON(sj)
}

// Unmarshal decodes a stored JSON document without range validation, so a
// rule saved before a validation change still loads and fails at expansion.
func (f *ScheduleFactory) Unmarshal(data []byte) (*recurrence.Spec, error) {
	var sj ScheduleJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return nil, fmt.Errorf("failed to parse schedule JSON: %w", err)
	}
	return f.convert(sj)
}

// FromJSON converts a document into a spec and validates it.
func (f *ScheduleFactory) FromJSON(sj ScheduleJSON) (*recurrence.Spec, error) {
	spec, err := f.convert(sj)
	if err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func (f *ScheduleFactory) convert(sj ScheduleJSON) (*recurrence.Spec, error) {
	spec := &recurrence.Spec{
		ByMonthDay:    sj.ByMonthDay,
		ByMonth:       sj.ByMonth,
		ByYearDay:     sj.ByYearDay,
		ByWeekNumber:  sj.ByWeekNumber,
		ByHour:        sj.ByHour,
		ByMinute:      sj.ByMinute,
		BySecond:      sj.BySecond,
		BySetPosition: sj.BySetPosition,
	}

	var err error
	if spec.Frequency, err = parseFrequency(sj.Frequency); err != nil {
		return nil, err
	}
	if spec.Interval, err = wholeNumber("interval", sj.Interval, 1); err != nil {
		return nil, err
	}
	if spec.Count, err = wholeNumber("count", sj.Count, 0); err != nil {
		return nil, err
	}

	for _, s := range sj.ByWeekday {
		rule, err := recurrence.ParseWeekdayRule(s)
		if err != nil {
			return nil, err
		}
		spec.ByWeekday = append(spec.ByWeekday, rule)
	}

	if spec.StartDate, err = parseDate("start_date", sj.StartDate); err != nil {
		return nil, err
	}
	if spec.EndDate, err = parseDate("end_date", sj.EndDate); err != nil {
		return nil, err
	}
	if spec.StartTime, err = parseClock("start_time", sj.StartTime); err != nil {
		return nil, err
	}
	if spec.EndTime, err = parseClock("end_time", sj.EndTime); err != nil {
		return nil, err
	}
	if spec.WeekStart, err = parseWeekStart(sj.WeekStart); err != nil {
		return nil, err
	}
	return spec, nil
}

// ToJSON converts a spec to its document form.
func (f *ScheduleFactory) ToJSON(spec *recurrence.Spec) ScheduleJSON {
	sj := ScheduleJSON{
		Frequency:     spec.Frequency.String(),
		Interval:      NewNumber(max(spec.Interval, 1)),
		ByMonthDay:    spec.ByMonthDay,
		ByMonth:       spec.ByMonth,
		ByYearDay:     spec.ByYearDay,
		ByWeekNumber:  spec.ByWeekNumber,
		ByHour:        spec.ByHour,
		ByMinute:      spec.ByMinute,
		BySecond:      spec.BySecond,
		BySetPosition: spec.BySetPosition,
	}
	if spec.Count > 0 {
		sj.Count = NewNumber(spec.Count)
	}
	for _, w := range spec.ByWeekday {
		sj.ByWeekday = append(sj.ByWeekday, w.String())
	}
	if spec.StartDate != nil {
		sj.StartDate = spec.StartDate.String()
	}
	if spec.EndDate != nil {
		sj.EndDate = spec.EndDate.String()
	}
	if spec.StartTime != nil {
		sj.StartTime = spec.StartTime.String()
	}
	if spec.EndTime != nil {
		sj.EndTime = spec.EndTime.String()
	}
	if spec.WeekStart != recurrence.Monday {
		sj.WeekStart = spec.WeekStart.String()
	}
	return sj
}

// Marshal renders a spec as a JSON document.
func (f *ScheduleFactory) Marshal(spec *recurrence.Spec) ([]byte, error) {
	return json.Marshal(f.ToJSON(spec))
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseFrequency(s string) (recurrence.Frequency, error) {
	if strings.TrimSpace(s) == "" {
		return recurrence.Daily, nil
	}
	return recurrence.ParseFrequency(s)
}

// wholeNumber accepts 2 and 2.00 but not 2.5. A missing value yields def.
func wholeNumber(field string, n *Number, def int) (int, error) {
	if n == nil {
		return def, nil
	}
	if !n.IsInteger() {
		return 0, &recurrence.InvalidSpecError{Field: field, Reason: fmt.Sprintf("%s is not a whole number", n.String())}
	}
	if n.LessThan(decimal.NewFromInt(1)) {
		return 0, &recurrence.InvalidSpecError{Field: field, Reason: "must be at least 1"}
	}
	return int(n.IntPart()), nil
}

func parseDate(field, s string) (*recurrence.Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := recurrence.ParseDate(s)
	if err != nil {
		return nil, &recurrence.InvalidSpecError{Field: field, Reason: fmt.Sprintf("%q is not YYYY-MM-DD", s)}
	}
	return &d, nil
}

func parseClock(field, s string) (*recurrence.Clock, error) {
	if s == "" {
		return nil, nil
	}
	c, err := recurrence.ParseClock(s)
	if err != nil {
		return nil, &recurrence.InvalidSpecError{Field: field, Reason: fmt.Sprintf("%q is not HH:MM[:SS]", s)}
	}
	return &c, nil
}

func parseWeekStart(s string) (recurrence.Weekday, error) {
	if s == "" {
		return recurrence.Monday, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if d := recurrence.Weekday(n); d.Valid() {
			return d, nil
		}
	}
	d, err := recurrence.ParseWeekday(s)
	if err != nil {
		return 0, &recurrence.InvalidSpecError{Field: "week_start", Reason: fmt.Sprintf("unknown weekday %q", s)}
	}
	return d, nil
}
