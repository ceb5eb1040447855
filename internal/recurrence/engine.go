package recurrence

import (
	"errors"
	"slices"
	"strings"
	"time"
)

// DefaultHorizonMonths is how far past its start date a rule without an end
// keeps generating.
const DefaultHorizonMonths = 18

var (
	defaultStartTime = LocalTime{Hour: 0, Minute: 0}
	defaultEndTime   = LocalTime{Hour: 23, Minute: 59}
)

// ErrInvalidRule indicates the rule failed validation; errors.As with
// *InvalidRuleError exposes the individual fields.
var ErrInvalidRule = errors.New("recurrence: invalid rule")

// ErrMissingRuleID indicates a rule was expanded before it had an identity.
var ErrMissingRuleID = errors.New("recurrence: rule id is required to derive source keys")

// InvalidRuleError lists every field that made a rule unusable.
type InvalidRuleError struct {
	Fields []FieldError
}

func (e *InvalidRuleError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return ErrInvalidRule.Error() + ": " + strings.Join(parts, "; ")
}

func (e *InvalidRuleError) Is(target error) bool {
	return target == ErrInvalidRule
}

// Engine expands schedule rules into dated occurrences.
type Engine struct {
	horizonMonths int
}

// Option configures an Engine.
type Option func(*Engine)

// WithHorizonMonths overrides the look-ahead used by rules that never end.
func WithHorizonMonths(months int) Option {
	return func(e *Engine) {
		if months > 0 {
			e.horizonMonths = months
		}
	}
}

// NewEngine constructs an Engine with the 18-month horizon unless overridden.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{horizonMonths: DefaultHorizonMonths}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Horizon returns the last date a never-ending rule starting on start may produce.
func (e *Engine) Horizon(start Date) Date {
	return start.AddMonths(e.horizonMonths)
}

// Generate expands rule into its occurrences ordered by date.
//
// The engine enforces the following semantics:
//   - Output depends only on the rule content; the same rule always yields the
//     same dates and the same source keys.
//   - Absent start and end times default to 00:00 and 23:59 local time.
//   - An end instant that is not after the start instant becomes start + 1h.
//   - Rules that never end stop at the engine horizon, and no rule produces
//     dates more than maxRuleSpanDays after its first date.
func (e *Engine) Generate(rule Rule) ([]GeneratedOccurrence, error) {
	if strings.TrimSpace(rule.ID) == "" {
		return nil, ErrMissingRuleID
	}
	if fields := Validate(rule); len(fields) > 0 {
		return nil, &InvalidRuleError{Fields: fields}
	}
	rule = rule.Normalize()
	loc, err := LoadLocation(rule.Timezone)
	if err != nil {
		return nil, err
	}

	dates, err := e.dates(rule)
	if err != nil {
		return nil, err
	}

	occurrences := make([]GeneratedOccurrence, 0, len(dates))
	for _, date := range dates {
		startsAt, endsAt := Window(date, rule.StartTime, rule.EndTime, loc)
		occurrences = append(occurrences, GeneratedOccurrence{
			SourceKey:      SourceKey(rule.ID, date),
			RuleID:         rule.ID,
			Timezone:       rule.Timezone,
			LocalDate:      date,
			LocalStartTime: cloneTime(rule.StartTime),
			LocalEndTime:   cloneTime(rule.EndTime),
			StartsAt:       startsAt,
			EndsAt:         endsAt,
		})
	}
	return occurrences, nil
}

// Window converts a local date and optional time window into UTC instants.
func Window(date Date, start, end *LocalTime, loc *time.Location) (time.Time, time.Time) {
	st, et := defaultStartTime, defaultEndTime
	if start != nil {
		st = *start
	}
	if end != nil {
		et = *end
	}
	startsAt := ResolveLocal(date, st, loc)
	endsAt := ResolveLocal(date, et, loc)
	if !endsAt.After(startsAt) {
		endsAt = startsAt.Add(time.Hour)
	}
	return startsAt, endsAt
}

func (e *Engine) dates(rule Rule) ([]Date, error) {
	switch rule.Mode {
	case ModeSingleDate:
		if !rule.StartDate.IsZero() {
			return []Date{rule.StartDate}, nil
		}
		return configDates(rule.Config)[:1], nil
	case ModeMultipleDates:
		if dates := configDates(rule.Config); len(dates) > 0 {
			return dates, nil
		}
		return []Date{rule.StartDate}, nil
	case ModeContinuousRange:
		var out []Date
		for d := rule.StartDate; !d.After(rule.EndDate); d = d.AddDays(1) {
			out = append(out, d)
		}
		return out, nil
	case ModeRepeating:
		return e.repeatingDates(rule), nil
	case ModeCustomAdvanced:
		return e.advancedDates(rule)
	}
	return nil, &InvalidRuleError{Fields: []FieldError{{Field: "mode", Message: "unsupported mode " + string(rule.Mode)}}}
}

// lastDate is the inclusive upper bound for modes that step through a calendar.
func (e *Engine) lastDate(rule Rule, first Date) Date {
	last := first.AddDays(maxRuleSpanDays)
	switch rule.EndMode {
	case EndNever:
		if horizon := e.Horizon(first); horizon.Before(last) {
			last = horizon
		}
	case EndUntilDate:
		if rule.UntilDate.Before(last) {
			last = rule.UntilDate
		}
	}
	if !rule.EndDate.IsZero() && rule.EndDate.Before(last) {
		last = rule.EndDate
	}
	return last
}

func (e *Engine) repeatingDates(rule Rule) []Date {
	start := rule.StartDate
	last := e.lastDate(rule, start)

	weekdays := rule.ByWeekday
	if len(weekdays) == 0 {
		weekdays = []time.Weekday{start.Weekday()}
	}
	monthdays := rule.ByMonthday
	if len(monthdays) == 0 {
		monthdays = []int{start.Day}
	}
	n := rule.IntervalCount

	var out []Date
	for d := start; !d.After(last); d = d.AddDays(1) {
		var match bool
		switch rule.IntervalUnit {
		case UnitDay:
			match = d.DaysSince(start)%n == 0
		case UnitWeek:
			match = slices.Contains(weekdays, d.Weekday()) && (d.DaysSince(start)/7)%n == 0
		case UnitMonth:
			match = slices.Contains(monthdays, d.Day) && d.MonthsSince(start)%n == 0
		}
		if !match {
			continue
		}
		out = append(out, d)
		if rule.EndMode == EndAfterOccurrences && len(out) >= rule.MaxOccurrences {
			break
		}
	}
	return out
}

func (e *Engine) advancedDates(rule Rule) ([]Date, error) {
	cfg, _ := rule.Config.(AdvancedConfig)
	dates := append([]Date(nil), cfg.Dates...)

	if cfg.RRule != "" {
		first := rule.StartDate
		if first.IsZero() {
			first = cfg.Dates[0]
		}
		expanded, err := expandRRule(cfg.RRule, first, e.lastDate(rule, first))
		if err != nil {
			return nil, &InvalidRuleError{Fields: []FieldError{{Field: "config.rrule", Message: err.Error()}}}
		}
		dates = append(dates, expanded...)
	}
	dates = sortedDates(dates)

	monthdays := cfg.ByMonthday
	if len(monthdays) == 0 {
		monthdays = rule.ByMonthday
	}
	out := dates[:0]
	for _, d := range dates {
		if len(monthdays) > 0 && !slices.Contains(monthdays, d.Day) {
			continue
		}
		if rule.EndMode == EndUntilDate && d.After(rule.UntilDate) {
			continue
		}
		out = append(out, d)
	}
	if rule.EndMode == EndAfterOccurrences && len(out) > rule.MaxOccurrences {
		out = out[:rule.MaxOccurrences]
	}
	return out, nil
}

func cloneTime(t *LocalTime) *LocalTime {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
