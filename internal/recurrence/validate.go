package recurrence

import (
	"fmt"
	"time"
)

// FieldError describes one invalid rule field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// maxRuleSpanDays bounds the distance between a rule's first and last
// possible date, whatever its end mode.
const maxRuleSpanDays = 3660

// Validate reports every problem that would stop rule from expanding.
// A nil result means Generate will accept the rule.
func Validate(rule Rule) []FieldError {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !rule.Mode.Valid() {
		add("mode", "must be one of single_date, multiple_specific_dates, repeating_pattern, continuous_date_range, custom_advanced")
	}
	if rule.Timezone == "" {
		add("timezone", "is required")
	} else if _, err := LoadLocation(rule.Timezone); err != nil {
		add("timezone", "%q is not a known IANA time zone", rule.Timezone)
	}

	switch rule.Mode {
	case ModeSingleDate, ModeMultipleDates:
		if rule.StartDate.IsZero() && len(configDates(rule.Config)) == 0 {
			add("dates", "at least one date is required")
		}
	case ModeCustomAdvanced:
		adv, _ := rule.Config.(AdvancedConfig)
		if rule.StartDate.IsZero() && len(adv.Dates) == 0 {
			add("start_date", "is required when no explicit dates are given")
		}
		if adv.RRule != "" {
			if _, err := parseRRule(adv.RRule, rule.StartDate.midnight()); err != nil {
				add("config.rrule", "%v", err)
			}
		}
		for _, day := range adv.ByMonthday {
			if day < 1 || day > 31 {
				add("config.by_monthday", "day %d is outside 1-31", day)
			}
		}
	case ModeRepeating, ModeContinuousRange:
		if rule.StartDate.IsZero() {
			add("start_date", "is required")
		}
	}

	if rule.Mode == ModeContinuousRange && rule.EndDate.IsZero() {
		add("end_date", "is required for a continuous date range")
	}
	if !rule.EndDate.IsZero() && !rule.StartDate.IsZero() {
		if rule.EndDate.Before(rule.StartDate) {
			add("end_date", "must not be before start_date")
		} else if rule.EndDate.DaysSince(rule.StartDate) > maxRuleSpanDays {
			add("end_date", "must be within %d days of start_date", maxRuleSpanDays)
		}
	}

	if rule.IntervalCount < 0 {
		add("interval_count", "must be positive")
	}
	if rule.IntervalUnit != "" && !rule.IntervalUnit.Valid() {
		add("interval_unit", "must be one of day, week, month")
	}
	for _, wd := range rule.ByWeekday {
		if wd < time.Sunday || wd > time.Saturday {
			add("by_weekday", "weekday %d is outside 0-6", int(wd))
		}
	}
	for _, day := range rule.ByMonthday {
		if day < 1 || day > 31 {
			add("by_monthday", "day %d is outside 1-31", day)
		}
	}

	if rule.EndMode != "" && !rule.EndMode.Valid() {
		add("end_mode", "must be one of never, until_date, after_occurrences")
	}
	switch rule.EndMode {
	case EndUntilDate:
		if rule.UntilDate.IsZero() {
			add("until_date", "is required when end_mode is until_date")
		} else if !rule.StartDate.IsZero() && rule.UntilDate.Before(rule.StartDate) {
			add("until_date", "must not be before start_date")
		}
	case EndAfterOccurrences:
		if rule.MaxOccurrences <= 0 {
			add("max_occurrences", "must be positive when end_mode is after_occurrences")
		}
	}
	if rule.MaxOccurrences < 0 {
		add("max_occurrences", "must not be negative")
	}
	return errs
}
