package application

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/program-scheduler/internal/recurrence"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct runs the validate tags of input and converts failures into
// field errors keyed by JSON field name.
func validateStruct(input any) *ValidationError {
	vErr := &ValidationError{}
	err := validate.Struct(input)
	if err == nil {
		return vErr
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		vErr.add("input", err.Error())
		return vErr
	}
	for _, fe := range fieldErrs {
		vErr.add(fieldName(fe), tagMessage(fe))
	}
	return vErr
}

// fieldName drops element indexes so "dates[3]" reports as "dates".
func fieldName(fe validator.FieldError) string {
	name := fe.Field()
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return name
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "timezone":
		return fmt.Sprintf("%q is not a known IANA time zone", fe.Value())
	case "datetime":
		return fmt.Sprintf("%v must use the %s layout", fe.Value(), layoutName(fe.Param()))
	case "excludes":
		return fmt.Sprintf("must not contain %q", fe.Param())
	case "hexadecimal":
		return "must be a hexadecimal hash"
	case "gte", "min":
		return "must be at least " + fe.Param()
	case "lte", "max":
		return "must be at most " + fe.Param()
	}
	return "is invalid"
}

func layoutName(layout string) string {
	if layout == "2006-01-02" {
		return "YYYY-MM-DD"
	}
	return layout
}

// buildRule turns validated input into a recurrence rule. Parsing failures
// and rule-level checks are reported together.
func buildRule(input RuleInput) (recurrence.Rule, *ValidationError) {
	vErr := validateStruct(input)

	rule := recurrence.Rule{
		ID:             strings.TrimSpace(input.ID),
		Mode:           recurrence.Mode(input.Mode),
		Timezone:       strings.TrimSpace(input.Timezone),
		IntervalCount:  input.IntervalCount,
		IntervalUnit:   recurrence.IntervalUnit(input.IntervalUnit),
		EndMode:        recurrence.EndMode(input.EndMode),
		MaxOccurrences: input.MaxOccurrences,
	}
	rule.StartDate = parseOptionalDate(vErr, "start_date", input.StartDate)
	rule.EndDate = parseOptionalDate(vErr, "end_date", input.EndDate)
	rule.UntilDate = parseOptionalDate(vErr, "until_date", input.UntilDate)
	rule.StartTime = parseOptionalTime(vErr, "start_time", input.StartTime)
	rule.EndTime = parseOptionalTime(vErr, "end_time", input.EndTime)
	for _, wd := range input.ByWeekday {
		rule.ByWeekday = append(rule.ByWeekday, time.Weekday(wd))
	}
	rule.ByMonthday = append(rule.ByMonthday, input.ByMonthday...)

	var dates []recurrence.Date
	for _, value := range input.Dates {
		if d, err := recurrence.ParseDate(value); err == nil {
			dates = append(dates, d)
		}
	}
	rule.Config = buildConfig(vErr, rule.Mode, input, dates)

	if vErr.HasErrors() {
		return recurrence.Rule{}, vErr
	}

	rule = rule.Normalize()
	for _, fe := range recurrence.Validate(rule) {
		vErr.add(fe.Field, fe.Message)
	}
	if vErr.HasErrors() {
		return recurrence.Rule{}, vErr
	}
	return rule, nil
}

// buildConfig picks the config variant for mode. Explicit dates and rrule
// fields take precedence over a raw config object.
func buildConfig(vErr *ValidationError, mode recurrence.Mode, input RuleInput, dates []recurrence.Date) recurrence.ModeConfig {
	var cfg recurrence.ModeConfig
	if len(input.Config) > 0 {
		decoded, err := recurrence.DecodeConfig(mode, input.Config)
		if err != nil {
			vErr.add("config", "is not valid for mode "+string(mode))
			return nil
		}
		cfg = decoded
	}

	switch mode {
	case recurrence.ModeSingleDate, recurrence.ModeMultipleDates:
		if input.RRule != "" {
			vErr.add("rrule", "is only allowed for custom_advanced rules")
		}
		if len(dates) > 0 {
			cfg = recurrence.DateListConfig{Dates: dates}
		}
		if mode == recurrence.ModeSingleDate {
			if list, ok := cfg.(recurrence.DateListConfig); ok && len(list.Dates) > 1 {
				vErr.add("dates", "a single_date rule takes exactly one date")
			}
		}
	case recurrence.ModeCustomAdvanced:
		adv, _ := cfg.(recurrence.AdvancedConfig)
		if len(dates) > 0 {
			adv.Dates = dates
		}
		if input.RRule != "" {
			adv.RRule = strings.TrimSpace(input.RRule)
		}
		if len(adv.Dates) > 0 || adv.RRule != "" || len(adv.ByMonthday) > 0 || len(adv.Extra) > 0 {
			cfg = adv
		}
	default:
		if len(dates) > 0 {
			vErr.add("dates", "is only allowed for date list and custom_advanced rules")
		}
		if input.RRule != "" {
			vErr.add("rrule", "is only allowed for custom_advanced rules")
		}
	}
	return cfg
}

// occurrenceWindow validates a manual or edited occurrence and resolves its instants.
type occurrenceWindow struct {
	timezone  string
	date      recurrence.Date
	startTime *recurrence.LocalTime
	endTime   *recurrence.LocalTime
}

func buildOccurrenceWindow(input OccurrenceInput) (occurrenceWindow, *ValidationError) {
	vErr := validateStruct(input)
	w := occurrenceWindow{timezone: strings.TrimSpace(input.Timezone)}
	w.date = parseOptionalDate(vErr, "local_date", input.LocalDate)
	w.startTime = parseOptionalTime(vErr, "local_start_time", input.LocalStartTime)
	w.endTime = parseOptionalTime(vErr, "local_end_time", input.LocalEndTime)
	if _, exists := vErr.FieldErrors["timezone"]; !exists && w.timezone != "" {
		if _, err := recurrence.LoadLocation(w.timezone); err != nil {
			vErr.add("timezone", fmt.Sprintf("%q is not a known IANA time zone", w.timezone))
		}
	}
	if vErr.HasErrors() {
		return occurrenceWindow{}, vErr
	}
	return w, nil
}

func parseOptionalDate(vErr *ValidationError, field, value string) recurrence.Date {
	value = strings.TrimSpace(value)
	if value == "" {
		return recurrence.Date{}
	}
	d, err := recurrence.ParseDate(value)
	if err != nil {
		vErr.add(field, "must use the YYYY-MM-DD layout")
		return recurrence.Date{}
	}
	return d
}

func parseOptionalTime(vErr *ValidationError, field, value string) *recurrence.LocalTime {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	t, err := recurrence.ParseLocalTime(value)
	if err != nil {
		vErr.add(field, "must use the HH:MM layout")
		return nil
	}
	return &t
}
