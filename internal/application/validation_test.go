package application

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/program-scheduler/internal/recurrence"
)

func weeklyInput() RuleInput {
	return RuleInput{
		Mode:         "repeating_pattern",
		Timezone:     "UTC",
		StartDate:    "2024-01-01",
		StartTime:    "09:00",
		EndTime:      "10:00",
		IntervalUnit: "week",
		ByWeekday:    []int{3, 1, 1},
		EndMode:      "until_date",
		UntilDate:    "2024-02-15",
	}
}

func TestBuildRuleNormalizes(t *testing.T) {
	t.Parallel()

	rule, vErr := buildRule(weeklyInput())
	require.Nil(t, vErr)

	assert.Equal(t, recurrence.ModeRepeating, rule.Mode)
	assert.Equal(t, 1, rule.IntervalCount)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, rule.ByWeekday)
	assert.Equal(t, recurrence.MustParseDate("2024-02-15"), rule.UntilDate)
	require.NotNil(t, rule.StartTime)
	assert.Equal(t, "09:00", rule.StartTime.String())
}

func TestBuildRuleReportsFieldErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*RuleInput)
		field  string
	}{
		{name: "missing mode", mutate: func(in *RuleInput) { in.Mode = "" }, field: "mode"},
		{name: "unknown mode", mutate: func(in *RuleInput) { in.Mode = "fortnightly" }, field: "mode"},
		{name: "unknown zone", mutate: func(in *RuleInput) { in.Timezone = "Mars/Olympus" }, field: "timezone"},
		{name: "bad start date", mutate: func(in *RuleInput) { in.StartDate = "01/02/2024" }, field: "start_date"},
		{name: "bad start time", mutate: func(in *RuleInput) { in.StartTime = "9am" }, field: "start_time"},
		{name: "weekday out of range", mutate: func(in *RuleInput) { in.ByWeekday = []int{7} }, field: "by_weekday"},
		{name: "monthday out of range", mutate: func(in *RuleInput) { in.ByMonthday = []int{0} }, field: "by_monthday"},
		{name: "until before start", mutate: func(in *RuleInput) { in.UntilDate = "2023-12-31" }, field: "until_date"},
		{name: "until missing", mutate: func(in *RuleInput) { in.UntilDate = "" }, field: "until_date"},
		{name: "after occurrences without count", mutate: func(in *RuleInput) { in.EndMode = "after_occurrences" }, field: "max_occurrences"},
		{name: "dates on a pattern", mutate: func(in *RuleInput) { in.Dates = []string{"2024-01-03"} }, field: "dates"},
		{name: "rrule on a pattern", mutate: func(in *RuleInput) { in.RRule = "FREQ=DAILY" }, field: "rrule"},
		{name: "bad hash", mutate: func(in *RuleInput) { in.ExpectedRuleHash = "not-hex" }, field: "expected_rule_hash"},
		{name: "id with key separator", mutate: func(in *RuleInput) { in.ID = "override:rule-1" }, field: "id"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			input := weeklyInput()
			tc.mutate(&input)
			_, vErr := buildRule(input)
			require.NotNil(t, vErr)
			assert.Contains(t, vErr.FieldErrors, tc.field, "errors: %v", vErr.FieldErrors)
		})
	}
}

func TestBuildRuleDateListModes(t *testing.T) {
	t.Parallel()

	rule, vErr := buildRule(RuleInput{
		Mode:     "multiple_specific_dates",
		Timezone: "UTC",
		Dates:    []string{"2024-05-03", "2024-05-01", "2024-05-03"},
	})
	require.Nil(t, vErr)
	cfg, ok := rule.Config.(recurrence.DateListConfig)
	require.True(t, ok, "expected date list config, got %T", rule.Config)
	assert.Equal(t, []recurrence.Date{
		recurrence.MustParseDate("2024-05-01"),
		recurrence.MustParseDate("2024-05-03"),
	}, cfg.Dates)

	_, vErr = buildRule(RuleInput{
		Mode:     "single_date",
		Timezone: "UTC",
		Dates:    []string{"2024-05-01", "2024-05-02"},
	})
	require.NotNil(t, vErr)
	assert.Contains(t, vErr.FieldErrors, "dates")

	_, vErr = buildRule(RuleInput{Mode: "single_date", Timezone: "UTC"})
	require.NotNil(t, vErr)
	assert.Contains(t, vErr.FieldErrors, "dates")
}

func TestBuildRuleAdvancedConfig(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(map[string]any{"by_monthday": []int{15}})
	require.NoError(t, err)

	rule, vErr := buildRule(RuleInput{
		Mode:      "custom_advanced",
		Timezone:  "UTC",
		StartDate: "2024-01-01",
		RRule:     "FREQ=DAILY;COUNT=40",
		Config:    raw,
	})
	require.Nil(t, vErr)
	cfg, ok := rule.Config.(recurrence.AdvancedConfig)
	require.True(t, ok, "expected advanced config, got %T", rule.Config)
	assert.Equal(t, "FREQ=DAILY;COUNT=40", cfg.RRule)
	assert.Equal(t, []int{15}, cfg.ByMonthday)

	_, vErr = buildRule(RuleInput{
		Mode:      "custom_advanced",
		Timezone:  "UTC",
		StartDate: "2024-01-01",
		RRule:     "FREQ=SOMETIMES",
	})
	require.NotNil(t, vErr)
	assert.Contains(t, vErr.FieldErrors, "config.rrule")
}

func TestBuildOccurrenceWindow(t *testing.T) {
	t.Parallel()

	window, vErr := buildOccurrenceWindow(OccurrenceInput{
		Timezone:       "UTC",
		LocalDate:      "2024-05-01",
		LocalStartTime: "18:00",
	})
	require.Nil(t, vErr)
	assert.Equal(t, recurrence.MustParseDate("2024-05-01"), window.date)
	require.NotNil(t, window.startTime)
	assert.Nil(t, window.endTime)

	_, vErr = buildOccurrenceWindow(OccurrenceInput{LocalDate: "2024-13-01", LocalEndTime: "25:00"})
	require.NotNil(t, vErr)
	assert.Contains(t, vErr.FieldErrors, "timezone")
	assert.Contains(t, vErr.FieldErrors, "local_date")
	assert.Contains(t, vErr.FieldErrors, "local_end_time")
}
