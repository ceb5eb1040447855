package recurrence

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Mode selects how a rule expands into dates.
type Mode string

const (
	ModeSingleDate      Mode = "single_date"
	ModeMultipleDates   Mode = "multiple_specific_dates"
	ModeRepeating       Mode = "repeating_pattern"
	ModeContinuousRange Mode = "continuous_date_range"
	ModeCustomAdvanced  Mode = "custom_advanced"
)

// Valid reports whether m is one of the supported modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeSingleDate, ModeMultipleDates, ModeRepeating, ModeContinuousRange, ModeCustomAdvanced:
		return true
	}
	return false
}

// IntervalUnit is the step size of a repeating pattern.
type IntervalUnit string

const (
	UnitDay   IntervalUnit = "day"
	UnitWeek  IntervalUnit = "week"
	UnitMonth IntervalUnit = "month"
)

func (u IntervalUnit) Valid() bool {
	return u == UnitDay || u == UnitWeek || u == UnitMonth
}

// EndMode chooses which companion field terminates a repeating pattern.
type EndMode string

const (
	EndNever            EndMode = "never"
	EndUntilDate        EndMode = "until_date"
	EndAfterOccurrences EndMode = "after_occurrences"
)

func (m EndMode) Valid() bool {
	return m == EndNever || m == EndUntilDate || m == EndAfterOccurrences
}

// Rule is the temporal shape of a schedule rule. Dates and times are
// zone-naive and interpreted against Timezone.
type Rule struct {
	ID             string         `json:"id,omitempty"`
	Mode           Mode           `json:"mode"`
	Timezone       string         `json:"timezone"`
	StartDate      Date           `json:"start_date"`
	EndDate        Date           `json:"end_date,omitempty"`
	StartTime      *LocalTime     `json:"start_time,omitempty"`
	EndTime        *LocalTime     `json:"end_time,omitempty"`
	IntervalCount  int            `json:"interval_count,omitempty"`
	IntervalUnit   IntervalUnit   `json:"interval_unit,omitempty"`
	ByWeekday      []time.Weekday `json:"by_weekday,omitempty"`
	ByMonthday     []int          `json:"by_monthday,omitempty"`
	EndMode        EndMode        `json:"end_mode,omitempty"`
	UntilDate      Date           `json:"until_date,omitempty"`
	MaxOccurrences int            `json:"max_occurrences,omitempty"`
	Config         ModeConfig     `json:"-"`
}

// Normalize fills defaults, sorts and dedupes the weekday and monthday sets,
// and clears the end-mode companion that the end mode does not select.
func (r Rule) Normalize() Rule {
	if r.IntervalCount <= 0 {
		r.IntervalCount = 1
	}
	if r.IntervalUnit == "" {
		r.IntervalUnit = UnitDay
		if len(r.ByWeekday) > 0 {
			r.IntervalUnit = UnitWeek
		}
	}
	if r.EndMode == "" {
		r.EndMode = EndNever
		switch {
		case !r.UntilDate.IsZero():
			r.EndMode = EndUntilDate
		case r.MaxOccurrences > 0:
			r.EndMode = EndAfterOccurrences
		}
	}
	switch r.EndMode {
	case EndUntilDate:
		r.MaxOccurrences = 0
	case EndAfterOccurrences:
		r.UntilDate = Date{}
	case EndNever:
		r.MaxOccurrences = 0
		r.UntilDate = Date{}
	}
	r.ByWeekday = sortedUnique(r.ByWeekday)
	r.ByMonthday = sortedUnique(r.ByMonthday)
	if r.Config != nil {
		r.Config = r.Config.normalized()
	}
	return r
}

type ruleJSON struct {
	ruleAlias
	Config json.RawMessage `json:"config,omitempty"`
}

type ruleAlias Rule

// MarshalJSON writes the rule with its mode config under "config".
func (r Rule) MarshalJSON() ([]byte, error) {
	raw, err := EncodeConfig(r.Config)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ruleJSON{ruleAlias: ruleAlias(r), Config: raw})
}

// UnmarshalJSON decodes "config" into the variant selected by "mode".
func (r *Rule) UnmarshalJSON(data []byte) error {
	var aux ruleJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	cfg, err := DecodeConfig(aux.Mode, aux.Config)
	if err != nil {
		return fmt.Errorf("recurrence: decode config: %w", err)
	}
	*r = Rule(aux.ruleAlias)
	r.Config = cfg
	return nil
}

// GeneratedOccurrence is one dated instance implied by a rule.
type GeneratedOccurrence struct {
	SourceKey      string     `json:"source_key"`
	RuleID         string     `json:"rule_id"`
	Timezone       string     `json:"timezone"`
	LocalDate      Date       `json:"local_date"`
	LocalStartTime *LocalTime `json:"local_start_time,omitempty"`
	LocalEndTime   *LocalTime `json:"local_end_time,omitempty"`
	StartsAt       time.Time  `json:"starts_at_utc"`
	EndsAt         time.Time  `json:"ends_at_utc"`
}

func sortedUnique[T cmp.Ordered](values []T) []T {
	if len(values) == 0 {
		return nil
	}
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}
