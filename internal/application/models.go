package application

import (
	"encoding/json"

	"github.com/example/program-scheduler/internal/persistence"
)

// Scope addresses one program within one organization. Every operation is
// scoped; a program owned by another organization is reported as not found.
type Scope struct {
	OrganizationID string `json:"organization_id" validate:"required"`
	ProgramID      string `json:"program_id" validate:"required"`
}

func (s Scope) lockKey() string {
	return s.OrganizationID + "/" + s.ProgramID
}

// RuleInput captures caller provided rule fields. Dates use YYYY-MM-DD and
// times use HH:MM. A rule id may not contain ':', the separator of
// occurrence source keys.
type RuleInput struct {
	ID               string          `json:"id" validate:"omitempty,max=128,excludes=:"`
	ExpectedRuleHash string          `json:"expected_rule_hash" validate:"omitempty,hexadecimal"`
	ProgramNodeID    *string         `json:"program_node_id" validate:"omitempty,min=1,max=128"`
	Title            string          `json:"title" validate:"max=200"`
	Mode             string          `json:"mode" validate:"required,oneof=single_date multiple_specific_dates repeating_pattern continuous_date_range custom_advanced"`
	Timezone         string          `json:"timezone" validate:"required,timezone"`
	StartDate        string          `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate          string          `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	StartTime        string          `json:"start_time"`
	EndTime          string          `json:"end_time"`
	IntervalCount    int             `json:"interval_count" validate:"gte=0,lte=366"`
	IntervalUnit     string          `json:"interval_unit" validate:"omitempty,oneof=day week month"`
	ByWeekday        []int           `json:"by_weekday" validate:"omitempty,max=7,dive,gte=0,lte=6"`
	ByMonthday       []int           `json:"by_monthday" validate:"omitempty,max=31,dive,gte=1,lte=31"`
	EndMode          string          `json:"end_mode" validate:"omitempty,oneof=never until_date after_occurrences"`
	UntilDate        string          `json:"until_date" validate:"omitempty,datetime=2006-01-02"`
	MaxOccurrences   int             `json:"max_occurrences" validate:"gte=0,lte=1000"`
	Dates            []string        `json:"dates" validate:"omitempty,max=1000,dive,datetime=2006-01-02"`
	RRule            string          `json:"rrule" validate:"max=512"`
	Config           json.RawMessage `json:"config"`
}

// OccurrenceInput captures the local fields of a manual or edited occurrence.
type OccurrenceInput struct {
	ProgramNodeID  *string `json:"program_node_id" validate:"omitempty,min=1,max=128"`
	Title          string  `json:"title" validate:"max=200"`
	Timezone       string  `json:"timezone" validate:"required,timezone"`
	LocalDate      string  `json:"local_date" validate:"required,datetime=2006-01-02"`
	LocalStartTime string  `json:"local_start_time"`
	LocalEndTime   string  `json:"local_end_time"`
}

// ReadModel is the snapshot of one program's schedule returned after every operation.
type ReadModel struct {
	Rules       []persistence.ScheduleRule
	Occurrences []persistence.Occurrence
	Exceptions  []persistence.ScheduleException
}

// MutationResult carries the id an operation produced alongside the refreshed read model.
type MutationResult struct {
	ID        string
	ReadModel ReadModel
}

// TimelineSource reports which representation a timeline was built from.
type TimelineSource string

const (
	TimelineV2     TimelineSource = "v2"
	TimelineLegacy TimelineSource = "legacy"
)

// Timeline is the read shape served while programs migrate off legacy blocks.
type Timeline struct {
	Source      TimelineSource
	Occurrences []persistence.Occurrence
}

// UpsertRuleParams wraps the data required to save a rule.
type UpsertRuleParams struct {
	Scope Scope
	Input RuleInput
}

// DeleteRuleParams identifies the rule to delete.
type DeleteRuleParams struct {
	Scope  Scope
	RuleID string
}

// AddOccurrenceParams wraps a manual occurrence to insert.
type AddOccurrenceParams struct {
	Scope Scope
	Input OccurrenceInput
}

// UpdateOccurrenceParams wraps the new local fields of an occurrence.
type UpdateOccurrenceParams struct {
	Scope        Scope
	OccurrenceID string
	Input        OccurrenceInput
}

// SkipOccurrenceParams identifies the occurrence to skip.
type SkipOccurrenceParams struct {
	Scope        Scope
	OccurrenceID string
}

// RestoreOccurrenceParams identifies the logical session to restore. An
// empty RuleID restores a skipped manual occurrence by its source key.
type RestoreOccurrenceParams struct {
	Scope     Scope
	RuleID    string
	SourceKey string
}

// ReadModelParams selects what the read model includes.
type ReadModelParams struct {
	Scope            Scope
	IncludeCancelled bool
}
