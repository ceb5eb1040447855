package persistence

import (
	"time"

	"github.com/example/program-scheduler/internal/recurrence"
)

// ScheduleVersion marks which schedule representation is authoritative for a program.
type ScheduleVersion string

const (
	ScheduleVersionLegacy     ScheduleVersion = "legacy"
	ScheduleVersionRuleEngine ScheduleVersion = "rule_engine"
)

// CanTransitionTo reports whether v may move to next. Only legacy to
// rule_engine is a real transition; staying put is always allowed.
func (v ScheduleVersion) CanTransitionTo(next ScheduleVersion) bool {
	return v == next || (v == ScheduleVersionLegacy && next == ScheduleVersionRuleEngine)
}

// Program is the owner of rules, occurrences and exceptions.
type Program struct {
	ID              string
	OrganizationID  string
	Name            string
	ScheduleVersion ScheduleVersion
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ScheduleRule is a persisted recurrence rule scoped to a program.
type ScheduleRule struct {
	recurrence.Rule
	OrganizationID string
	ProgramID      string
	ProgramNodeID  *string
	Title          string
	RuleHash       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SourceType records how an occurrence came to exist.
type SourceType string

const (
	SourceRule     SourceType = "rule"
	SourceManual   SourceType = "manual"
	SourceOverride SourceType = "override"
)

// OccurrenceStatus is the scheduled/cancelled state of an occurrence.
type OccurrenceStatus string

const (
	StatusScheduled OccurrenceStatus = "scheduled"
	StatusCancelled OccurrenceStatus = "cancelled"
)

// Occurrence is one concrete session. Rows are never deleted; removal is a
// transition to StatusCancelled.
type Occurrence struct {
	ID             string
	OrganizationID string
	ProgramID      string
	ProgramNodeID  *string
	SourceKey      string
	SourceType     SourceType
	SourceRuleID   *string
	Title          string
	Timezone       string
	LocalDate      recurrence.Date
	LocalStartTime *recurrence.LocalTime
	LocalEndTime   *recurrence.LocalTime
	StartsAt       time.Time
	EndsAt         time.Time
	Status         OccurrenceStatus
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ExceptionKind distinguishes suppressed occurrences from replaced ones.
type ExceptionKind string

const (
	ExceptionSkip     ExceptionKind = "skip"
	ExceptionOverride ExceptionKind = "override"
)

// ExceptionPayload snapshots the local fields of an override occurrence.
type ExceptionPayload struct {
	Timezone       string                `json:"timezone"`
	LocalDate      recurrence.Date       `json:"local_date"`
	LocalStartTime *recurrence.LocalTime `json:"local_start_time,omitempty"`
	LocalEndTime   *recurrence.LocalTime `json:"local_end_time,omitempty"`
	ProgramNodeID  *string               `json:"program_node_id,omitempty"`
	Title          string                `json:"title,omitempty"`
}

// ScheduleException is a standing skip or override of one rule occurrence,
// unique per (ProgramID, RuleID, SourceKey).
type ScheduleException struct {
	ID                   string
	OrganizationID       string
	ProgramID            string
	RuleID               string
	SourceKey            string
	Kind                 ExceptionKind
	OverrideOccurrenceID *string
	Payload              *ExceptionPayload
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// LegacyBlockKind enumerates the shapes of the pre-rule-engine schedule blocks.
type LegacyBlockKind string

const (
	LegacyDateRange      LegacyBlockKind = "date_range"
	LegacyMeetingPattern LegacyBlockKind = "meeting_pattern"
	LegacyOneOff         LegacyBlockKind = "one_off"
)

// LegacyScheduleBlock is a row of the flat schedule list programs used before
// rules existed. It is read-only.
type LegacyScheduleBlock struct {
	ID        string
	ProgramID string
	Kind      LegacyBlockKind
	Title     string
	Timezone  string
	StartDate recurrence.Date
	EndDate   recurrence.Date
	Weekdays  []time.Weekday
	StartTime *recurrence.LocalTime
	EndTime   *recurrence.LocalTime
	Position  int
}
