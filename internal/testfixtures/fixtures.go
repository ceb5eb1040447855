package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/program-scheduler/internal/persistence"
	"github.com/example/program-scheduler/internal/recurrence"
)

var (
	programCounter    uint64
	ruleCounter       uint64
	occurrenceCounter uint64
	legacyCounter     uint64
)

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// DefaultOrganizationID is the organization every fixture belongs to unless overridden.
const DefaultOrganizationID = "org-1"

// ----------------------------- Program fixtures -----------------------------

// ProgramOption configures a generated program.
type ProgramOption func(*persistence.Program)

// NewProgram returns a deterministic legacy program with optional overrides.
func NewProgram(opts ...ProgramOption) persistence.Program {
	idx := atomic.AddUint64(&programCounter, 1)
	created := referenceTime.Add(time.Duration(idx) * time.Minute)
	program := persistence.Program{
		ID:              fmt.Sprintf("program-%03d", idx),
		OrganizationID:  DefaultOrganizationID,
		Name:            fmt.Sprintf("Program %03d", idx),
		ScheduleVersion: persistence.ScheduleVersionLegacy,
		CreatedAt:       created,
		UpdatedAt:       created,
	}
	for _, opt := range opts {
		opt(&program)
	}
	return program
}

// WithProgramID overrides the generated program ID.
func WithProgramID(id string) ProgramOption {
	return func(p *persistence.Program) { p.ID = id }
}

// WithProgramOrganization overrides the owning organization.
func WithProgramOrganization(organizationID string) ProgramOption {
	return func(p *persistence.Program) { p.OrganizationID = organizationID }
}

// WithScheduleVersion sets the program's schedule version.
func WithScheduleVersion(version persistence.ScheduleVersion) ProgramOption {
	return func(p *persistence.Program) { p.ScheduleVersion = version }
}

// ------------------------------- Rule fixtures -------------------------------

// RuleOption configures a generated schedule rule.
type RuleOption func(*persistence.ScheduleRule)

// NewRule returns a weekly Monday 09:00-10:00 UTC rule starting 2024-01-01
// and ending after four occurrences.
func NewRule(program persistence.Program, opts ...RuleOption) persistence.ScheduleRule {
	idx := atomic.AddUint64(&ruleCounter, 1)
	created := referenceTime.Add(time.Duration(idx) * time.Minute)
	start := recurrence.MustParseLocalTime("09:00")
	end := recurrence.MustParseLocalTime("10:00")
	rule := persistence.ScheduleRule{
		Rule: recurrence.Rule{
			ID:             fmt.Sprintf("rule-%03d", idx),
			Mode:           recurrence.ModeRepeating,
			Timezone:       "UTC",
			StartDate:      recurrence.MustParseDate("2024-01-01"),
			StartTime:      &start,
			EndTime:        &end,
			IntervalCount:  1,
			IntervalUnit:   recurrence.UnitWeek,
			ByWeekday:      []time.Weekday{time.Monday},
			EndMode:        recurrence.EndAfterOccurrences,
			MaxOccurrences: 4,
		},
		OrganizationID: program.OrganizationID,
		ProgramID:      program.ID,
		Title:          fmt.Sprintf("Session %03d", idx),
		CreatedAt:      created,
		UpdatedAt:      created,
	}
	for _, opt := range opts {
		opt(&rule)
	}
	rule.Rule = rule.Rule.Normalize()
	if rule.RuleHash == "" {
		hash, err := recurrence.Hash(rule.Rule)
		if err != nil {
			panic(fmt.Sprintf("testfixtures: hash rule: %v", err))
		}
		rule.RuleHash = hash
	}
	return rule
}

// WithRuleID overrides the generated rule ID.
func WithRuleID(id string) RuleOption {
	return func(r *persistence.ScheduleRule) { r.ID = id }
}

// WithRuleTitle overrides the generated title.
func WithRuleTitle(title string) RuleOption {
	return func(r *persistence.ScheduleRule) { r.Title = title }
}

// WithRule applies fn to the recurrence part of the rule.
func WithRule(fn func(*recurrence.Rule)) RuleOption {
	return func(r *persistence.ScheduleRule) { fn(&r.Rule) }
}

// WithRuleNode attaches the rule to a program node.
func WithRuleNode(nodeID string) RuleOption {
	return func(r *persistence.ScheduleRule) { r.ProgramNodeID = &nodeID }
}

// ---------------------------- Occurrence fixtures ----------------------------

// OccurrenceOption configures a generated occurrence.
type OccurrenceOption func(*persistence.Occurrence)

// NewOccurrence returns a scheduled manual occurrence on 2024-02-01 from
// 13:00 to 14:00 UTC.
func NewOccurrence(program persistence.Program, opts ...OccurrenceOption) persistence.Occurrence {
	idx := atomic.AddUint64(&occurrenceCounter, 1)
	created := referenceTime.Add(time.Duration(idx) * time.Minute)
	date := recurrence.MustParseDate("2024-02-01")
	start := recurrence.MustParseLocalTime("13:00")
	end := recurrence.MustParseLocalTime("14:00")
	id := fmt.Sprintf("occurrence-%03d", idx)
	occurrence := persistence.Occurrence{
		ID:             id,
		OrganizationID: program.OrganizationID,
		ProgramID:      program.ID,
		SourceKey:      id,
		SourceType:     persistence.SourceManual,
		Title:          fmt.Sprintf("Occurrence %03d", idx),
		Timezone:       "UTC",
		LocalDate:      date,
		LocalStartTime: &start,
		LocalEndTime:   &end,
		StartsAt:       time.Date(2024, time.February, 1, 13, 0, 0, 0, time.UTC),
		EndsAt:         time.Date(2024, time.February, 1, 14, 0, 0, 0, time.UTC),
		Status:         persistence.StatusScheduled,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
	for _, opt := range opts {
		opt(&occurrence)
	}
	return occurrence
}

// WithOccurrenceID overrides the generated occurrence ID.
func WithOccurrenceID(id string) OccurrenceOption {
	return func(o *persistence.Occurrence) { o.ID = id }
}

// WithSourceKey overrides the source key.
func WithSourceKey(key string) OccurrenceOption {
	return func(o *persistence.Occurrence) { o.SourceKey = key }
}

// FromRule marks the occurrence as generated by ruleID.
func FromRule(ruleID string) OccurrenceOption {
	return func(o *persistence.Occurrence) {
		o.SourceType = persistence.SourceRule
		o.SourceRuleID = &ruleID
	}
}

// StartingAt moves the occurrence to start at t, keeping a one hour length.
func StartingAt(t time.Time) OccurrenceOption {
	return func(o *persistence.Occurrence) {
		t = t.UTC()
		o.StartsAt = t
		o.EndsAt = t.Add(time.Hour)
		o.LocalDate = recurrence.NewDate(t.Year(), t.Month(), t.Day())
		start := recurrence.LocalTime{Hour: t.Hour(), Minute: t.Minute()}
		end := recurrence.LocalTime{Hour: (t.Hour() + 1) % 24, Minute: t.Minute()}
		o.LocalStartTime = &start
		o.LocalEndTime = &end
	}
}

// WithStatus overrides the occurrence status.
func WithStatus(status persistence.OccurrenceStatus) OccurrenceOption {
	return func(o *persistence.Occurrence) { o.Status = status }
}

// ---------------------------- Legacy block fixtures ----------------------------

// LegacyBlockOption configures a generated legacy block.
type LegacyBlockOption func(*persistence.LegacyScheduleBlock)

// NewLegacyBlock returns a one-off block on 2024-03-05 from 10:00 to 11:30.
func NewLegacyBlock(program persistence.Program, opts ...LegacyBlockOption) persistence.LegacyScheduleBlock {
	idx := atomic.AddUint64(&legacyCounter, 1)
	start := recurrence.MustParseLocalTime("10:00")
	end := recurrence.MustParseLocalTime("11:30")
	block := persistence.LegacyScheduleBlock{
		ID:        fmt.Sprintf("block-%03d", idx),
		ProgramID: program.ID,
		Kind:      persistence.LegacyOneOff,
		Title:     fmt.Sprintf("Block %03d", idx),
		Timezone:  "UTC",
		StartDate: recurrence.MustParseDate("2024-03-05"),
		StartTime: &start,
		EndTime:   &end,
		Position:  int(idx),
	}
	for _, opt := range opts {
		opt(&block)
	}
	return block
}

// WithLegacyKind overrides the block kind.
func WithLegacyKind(kind persistence.LegacyBlockKind) LegacyBlockOption {
	return func(b *persistence.LegacyScheduleBlock) { b.Kind = kind }
}

// WithLegacyDates sets the block's date span. A zero end leaves it open.
func WithLegacyDates(start, end string) LegacyBlockOption {
	return func(b *persistence.LegacyScheduleBlock) {
		b.StartDate = recurrence.MustParseDate(start)
		b.EndDate = recurrence.Date{}
		if end != "" {
			b.EndDate = recurrence.MustParseDate(end)
		}
	}
}

// WithLegacyPosition overrides the block's ordering position.
func WithLegacyPosition(position int) LegacyBlockOption {
	return func(b *persistence.LegacyScheduleBlock) { b.Position = position }
}

// WithLegacyWeekdays sets the meeting days of a pattern block.
func WithLegacyWeekdays(days ...time.Weekday) LegacyBlockOption {
	return func(b *persistence.LegacyScheduleBlock) { b.Weekdays = days }
}

// WithLegacyTimezone overrides the block's zone; "" models a block saved without one.
func WithLegacyTimezone(zone string) LegacyBlockOption {
	return func(b *persistence.LegacyScheduleBlock) { b.Timezone = zone }
}
