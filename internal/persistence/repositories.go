package persistence

import "context"

// ProgramRepository stores program records and their schedule version flag.
type ProgramRepository interface {
	CreateProgram(ctx context.Context, program Program) error
	GetProgram(ctx context.Context, organizationID, programID string) (Program, error)
	// SetScheduleVersion returns ErrInvalidTransition for anything other
	// than legacy to rule_engine or a no-op.
	SetScheduleVersion(ctx context.Context, programID string, version ScheduleVersion) error
}

// RuleRepository stores schedule rules.
type RuleRepository interface {
	UpsertRule(ctx context.Context, rule ScheduleRule) error
	GetRule(ctx context.Context, programID, ruleID string) (ScheduleRule, error)
	ListRules(ctx context.Context, programID string) ([]ScheduleRule, error)
	DeleteRule(ctx context.Context, programID, ruleID string) error
}

// OccurrenceFilter narrows occurrence listings.
type OccurrenceFilter struct {
	RuleID           string
	SourceTypes      []SourceType
	IncludeCancelled bool
}

// OccurrenceRepository stores materialized occurrences keyed by (ProgramID, SourceKey).
type OccurrenceRepository interface {
	// UpsertOccurrence inserts or updates by (ProgramID, SourceKey) and
	// returns the id of the stored row, which is preserved on update.
	UpsertOccurrence(ctx context.Context, occurrence Occurrence) (string, error)
	GetOccurrence(ctx context.Context, programID, occurrenceID string) (Occurrence, error)
	GetOccurrenceBySourceKey(ctx context.Context, programID, sourceKey string) (Occurrence, error)
	ListOccurrences(ctx context.Context, programID string, filter OccurrenceFilter) ([]Occurrence, error)
	CountOccurrences(ctx context.Context, programID string) (int, error)
	// SetOccurrenceStatus changes the status of the given source keys and
	// returns how many rows matched.
	SetOccurrenceStatus(ctx context.Context, programID string, sourceKeys []string, status OccurrenceStatus) (int, error)
}

// ExceptionRepository stores rule exceptions keyed by (ProgramID, RuleID, SourceKey).
type ExceptionRepository interface {
	UpsertException(ctx context.Context, exception ScheduleException) (string, error)
	GetException(ctx context.Context, programID, ruleID, sourceKey string) (ScheduleException, error)
	ListExceptions(ctx context.Context, programID, ruleID string) ([]ScheduleException, error)
	DeleteException(ctx context.Context, programID, ruleID, sourceKey string) error
	DeleteExceptionsForRule(ctx context.Context, programID, ruleID string) error
}

// LegacyBlockRepository reads the pre-rule-engine schedule blocks. Blocks
// only enter the store through imports.
type LegacyBlockRepository interface {
	ImportLegacyBlock(ctx context.Context, block LegacyScheduleBlock) error
	ListLegacyBlocks(ctx context.Context, programID string) ([]LegacyScheduleBlock, error)
}

// Store bundles every repository behind one transactional boundary.
type Store interface {
	ProgramRepository
	RuleRepository
	OccurrenceRepository
	ExceptionRepository
	LegacyBlockRepository
	// RunInTx runs fn so that all of its writes commit or roll back together.
	// Repository calls made with the ctx passed to fn join the transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	Close() error
}
