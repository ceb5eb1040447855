package application

import (
	"context"
	"errors"
	"time"

	"github.com/example/program-scheduler/internal/persistence"
	"github.com/example/program-scheduler/internal/recurrence"
)

// UpsertRule saves a rule and reconciles the program's occurrences with
// what the rule now generates. Input.ID selects the rule to update; when
// Input.ExpectedRuleHash is set and differs from the stored hash the save
// fails with ErrConflict, otherwise the last write wins.
func (s *ScheduleService) UpsertRule(ctx context.Context, params UpsertRuleParams) (result MutationResult, err error) {
	logger := s.loggerWith(ctx, "UpsertRule",
		"program_id", params.Scope.ProgramID,
		"mode", params.Input.Mode,
	)
	var (
		cause error
		stats reconcileStats
	)
	defer func() {
		logOutcome(ctx, logger, "rule saved", cause, err,
			"rule_id", result.ID,
			"upserted", stats.upserted,
			"excepted", stats.excepted,
			"cancelled", stats.cancelled,
		)
	}()

	rule, vErr := buildRule(params.Input)
	if vErr != nil {
		cause, err = vErr, vErr
		return MutationResult{}, err
	}
	if rule.ID == "" {
		rule.ID = s.idGenerator()
	}

	result, cause = s.mutate(ctx, params.Scope, func(ctx context.Context, program persistence.Program) (string, error) {
		saved, err := s.saveRule(ctx, program, rule, params.Input)
		if err != nil {
			return "", err
		}
		if err := s.store.SetScheduleVersion(ctx, program.ID, persistence.ScheduleVersionRuleEngine); err != nil {
			return "", err
		}
		generated, err := s.engine.Generate(saved.Rule)
		if err != nil {
			return "", generateError(err)
		}
		if stats, err = s.reconcile(ctx, saved, generated); err != nil {
			return "", err
		}
		return rule.ID, nil
	})
	err = boundaryError(cause)
	return result, err
}

// saveRule applies the optimistic concurrency check and persists the rule
// before any occurrence is derived from it.
func (s *ScheduleService) saveRule(ctx context.Context, program persistence.Program, rule recurrence.Rule, input RuleInput) (persistence.ScheduleRule, error) {
	hash, err := recurrence.Hash(rule)
	if err != nil {
		return persistence.ScheduleRule{}, err
	}

	now := s.now()
	saved := persistence.ScheduleRule{
		Rule:           rule,
		OrganizationID: program.OrganizationID,
		ProgramID:      program.ID,
		ProgramNodeID:  input.ProgramNodeID,
		Title:          input.Title,
		RuleHash:       hash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	existing, err := s.store.GetRule(ctx, program.ID, rule.ID)
	switch {
	case err == nil:
		if input.ExpectedRuleHash != "" && input.ExpectedRuleHash != existing.RuleHash {
			return persistence.ScheduleRule{}, ErrConflict
		}
		saved.CreatedAt = existing.CreatedAt
	case errors.Is(err, persistence.ErrNotFound):
		if input.ExpectedRuleHash != "" {
			return persistence.ScheduleRule{}, ErrConflict
		}
	default:
		return persistence.ScheduleRule{}, err
	}

	if err := s.store.UpsertRule(ctx, saved); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			return persistence.ScheduleRule{}, invalidField("id", "is already used by another program")
		}
		return persistence.ScheduleRule{}, err
	}
	return saved, nil
}

type reconcileStats struct {
	upserted  int
	excepted  int
	cancelled int
}

// reconcile aligns the stored occurrences of rule with generated:
// generated keys are upserted as scheduled unless a standing exception
// suppresses them, and previously generated keys that disappeared are
// cancelled. Rows are never deleted.
func (s *ScheduleService) reconcile(ctx context.Context, rule persistence.ScheduleRule, generated []recurrence.GeneratedOccurrence) (reconcileStats, error) {
	var stats reconcileStats

	previous, err := s.store.ListOccurrences(ctx, rule.ProgramID, persistence.OccurrenceFilter{
		RuleID:           rule.ID,
		SourceTypes:      []persistence.SourceType{persistence.SourceRule},
		IncludeCancelled: true,
	})
	if err != nil {
		return stats, err
	}
	existing := make(map[string]persistence.Occurrence, len(previous))
	for _, o := range previous {
		existing[o.SourceKey] = o
	}

	exceptions, err := s.store.ListExceptions(ctx, rule.ProgramID, rule.ID)
	if err != nil {
		return stats, err
	}
	excepted := make(map[string]bool, len(exceptions))
	for _, e := range exceptions {
		excepted[e.SourceKey] = true
	}

	now := s.now()
	current := make(map[string]bool, len(generated))
	var suppress []string
	for _, g := range generated {
		current[g.SourceKey] = true
		prior, seen := existing[g.SourceKey]

		if excepted[g.SourceKey] && seen {
			// Leave the excepted row's fields alone; only its status is enforced.
			suppress = append(suppress, g.SourceKey)
			continue
		}

		occurrence := occurrenceFromGenerated(rule, g, now)
		if seen {
			occurrence.ID = prior.ID
			occurrence.CreatedAt = prior.CreatedAt
			occurrence.Metadata = prior.Metadata
		} else {
			occurrence.ID = s.idGenerator()
		}
		if excepted[g.SourceKey] {
			occurrence.Status = persistence.StatusCancelled
			stats.excepted++
		}
		if _, err := s.store.UpsertOccurrence(ctx, occurrence); err != nil {
			return stats, err
		}
		stats.upserted++
	}

	if len(suppress) > 0 {
		if _, err := s.store.SetOccurrenceStatus(ctx, rule.ProgramID, suppress, persistence.StatusCancelled); err != nil {
			return stats, err
		}
		stats.excepted += len(suppress)
	}

	var stale []string
	for _, o := range previous {
		if !current[o.SourceKey] && o.Status == persistence.StatusScheduled {
			stale = append(stale, o.SourceKey)
		}
	}
	if len(stale) > 0 {
		n, err := s.store.SetOccurrenceStatus(ctx, rule.ProgramID, stale, persistence.StatusCancelled)
		if err != nil {
			return stats, err
		}
		stats.cancelled = n
	}
	return stats, nil
}

func occurrenceFromGenerated(rule persistence.ScheduleRule, g recurrence.GeneratedOccurrence, now time.Time) persistence.Occurrence {
	ruleID := rule.ID
	return persistence.Occurrence{
		OrganizationID: rule.OrganizationID,
		ProgramID:      rule.ProgramID,
		ProgramNodeID:  cloneString(rule.ProgramNodeID),
		SourceKey:      g.SourceKey,
		SourceType:     persistence.SourceRule,
		SourceRuleID:   &ruleID,
		Title:          rule.Title,
		Timezone:       g.Timezone,
		LocalDate:      g.LocalDate,
		LocalStartTime: g.LocalStartTime,
		LocalEndTime:   g.LocalEndTime,
		StartsAt:       g.StartsAt,
		EndsAt:         g.EndsAt,
		Status:         persistence.StatusScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// DeleteRule removes a rule and its exceptions and cancels every occurrence
// it produced, overrides included.
func (s *ScheduleService) DeleteRule(ctx context.Context, params DeleteRuleParams) (result MutationResult, err error) {
	logger := s.loggerWith(ctx, "DeleteRule",
		"program_id", params.Scope.ProgramID,
		"rule_id", params.RuleID,
	)
	var (
		cause     error
		cancelled int
	)
	defer func() {
		logOutcome(ctx, logger, "rule deleted", cause, err, "cancelled", cancelled)
	}()

	if params.RuleID == "" {
		cause = invalidField("rule_id", "is required")
		err = cause
		return MutationResult{}, err
	}

	result, cause = s.mutate(ctx, params.Scope, func(ctx context.Context, program persistence.Program) (string, error) {
		if _, err := s.store.GetRule(ctx, program.ID, params.RuleID); err != nil {
			return "", err
		}
		produced, err := s.store.ListOccurrences(ctx, program.ID, persistence.OccurrenceFilter{RuleID: params.RuleID})
		if err != nil {
			return "", err
		}
		keys := make([]string, 0, len(produced))
		for _, o := range produced {
			keys = append(keys, o.SourceKey)
		}
		if len(keys) > 0 {
			if cancelled, err = s.store.SetOccurrenceStatus(ctx, program.ID, keys, persistence.StatusCancelled); err != nil {
				return "", err
			}
		}
		if err := s.store.DeleteExceptionsForRule(ctx, program.ID, params.RuleID); err != nil {
			return "", err
		}
		if err := s.store.DeleteRule(ctx, program.ID, params.RuleID); err != nil {
			return "", err
		}
		return params.RuleID, nil
	})
	err = boundaryError(cause)
	return result, err
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
