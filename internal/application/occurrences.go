package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/program-scheduler/internal/persistence"
	"github.com/example/program-scheduler/internal/recurrence"
)

const metadataOverrideOf = "overrideOf"

// AddManualOccurrence inserts a one-off session that no rule owns.
func (s *ScheduleService) AddManualOccurrence(ctx context.Context, params AddOccurrenceParams) (result MutationResult, err error) {
	logger := s.loggerWith(ctx, "AddManualOccurrence", "program_id", params.Scope.ProgramID)
	var cause error
	defer func() {
		logOutcome(ctx, logger, "manual occurrence added", cause, err, "occurrence_id", result.ID)
	}()

	window, vErr := buildOccurrenceWindow(params.Input)
	if vErr != nil {
		cause, err = vErr, vErr
		return MutationResult{}, err
	}

	result, cause = s.mutate(ctx, params.Scope, func(ctx context.Context, program persistence.Program) (string, error) {
		now := s.now()
		occurrence := persistence.Occurrence{
			ID:             s.idGenerator(),
			OrganizationID: program.OrganizationID,
			ProgramID:      program.ID,
			SourceType:     persistence.SourceManual,
			Status:         persistence.StatusScheduled,
			CreatedAt:      now,
		}
		occurrence.SourceKey = occurrence.ID
		if err := window.apply(&occurrence, params.Input, now); err != nil {
			return "", err
		}
		return s.store.UpsertOccurrence(ctx, occurrence)
	})
	err = boundaryError(cause)
	return result, err
}

// UpdateOccurrence changes the local fields of an occurrence. Manual and
// override occurrences are edited in place. A rule-generated occurrence is
// shadowed by an override occurrence, which is what the result id names.
func (s *ScheduleService) UpdateOccurrence(ctx context.Context, params UpdateOccurrenceParams) (result MutationResult, err error) {
	logger := s.loggerWith(ctx, "UpdateOccurrence",
		"program_id", params.Scope.ProgramID,
		"occurrence_id", params.OccurrenceID,
	)
	var cause error
	defer func() {
		logOutcome(ctx, logger, "occurrence updated", cause, err, "result_id", result.ID)
	}()

	window, vErr := buildOccurrenceWindow(params.Input)
	if strings.TrimSpace(params.OccurrenceID) == "" {
		missing := invalidField("occurrence_id", "is required")
		missing.merge(vErr)
		vErr = missing
	}
	if vErr != nil {
		cause, err = vErr, vErr
		return MutationResult{}, err
	}

	result, cause = s.mutate(ctx, params.Scope, func(ctx context.Context, program persistence.Program) (string, error) {
		target, err := s.store.GetOccurrence(ctx, program.ID, params.OccurrenceID)
		if err != nil {
			return "", err
		}
		switch target.SourceType {
		case persistence.SourceManual:
			return s.editInPlace(ctx, target, window, params.Input)
		case persistence.SourceOverride:
			return s.editOverride(ctx, target, window, params.Input)
		default:
			return s.overrideRuleOccurrence(ctx, target, window, params.Input)
		}
	})
	err = boundaryError(cause)
	return result, err
}

func (s *ScheduleService) editInPlace(ctx context.Context, target persistence.Occurrence, window occurrenceWindow, input OccurrenceInput) (string, error) {
	if err := window.apply(&target, input, s.now()); err != nil {
		return "", err
	}
	return s.store.UpsertOccurrence(ctx, target)
}

// editOverride edits an override occurrence and refreshes the payload
// snapshot on its standing exception.
func (s *ScheduleService) editOverride(ctx context.Context, target persistence.Occurrence, window occurrenceWindow, input OccurrenceInput) (string, error) {
	ruleID, err := s.owningRule(ctx, target)
	if err != nil {
		return "", err
	}
	id, err := s.editInPlace(ctx, target, window, input)
	if err != nil {
		return "", err
	}
	original, ok := recurrence.OverriddenSourceKey(target.SourceKey)
	if !ok {
		return id, nil
	}
	exception, err := s.store.GetException(ctx, target.ProgramID, ruleID, original)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return id, nil
	case err != nil:
		return "", err
	}
	if exception.Kind != persistence.ExceptionOverride {
		return id, nil
	}
	exception.OverrideOccurrenceID = &id
	exception.Payload = payloadOf(window, input)
	exception.UpdatedAt = s.now()
	if _, err := s.store.UpsertException(ctx, exception); err != nil {
		return "", err
	}
	return id, nil
}

// overrideRuleOccurrence writes or refreshes the override shadow of a
// rule-generated occurrence, records the override exception and cancels
// the original.
func (s *ScheduleService) overrideRuleOccurrence(ctx context.Context, original persistence.Occurrence, window occurrenceWindow, input OccurrenceInput) (string, error) {
	ruleID, err := s.owningRule(ctx, original)
	if err != nil {
		return "", err
	}
	now := s.now()

	shadowKey := recurrence.OverrideSourceKey(original.SourceKey)
	shadow, err := s.store.GetOccurrenceBySourceKey(ctx, original.ProgramID, shadowKey)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		shadow = persistence.Occurrence{
			ID:             s.idGenerator(),
			OrganizationID: original.OrganizationID,
			ProgramID:      original.ProgramID,
			ProgramNodeID:  cloneString(original.ProgramNodeID),
			SourceKey:      shadowKey,
			SourceType:     persistence.SourceOverride,
			SourceRuleID:   &ruleID,
			Title:          original.Title,
			CreatedAt:      now,
		}
	case err != nil:
		return "", err
	}
	shadow.Status = persistence.StatusScheduled
	shadow.Metadata = map[string]any{metadataOverrideOf: original.SourceKey}
	if err := window.apply(&shadow, input, now); err != nil {
		return "", err
	}
	id, err := s.store.UpsertOccurrence(ctx, shadow)
	if err != nil {
		return "", err
	}

	exception := persistence.ScheduleException{
		ID:                   s.idGenerator(),
		OrganizationID:       original.OrganizationID,
		ProgramID:            original.ProgramID,
		RuleID:               ruleID,
		SourceKey:            original.SourceKey,
		Kind:                 persistence.ExceptionOverride,
		OverrideOccurrenceID: &id,
		Payload:              payloadOf(window, input),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if _, err := s.store.UpsertException(ctx, exception); err != nil {
		return "", err
	}
	if _, err := s.store.SetOccurrenceStatus(ctx, original.ProgramID, []string{original.SourceKey}, persistence.StatusCancelled); err != nil {
		return "", err
	}
	return id, nil
}

// owningRule returns the id of the rule that generated occurrence. An
// occurrence left behind by a deleted rule reports ErrNotFound.
func (s *ScheduleService) owningRule(ctx context.Context, occurrence persistence.Occurrence) (string, error) {
	if occurrence.SourceRuleID == nil {
		return "", invalidField("occurrence_id", "is not owned by a rule")
	}
	ruleID := *occurrence.SourceRuleID
	if _, err := s.store.GetRule(ctx, occurrence.ProgramID, ruleID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return "", fmt.Errorf("occurrence %s: rule %s: %w", occurrence.ID, ruleID, ErrNotFound)
		}
		return "", err
	}
	return ruleID, nil
}

// SkipOccurrence suppresses one session. A rule-generated occurrence gets a
// standing skip exception, an override converts its exception to a skip,
// and a manual occurrence is simply cancelled.
func (s *ScheduleService) SkipOccurrence(ctx context.Context, params SkipOccurrenceParams) (result MutationResult, err error) {
	logger := s.loggerWith(ctx, "SkipOccurrence",
		"program_id", params.Scope.ProgramID,
		"occurrence_id", params.OccurrenceID,
	)
	var cause error
	defer func() { logOutcome(ctx, logger, "occurrence skipped", cause, err) }()

	if strings.TrimSpace(params.OccurrenceID) == "" {
		cause = invalidField("occurrence_id", "is required")
		err = cause
		return MutationResult{}, err
	}

	result, cause = s.mutate(ctx, params.Scope, func(ctx context.Context, program persistence.Program) (string, error) {
		target, err := s.store.GetOccurrence(ctx, program.ID, params.OccurrenceID)
		if err != nil {
			return "", err
		}

		originalKey := target.SourceKey
		switch target.SourceType {
		case persistence.SourceManual:
			_, err := s.store.SetOccurrenceStatus(ctx, program.ID, []string{target.SourceKey}, persistence.StatusCancelled)
			return target.ID, err
		case persistence.SourceOverride:
			key, ok := recurrence.OverriddenSourceKey(target.SourceKey)
			if !ok {
				return "", invalidField("occurrence_id", "is not a valid override")
			}
			originalKey = key
		}
		ruleID, err := s.owningRule(ctx, target)
		if err != nil {
			return "", err
		}

		now := s.now()
		exception := persistence.ScheduleException{
			ID:             s.idGenerator(),
			OrganizationID: program.OrganizationID,
			ProgramID:      program.ID,
			RuleID:         ruleID,
			SourceKey:      originalKey,
			Kind:           persistence.ExceptionSkip,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if _, err := s.store.UpsertException(ctx, exception); err != nil {
			return "", err
		}
		// The original and any override shadow both stay cancelled.
		keys := []string{originalKey, recurrence.OverrideSourceKey(originalKey)}
		if _, err := s.store.SetOccurrenceStatus(ctx, program.ID, keys, persistence.StatusCancelled); err != nil {
			return "", err
		}
		return target.ID, nil
	})
	err = boundaryError(cause)
	return result, err
}

// RestoreOccurrence undoes a skip or override. The shadow of an override is
// cancelled when it still exists, the exception is removed, and the original
// is rescheduled if the rule still generates it.
func (s *ScheduleService) RestoreOccurrence(ctx context.Context, params RestoreOccurrenceParams) (result MutationResult, err error) {
	logger := s.loggerWith(ctx, "RestoreOccurrence",
		"program_id", params.Scope.ProgramID,
		"rule_id", params.RuleID,
		"source_key", params.SourceKey,
	)
	var cause error
	defer func() { logOutcome(ctx, logger, "occurrence restored", cause, err, "occurrence_id", result.ID) }()

	if strings.TrimSpace(params.SourceKey) == "" {
		cause = invalidField("source_key", "is required")
		err = cause
		return MutationResult{}, err
	}

	result, cause = s.mutate(ctx, params.Scope, func(ctx context.Context, program persistence.Program) (string, error) {
		if params.RuleID == "" {
			return s.restoreManual(ctx, program, params.SourceKey)
		}
		return s.restoreRuleOccurrence(ctx, program, params.RuleID, params.SourceKey)
	})
	err = boundaryError(cause)
	return result, err
}

func (s *ScheduleService) restoreManual(ctx context.Context, program persistence.Program, sourceKey string) (string, error) {
	occurrence, err := s.store.GetOccurrenceBySourceKey(ctx, program.ID, sourceKey)
	if err != nil {
		return "", err
	}
	if occurrence.SourceType != persistence.SourceManual {
		return "", invalidField("rule_id", "is required for rule occurrences")
	}
	if _, err := s.store.SetOccurrenceStatus(ctx, program.ID, []string{sourceKey}, persistence.StatusScheduled); err != nil {
		return "", err
	}
	return occurrence.ID, nil
}

func (s *ScheduleService) restoreRuleOccurrence(ctx context.Context, program persistence.Program, ruleID, sourceKey string) (string, error) {
	rule, err := s.store.GetRule(ctx, program.ID, ruleID)
	if err != nil {
		return "", err
	}

	hadException := true
	exception, err := s.store.GetException(ctx, program.ID, ruleID, sourceKey)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		hadException = false
	case err != nil:
		return "", err
	}

	if hadException {
		// The shadow may already be gone; cancelling zero rows is fine.
		if exception.Kind == persistence.ExceptionOverride {
			shadow := recurrence.OverrideSourceKey(sourceKey)
			if _, err := s.store.SetOccurrenceStatus(ctx, program.ID, []string{shadow}, persistence.StatusCancelled); err != nil {
				return "", err
			}
		}
		if err := s.store.DeleteException(ctx, program.ID, ruleID, sourceKey); err != nil && !errors.Is(err, persistence.ErrNotFound) {
			return "", err
		}
	}

	original, err := s.store.GetOccurrenceBySourceKey(ctx, program.ID, sourceKey)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		if !hadException {
			return "", ErrNotFound
		}
		return "", nil
	case err != nil:
		return "", err
	}
	if original.SourceRuleID == nil || *original.SourceRuleID != ruleID {
		return "", ErrNotFound
	}

	generated, err := s.engine.Generate(rule.Rule)
	if err != nil {
		return "", generateError(err)
	}
	for _, g := range generated {
		if g.SourceKey == sourceKey {
			if _, err := s.store.SetOccurrenceStatus(ctx, program.ID, []string{sourceKey}, persistence.StatusScheduled); err != nil {
				return "", err
			}
			break
		}
	}
	return original.ID, nil
}

// apply copies the edited local fields onto occurrence and recomputes its instants.
func (w occurrenceWindow) apply(occurrence *persistence.Occurrence, input OccurrenceInput, now time.Time) error {
	loc, err := recurrence.LoadLocation(w.timezone)
	if err != nil {
		return invalidField("timezone", err.Error())
	}
	occurrence.Timezone = w.timezone
	occurrence.LocalDate = w.date
	occurrence.LocalStartTime = w.startTime
	occurrence.LocalEndTime = w.endTime
	occurrence.StartsAt, occurrence.EndsAt = recurrence.Window(w.date, w.startTime, w.endTime, loc)
	if input.ProgramNodeID != nil {
		occurrence.ProgramNodeID = cloneString(input.ProgramNodeID)
	}
	if title := strings.TrimSpace(input.Title); title != "" {
		occurrence.Title = title
	}
	occurrence.UpdatedAt = now
	return nil
}

func payloadOf(w occurrenceWindow, input OccurrenceInput) *persistence.ExceptionPayload {
	return &persistence.ExceptionPayload{
		Timezone:       w.timezone,
		LocalDate:      w.date,
		LocalStartTime: w.startTime,
		LocalEndTime:   w.endTime,
		ProgramNodeID:  cloneString(input.ProgramNodeID),
		Title:          strings.TrimSpace(input.Title),
	}
}
