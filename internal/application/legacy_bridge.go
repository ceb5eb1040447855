package application

import (
	"context"
	"log/slog"

	"github.com/example/program-scheduler/internal/persistence"
	"github.com/example/program-scheduler/internal/recurrence"
)

const legacyKeyPrefix = "legacy:"

// Timeline returns the program's scheduled occurrences. Programs that have
// never saved a rule are served from their legacy schedule blocks, which
// are presented as read-only occurrences. Nothing is written.
func (s *ScheduleService) Timeline(ctx context.Context, scope Scope) (timeline Timeline, err error) {
	logger := s.loggerWith(ctx, "Timeline", "program_id", scope.ProgramID)
	var cause error
	defer func() {
		logOutcome(ctx, logger, "timeline loaded", cause, err,
			"source", timeline.Source,
			"occurrence_count", len(timeline.Occurrences),
		)
	}()

	if vErr := validateStruct(scope); vErr.HasErrors() {
		cause, err = vErr, vErr
		return Timeline{}, err
	}
	timeline, cause = s.timeline(ctx, logger, scope)
	err = boundaryError(cause)
	return timeline, err
}

func (s *ScheduleService) timeline(ctx context.Context, logger *slog.Logger, scope Scope) (Timeline, error) {
	program, err := s.store.GetProgram(ctx, scope.OrganizationID, scope.ProgramID)
	if err != nil {
		return Timeline{}, err
	}

	count := 0
	if program.ScheduleVersion != persistence.ScheduleVersionRuleEngine {
		if count, err = s.store.CountOccurrences(ctx, program.ID); err != nil {
			return Timeline{}, err
		}
	}
	if program.ScheduleVersion == persistence.ScheduleVersionRuleEngine || count > 0 {
		occurrences, err := s.store.ListOccurrences(ctx, program.ID, persistence.OccurrenceFilter{})
		if err != nil {
			return Timeline{}, err
		}
		return Timeline{Source: TimelineV2, Occurrences: occurrences}, nil
	}

	blocks, err := s.store.ListLegacyBlocks(ctx, program.ID)
	if err != nil {
		return Timeline{}, err
	}
	occurrences := make([]persistence.Occurrence, 0, len(blocks))
	for _, block := range blocks {
		if occurrence, ok := s.legacyOccurrence(logger, program, block); ok {
			occurrences = append(occurrences, occurrence)
		}
	}
	return Timeline{Source: TimelineLegacy, Occurrences: occurrences}, nil
}

// legacyOccurrence presents one legacy block as an occurrence: a one-off
// block on its date, a range on its first day and a meeting pattern on the
// first date that matches one of its weekdays.
func (s *ScheduleService) legacyOccurrence(logger *slog.Logger, program persistence.Program, block persistence.LegacyScheduleBlock) (persistence.Occurrence, bool) {
	if block.StartDate.IsZero() {
		logger.Warn("legacy block has no start date", "legacy_block_id", block.ID)
		return persistence.Occurrence{}, false
	}

	zone := block.Timezone
	loc, err := recurrence.LoadLocation(zone)
	if zone == "" || err != nil {
		logger.Warn("legacy block zone unusable, using default",
			"legacy_block_id", block.ID,
			"timezone", zone,
			"default_timezone", s.defaultTimezone,
		)
		zone = s.defaultTimezone
		if loc, err = recurrence.LoadLocation(zone); err != nil {
			logger.Error("default timezone unusable", "timezone", zone, "error", err)
			return persistence.Occurrence{}, false
		}
	}

	date := block.StartDate
	if block.Kind == persistence.LegacyMeetingPattern && len(block.Weekdays) > 0 {
		date = firstMatchingWeekday(block)
	}

	startsAt, endsAt := recurrence.Window(date, block.StartTime, block.EndTime, loc)
	metadata := map[string]any{
		"legacy_block_id": block.ID,
		"legacy_kind":     string(block.Kind),
	}
	if !block.EndDate.IsZero() {
		metadata["legacy_end_date"] = block.EndDate.String()
	}
	key := legacyKeyPrefix + block.ID
	return persistence.Occurrence{
		ID:             key,
		OrganizationID: program.OrganizationID,
		ProgramID:      program.ID,
		SourceKey:      key,
		SourceType:     persistence.SourceManual,
		Title:          block.Title,
		Timezone:       zone,
		LocalDate:      date,
		LocalStartTime: block.StartTime,
		LocalEndTime:   block.EndTime,
		StartsAt:       startsAt,
		EndsAt:         endsAt,
		Status:         persistence.StatusScheduled,
		Metadata:       metadata,
	}, true
}

// firstMatchingWeekday scans at most one week from the block's start date.
func firstMatchingWeekday(block persistence.LegacyScheduleBlock) recurrence.Date {
	for i := 0; i < 7; i++ {
		date := block.StartDate.AddDays(i)
		if !block.EndDate.IsZero() && date.After(block.EndDate) {
			break
		}
		for _, wd := range block.Weekdays {
			if date.Weekday() == wd {
				return date
			}
		}
	}
	return block.StartDate
}
