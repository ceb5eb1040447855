package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/example/program-scheduler/internal/persistence"
	"github.com/example/program-scheduler/internal/recurrence"
)

const ruleColumns = `id, organization_id, program_id, program_node_id, title, mode, timezone,
	start_date, end_date, start_time, end_time, interval_count, interval_unit,
	by_weekday, by_monthday, end_mode, until_date, max_occurrences, config_json,
	rule_hash, created_at, updated_at`

// UpsertRule inserts a rule or replaces the stored one with the same id.
// A rule id owned by another program is reported as ErrDuplicate.
func (s *Store) UpsertRule(ctx context.Context, rule persistence.ScheduleRule) error {
	if strings.TrimSpace(rule.ID) == "" {
		return fmt.Errorf("sqlite: rule id is required: %w", persistence.ErrConstraintViolation)
	}

	config, err := recurrence.EncodeConfig(rule.Config)
	if err != nil {
		return fmt.Errorf("sqlite: encode rule config: %w", err)
	}
	configJSON := sql.NullString{}
	if len(config) > 0 {
		configJSON = sql.NullString{String: string(config), Valid: true}
	}

	res, err := s.exec(ctx, `
		INSERT INTO schedule_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			organization_id = excluded.organization_id,
			program_node_id = excluded.program_node_id,
			title = excluded.title,
			mode = excluded.mode,
			timezone = excluded.timezone,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			interval_count = excluded.interval_count,
			interval_unit = excluded.interval_unit,
			by_weekday = excluded.by_weekday,
			by_monthday = excluded.by_monthday,
			end_mode = excluded.end_mode,
			until_date = excluded.until_date,
			max_occurrences = excluded.max_occurrences,
			config_json = excluded.config_json,
			rule_hash = excluded.rule_hash,
			updated_at = excluded.updated_at
		WHERE schedule_rules.program_id = excluded.program_id`,
		rule.ID, rule.OrganizationID, rule.ProgramID, nullString(rule.ProgramNodeID), rule.Title,
		string(rule.Mode), rule.Timezone, rule.StartDate.String(), rule.EndDate.String(),
		nullLocalTime(rule.StartTime), nullLocalTime(rule.EndTime),
		rule.IntervalCount, string(rule.IntervalUnit),
		encodeWeekdays(rule.ByWeekday), encodeInts(rule.ByMonthday),
		string(rule.EndMode), rule.UntilDate.String(), rule.MaxOccurrences, configJSON,
		rule.RuleHash, formatTime(rule.CreatedAt), formatTime(rule.UpdatedAt),
	)
	if err != nil {
		return err
	}
	if err := affected(res); err != nil {
		return fmt.Errorf("sqlite: rule %s belongs to another program: %w", rule.ID, persistence.ErrDuplicate)
	}
	return nil
}

// GetRule retrieves a rule within a program.
func (s *Store) GetRule(ctx context.Context, programID, ruleID string) (persistence.ScheduleRule, error) {
	return queryOne(ctx, s, scanRule, `
		SELECT `+ruleColumns+` FROM schedule_rules WHERE id = ? AND program_id = ?`,
		ruleID, programID,
	)
}

// ListRules returns a program's rules ordered by creation time.
func (s *Store) ListRules(ctx context.Context, programID string) ([]persistence.ScheduleRule, error) {
	return queryAll(ctx, s, scanRule, `
		SELECT `+ruleColumns+` FROM schedule_rules WHERE program_id = ?
		ORDER BY created_at, id`,
		programID,
	)
}

// DeleteRule removes a rule. Its exceptions go with it through the
// foreign key cascade; its occurrences stay.
func (s *Store) DeleteRule(ctx context.Context, programID, ruleID string) error {
	return s.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.exec(ctx, `DELETE FROM schedule_exceptions WHERE program_id = ? AND rule_id = ?`, programID, ruleID); err != nil {
			return err
		}
		res, err := s.exec(ctx, `DELETE FROM schedule_rules WHERE id = ? AND program_id = ?`, ruleID, programID)
		if err != nil {
			return err
		}
		return affected(res)
	})
}

func scanRule(row scanner) (persistence.ScheduleRule, error) {
	var (
		r                             persistence.ScheduleRule
		nodeID, startTime, endTime    sql.NullString
		configJSON                    sql.NullString
		mode, unit, endMode           string
		startDate, endDate, untilDate string
		byWeekday, byMonthday         string
		createdAt, updatedAt          string
	)
	err := row.Scan(
		&r.ID, &r.OrganizationID, &r.ProgramID, &nodeID, &r.Title, &mode, &r.Timezone,
		&startDate, &endDate, &startTime, &endTime, &r.IntervalCount, &unit,
		&byWeekday, &byMonthday, &endMode, &untilDate, &r.MaxOccurrences, &configJSON,
		&r.RuleHash, &createdAt, &updatedAt,
	)
	if err != nil {
		return r, wrapScan("rule", err)
	}

	r.ProgramNodeID = stringPtr(nodeID)
	r.Mode = recurrence.Mode(mode)
	r.IntervalUnit = recurrence.IntervalUnit(unit)
	r.EndMode = recurrence.EndMode(endMode)

	if r.StartDate, err = parseDate(startDate); err != nil {
		return r, fmt.Errorf("sqlite: parse rule start_date: %w", err)
	}
	if r.EndDate, err = parseDate(endDate); err != nil {
		return r, fmt.Errorf("sqlite: parse rule end_date: %w", err)
	}
	if r.UntilDate, err = parseDate(untilDate); err != nil {
		return r, fmt.Errorf("sqlite: parse rule until_date: %w", err)
	}
	if r.StartTime, err = localTimePtr(startTime); err != nil {
		return r, fmt.Errorf("sqlite: parse rule start_time: %w", err)
	}
	if r.EndTime, err = localTimePtr(endTime); err != nil {
		return r, fmt.Errorf("sqlite: parse rule end_time: %w", err)
	}
	if r.ByWeekday, err = decodeWeekdays(byWeekday); err != nil {
		return r, fmt.Errorf("sqlite: parse rule by_weekday: %w", err)
	}
	if r.ByMonthday, err = decodeInts(byMonthday); err != nil {
		return r, fmt.Errorf("sqlite: parse rule by_monthday: %w", err)
	}
	if configJSON.Valid {
		if r.Config, err = recurrence.DecodeConfig(r.Mode, []byte(configJSON.String)); err != nil {
			return r, fmt.Errorf("sqlite: parse rule config: %w", err)
		}
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return r, fmt.Errorf("sqlite: parse rule created_at: %w", err)
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return r, fmt.Errorf("sqlite: parse rule updated_at: %w", err)
	}
	return r, nil
}
