package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/program-scheduler/internal/persistence"
)

const exceptionColumns = `id, organization_id, program_id, rule_id, source_key, kind,
	override_occurrence_id, payload_json, created_at, updated_at`

// UpsertException inserts or replaces the exception for (program, rule, source key)
// and returns the id of the stored row.
func (s *Store) UpsertException(ctx context.Context, exception persistence.ScheduleException) (string, error) {
	if strings.TrimSpace(exception.ID) == "" {
		return "", fmt.Errorf("sqlite: exception id is required: %w", persistence.ErrConstraintViolation)
	}
	payload, err := nullJSON(exception.Payload)
	if err != nil {
		return "", fmt.Errorf("sqlite: encode exception payload: %w", err)
	}

	var id string
	err = s.q(ctx).QueryRowContext(ctx, `
		INSERT INTO schedule_exceptions (`+exceptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(program_id, rule_id, source_key) DO UPDATE SET
			organization_id = excluded.organization_id,
			kind = excluded.kind,
			override_occurrence_id = excluded.override_occurrence_id,
			payload_json = excluded.payload_json,
			updated_at = excluded.updated_at
		RETURNING id`,
		exception.ID, exception.OrganizationID, exception.ProgramID, exception.RuleID,
		exception.SourceKey, string(exception.Kind), nullString(exception.OverrideOccurrenceID),
		payload, formatTime(exception.CreatedAt), formatTime(exception.UpdatedAt),
	).Scan(&id)
	if err != nil {
		return "", s.mapper.MapError(err)
	}
	return id, nil
}

// GetException retrieves the standing exception for a rule occurrence.
func (s *Store) GetException(ctx context.Context, programID, ruleID, sourceKey string) (persistence.ScheduleException, error) {
	return queryOne(ctx, s, scanException, `
		SELECT `+exceptionColumns+` FROM schedule_exceptions
		WHERE program_id = ? AND rule_id = ? AND source_key = ?`,
		programID, ruleID, sourceKey,
	)
}

// ListExceptions returns a program's exceptions, limited to one rule when ruleID is set.
func (s *Store) ListExceptions(ctx context.Context, programID, ruleID string) ([]persistence.ScheduleException, error) {
	query := `SELECT ` + exceptionColumns + ` FROM schedule_exceptions WHERE program_id = ?`
	args := []any{programID}
	if ruleID != "" {
		query += ` AND rule_id = ?`
		args = append(args, ruleID)
	}
	query += ` ORDER BY rule_id, source_key`
	return queryAll(ctx, s, scanException, query, args...)
}

// DeleteException removes one exception.
func (s *Store) DeleteException(ctx context.Context, programID, ruleID, sourceKey string) error {
	res, err := s.exec(ctx, `
		DELETE FROM schedule_exceptions WHERE program_id = ? AND rule_id = ? AND source_key = ?`,
		programID, ruleID, sourceKey,
	)
	if err != nil {
		return err
	}
	return affected(res)
}

// DeleteExceptionsForRule removes every exception of a rule.
func (s *Store) DeleteExceptionsForRule(ctx context.Context, programID, ruleID string) error {
	_, err := s.exec(ctx, `DELETE FROM schedule_exceptions WHERE program_id = ? AND rule_id = ?`, programID, ruleID)
	return err
}

func scanException(row scanner) (persistence.ScheduleException, error) {
	var (
		e                    persistence.ScheduleException
		overrideID, payload  sql.NullString
		kind                 string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&e.ID, &e.OrganizationID, &e.ProgramID, &e.RuleID, &e.SourceKey, &kind,
		&overrideID, &payload, &createdAt, &updatedAt,
	)
	if err != nil {
		return e, wrapScan("exception", err)
	}

	e.Kind = persistence.ExceptionKind(kind)
	e.OverrideOccurrenceID = stringPtr(overrideID)
	if payload.Valid {
		var p persistence.ExceptionPayload
		if err := json.Unmarshal([]byte(payload.String), &p); err != nil {
			return e, fmt.Errorf("sqlite: parse exception payload: %w", err)
		}
		e.Payload = &p
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return e, fmt.Errorf("sqlite: parse exception created_at: %w", err)
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return e, fmt.Errorf("sqlite: parse exception updated_at: %w", err)
	}
	return e, nil
}
