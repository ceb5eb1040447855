package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/example/program-scheduler/internal/persistence"
)

const occurrenceColumns = `id, organization_id, program_id, program_node_id, source_key, source_type,
	source_rule_id, title, timezone, local_date, local_start_time, local_end_time,
	starts_at_utc, ends_at_utc, status, metadata_json, created_at, updated_at`

// UpsertOccurrence inserts by (program_id, source_key) or updates the row
// that already holds the key, keeping its id and created_at.
func (s *Store) UpsertOccurrence(ctx context.Context, occurrence persistence.Occurrence) (string, error) {
	if strings.TrimSpace(occurrence.SourceKey) == "" {
		return "", fmt.Errorf("sqlite: occurrence source key is required: %w", persistence.ErrConstraintViolation)
	}
	if strings.TrimSpace(occurrence.ID) == "" {
		return "", fmt.Errorf("sqlite: occurrence id is required: %w", persistence.ErrConstraintViolation)
	}
	metadata, err := nullJSON(occurrence.Metadata)
	if err != nil {
		return "", fmt.Errorf("sqlite: encode occurrence metadata: %w", err)
	}
	if len(occurrence.Metadata) == 0 {
		metadata = sql.NullString{}
	}

	var id string
	err = s.q(ctx).QueryRowContext(ctx, `
		INSERT INTO schedule_occurrences (`+occurrenceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(program_id, source_key) DO UPDATE SET
			organization_id = excluded.organization_id,
			program_node_id = excluded.program_node_id,
			source_type = excluded.source_type,
			source_rule_id = excluded.source_rule_id,
			title = excluded.title,
			timezone = excluded.timezone,
			local_date = excluded.local_date,
			local_start_time = excluded.local_start_time,
			local_end_time = excluded.local_end_time,
			starts_at_utc = excluded.starts_at_utc,
			ends_at_utc = excluded.ends_at_utc,
			status = excluded.status,
			metadata_json = excluded.metadata_json,
			updated_at = excluded.updated_at
		RETURNING id`,
		occurrence.ID, occurrence.OrganizationID, occurrence.ProgramID, nullString(occurrence.ProgramNodeID),
		occurrence.SourceKey, string(occurrence.SourceType), nullString(occurrence.SourceRuleID),
		occurrence.Title, occurrence.Timezone, occurrence.LocalDate.String(),
		nullLocalTime(occurrence.LocalStartTime), nullLocalTime(occurrence.LocalEndTime),
		formatTime(occurrence.StartsAt), formatTime(occurrence.EndsAt), string(occurrence.Status),
		metadata, formatTime(occurrence.CreatedAt), formatTime(occurrence.UpdatedAt),
	).Scan(&id)
	if err != nil {
		return "", s.mapper.MapError(err)
	}
	return id, nil
}

// GetOccurrence retrieves an occurrence within a program.
func (s *Store) GetOccurrence(ctx context.Context, programID, occurrenceID string) (persistence.Occurrence, error) {
	return queryOne(ctx, s, scanOccurrence, `
		SELECT `+occurrenceColumns+` FROM schedule_occurrences WHERE id = ? AND program_id = ?`,
		occurrenceID, programID,
	)
}

// GetOccurrenceBySourceKey retrieves an occurrence by its stable key.
func (s *Store) GetOccurrenceBySourceKey(ctx context.Context, programID, sourceKey string) (persistence.Occurrence, error) {
	return queryOne(ctx, s, scanOccurrence, `
		SELECT `+occurrenceColumns+` FROM schedule_occurrences WHERE program_id = ? AND source_key = ?`,
		programID, sourceKey,
	)
}

// ListOccurrences returns matching occurrences ordered by start instant.
func (s *Store) ListOccurrences(ctx context.Context, programID string, filter persistence.OccurrenceFilter) ([]persistence.Occurrence, error) {
	query := `SELECT ` + occurrenceColumns + ` FROM schedule_occurrences WHERE program_id = ?`
	args := []any{programID}

	if !filter.IncludeCancelled {
		query += ` AND status = ?`
		args = append(args, string(persistence.StatusScheduled))
	}
	if filter.RuleID != "" {
		query += ` AND source_rule_id = ?`
		args = append(args, filter.RuleID)
	}
	if len(filter.SourceTypes) > 0 {
		query += ` AND source_type IN (` + placeholders(len(filter.SourceTypes)) + `)`
		for _, t := range filter.SourceTypes {
			args = append(args, string(t))
		}
	}
	query += ` ORDER BY starts_at_utc, source_key`

	return queryAll(ctx, s, scanOccurrence, query, args...)
}

// CountOccurrences counts every occurrence of a program regardless of status.
func (s *Store) CountOccurrences(ctx context.Context, programID string) (int, error) {
	var count int
	err := s.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM schedule_occurrences WHERE program_id = ?`, programID).Scan(&count)
	if err != nil {
		return 0, s.mapper.MapError(err)
	}
	return count, nil
}

// SetOccurrenceStatus updates the status of each occurrence named by sourceKeys
// and returns how many rows matched.
func (s *Store) SetOccurrenceStatus(ctx context.Context, programID string, sourceKeys []string, status persistence.OccurrenceStatus) (int, error) {
	keys := uniqueStrings(sourceKeys)
	if len(keys) == 0 {
		return 0, nil
	}

	matched := 0
	now := formatTime(time.Now())
	// Chunked to stay under SQLite's bound-parameter limit.
	for start := 0; start < len(keys); start += statusChunkSize {
		end := min(start+statusChunkSize, len(keys))
		chunk := keys[start:end]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, programID)
		for _, key := range chunk {
			args = append(args, key)
		}

		var n int
		err := s.q(ctx).QueryRowContext(ctx, `
			SELECT COUNT(*) FROM schedule_occurrences
			WHERE program_id = ? AND source_key IN (`+placeholders(len(chunk))+`)`,
			args...,
		).Scan(&n)
		if err != nil {
			return matched, s.mapper.MapError(err)
		}
		matched += n

		update := append([]any{string(status), now}, args...)
		update = append(update, string(status))
		if _, err := s.exec(ctx, `
			UPDATE schedule_occurrences SET status = ?, updated_at = ?
			WHERE program_id = ? AND source_key IN (`+placeholders(len(chunk))+`) AND status <> ?`,
			update...,
		); err != nil {
			return matched, err
		}
	}
	return matched, nil
}

const statusChunkSize = 500

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func scanOccurrence(row scanner) (persistence.Occurrence, error) {
	var (
		o                    persistence.Occurrence
		nodeID, ruleID       sql.NullString
		startTime, endTime   sql.NullString
		metadata             sql.NullString
		sourceType, status   string
		localDate            string
		startsAt, endsAt     string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&o.ID, &o.OrganizationID, &o.ProgramID, &nodeID, &o.SourceKey, &sourceType,
		&ruleID, &o.Title, &o.Timezone, &localDate, &startTime, &endTime,
		&startsAt, &endsAt, &status, &metadata, &createdAt, &updatedAt,
	)
	if err != nil {
		return o, wrapScan("occurrence", err)
	}

	o.ProgramNodeID = stringPtr(nodeID)
	o.SourceRuleID = stringPtr(ruleID)
	o.SourceType = persistence.SourceType(sourceType)
	o.Status = persistence.OccurrenceStatus(status)

	if o.LocalDate, err = parseDate(localDate); err != nil {
		return o, fmt.Errorf("sqlite: parse occurrence local_date: %w", err)
	}
	if o.LocalStartTime, err = localTimePtr(startTime); err != nil {
		return o, fmt.Errorf("sqlite: parse occurrence local_start_time: %w", err)
	}
	if o.LocalEndTime, err = localTimePtr(endTime); err != nil {
		return o, fmt.Errorf("sqlite: parse occurrence local_end_time: %w", err)
	}
	if o.StartsAt, err = parseTime(startsAt); err != nil {
		return o, fmt.Errorf("sqlite: parse occurrence starts_at_utc: %w", err)
	}
	if o.EndsAt, err = parseTime(endsAt); err != nil {
		return o, fmt.Errorf("sqlite: parse occurrence ends_at_utc: %w", err)
	}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &o.Metadata); err != nil {
			return o, fmt.Errorf("sqlite: parse occurrence metadata: %w", err)
		}
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return o, fmt.Errorf("sqlite: parse occurrence created_at: %w", err)
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return o, fmt.Errorf("sqlite: parse occurrence updated_at: %w", err)
	}
	return o, nil
}
