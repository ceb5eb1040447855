package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/program-scheduler/internal/persistence"
)

// ImportLegacyBlock stores one pre-rule-engine schedule block.
func (s *Store) ImportLegacyBlock(ctx context.Context, block persistence.LegacyScheduleBlock) error {
	_, err := s.exec(ctx, `
		INSERT INTO legacy_schedule_blocks
			(id, program_id, kind, title, timezone, start_date, end_date, weekdays, start_time, end_time, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		block.ID, block.ProgramID, string(block.Kind), block.Title, block.Timezone,
		block.StartDate.String(), block.EndDate.String(), encodeWeekdays(block.Weekdays),
		nullLocalTime(block.StartTime), nullLocalTime(block.EndTime), block.Position,
	)
	return err
}

// ListLegacyBlocks returns a program's legacy blocks ordered by position.
func (s *Store) ListLegacyBlocks(ctx context.Context, programID string) ([]persistence.LegacyScheduleBlock, error) {
	return queryAll(ctx, s, scanLegacyBlock, `
		SELECT id, program_id, kind, title, timezone, start_date, end_date, weekdays, start_time, end_time, position
		FROM legacy_schedule_blocks WHERE program_id = ?
		ORDER BY position, rowid`,
		programID,
	)
}

func scanLegacyBlock(row scanner) (persistence.LegacyScheduleBlock, error) {
	var (
		b                  persistence.LegacyScheduleBlock
		kind, weekdays     string
		startDate, endDate string
		startTime, endTime sql.NullString
	)
	err := row.Scan(&b.ID, &b.ProgramID, &kind, &b.Title, &b.Timezone,
		&startDate, &endDate, &weekdays, &startTime, &endTime, &b.Position)
	if err != nil {
		return b, wrapScan("legacy block", err)
	}

	b.Kind = persistence.LegacyBlockKind(kind)
	if b.StartDate, err = parseDate(startDate); err != nil {
		return b, fmt.Errorf("sqlite: parse legacy start_date: %w", err)
	}
	if b.EndDate, err = parseDate(endDate); err != nil {
		return b, fmt.Errorf("sqlite: parse legacy end_date: %w", err)
	}
	if b.Weekdays, err = decodeWeekdays(weekdays); err != nil {
		return b, fmt.Errorf("sqlite: parse legacy weekdays: %w", err)
	}
	if b.StartTime, err = localTimePtr(startTime); err != nil {
		return b, fmt.Errorf("sqlite: parse legacy start_time: %w", err)
	}
	if b.EndTime, err = localTimePtr(endTime); err != nil {
		return b, fmt.Errorf("sqlite: parse legacy end_time: %w", err)
	}
	return b, nil
}
