package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/example/program-scheduler/internal/persistence"
)

// CreateProgram stores a new program.
func (s *Store) CreateProgram(ctx context.Context, program persistence.Program) error {
	if program.ID == "" {
		return persistence.ErrConstraintViolation
	}
	if program.ScheduleVersion == "" {
		program.ScheduleVersion = persistence.ScheduleVersionLegacy
	}
	_, err := s.exec(ctx, `
		INSERT INTO programs (id, organization_id, name, schedule_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		program.ID, program.OrganizationID, program.Name, string(program.ScheduleVersion),
		formatTime(program.CreatedAt), formatTime(program.UpdatedAt),
	)
	return err
}

// GetProgram returns the program only when it belongs to organizationID.
func (s *Store) GetProgram(ctx context.Context, organizationID, programID string) (persistence.Program, error) {
	return queryOne(ctx, s, scanProgram, `
		SELECT id, organization_id, name, schedule_version, created_at, updated_at
		FROM programs WHERE id = ? AND organization_id = ?`,
		programID, organizationID,
	)
}

// SetScheduleVersion moves a program between schedule representations.
func (s *Store) SetScheduleVersion(ctx context.Context, programID string, version persistence.ScheduleVersion) error {
	return s.RunInTx(ctx, func(ctx context.Context) error {
		var current string
		err := s.q(ctx).QueryRowContext(ctx, `SELECT schedule_version FROM programs WHERE id = ?`, programID).Scan(&current)
		if err != nil {
			return s.mapper.MapError(err)
		}
		from := persistence.ScheduleVersion(current)
		if !from.CanTransitionTo(version) {
			return fmt.Errorf("sqlite: %s to %s: %w", from, version, persistence.ErrInvalidTransition)
		}
		if from == version {
			return nil
		}
		_, err = s.exec(ctx, `UPDATE programs SET schedule_version = ?, updated_at = ? WHERE id = ?`,
			string(version), formatTime(time.Now()), programID)
		return err
	})
}

func scanProgram(row scanner) (persistence.Program, error) {
	var (
		p                    persistence.Program
		version              string
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.OrganizationID, &p.Name, &version, &createdAt, &updatedAt); err != nil {
		return p, wrapScan("program", err)
	}
	p.ScheduleVersion = persistence.ScheduleVersion(version)

	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return p, fmt.Errorf("sqlite: parse program created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return p, fmt.Errorf("sqlite: parse program updated_at: %w", err)
	}
	return p, nil
}
