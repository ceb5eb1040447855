package migration

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMigrationFailed      = errors.New("migration execution failed")
	ErrInvalidMigrationFile = errors.New("invalid migration file format")
	// ErrVersionConflict marks a gap in the file sequence or an applied
	// version that no longer has a file.
	ErrVersionConflict  = errors.New("migration version conflict")
	ErrDuplicateVersion = errors.New("duplicate migration version")
	// ErrChecksumMismatch marks an applied file that was edited afterwards.
	ErrChecksumMismatch = errors.New("migration checksum mismatch")
)

// MigrationError ties a failure to the migration and the step that failed.
// File is empty for failures of the version table itself.
type MigrationError struct {
	Version string
	File    string
	Step    string
	Err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	b.WriteString("migration")
	if e.Version != "" {
		b.WriteString(" " + e.Version)
	}
	if e.File != "" {
		fmt.Fprintf(&b, " (%s)", e.File)
	}
	fmt.Fprintf(&b, ": %s: %v", e.Step, e.Err)
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// NewMigrationError reports a failure while handling the given file.
func NewMigrationError(version, file, step string, err error) *MigrationError {
	return &MigrationError{Version: version, File: file, Step: step, Err: err}
}

// dbError reports a database failure that is not tied to a file.
func dbError(version, step string, err error) *MigrationError {
	return &MigrationError{Version: version, Step: step, Err: err}
}
