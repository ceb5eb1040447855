package migration

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"
)

func mapFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, content := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(content)}
	}
	return fsys
}

func TestFileScanner_ScanMigrations(t *testing.T) {
	tests := []struct {
		name          string
		files         map[string]string
		expectedOrder []string
		expectError   error
		errorContains string
	}{
		{
			name: "ordered by numeric version",
			files: map[string]string{
				"002_rules.sql":    "CREATE TABLE rules (id TEXT PRIMARY KEY);",
				"001_programs.sql": "CREATE TABLE programs (id TEXT PRIMARY KEY);",
				"010_indexes.sql":  "CREATE INDEX idx ON rules (id);",
			},
			expectedOrder: []string{"001", "002", "010"},
		},
		{
			name: "non-sql files are ignored",
			files: map[string]string{
				"001_programs.sql": "CREATE TABLE programs (id TEXT PRIMARY KEY);",
				"README.md":        "# migrations",
			},
			expectedOrder: []string{"001"},
		},
		{
			name:          "empty directory",
			files:         map[string]string{},
			expectedOrder: []string{},
		},
		{
			name: "invalid filename",
			files: map[string]string{
				"programs.sql": "CREATE TABLE programs (id TEXT PRIMARY KEY);",
			},
			expectError:   ErrInvalidMigrationFile,
			errorContains: "does not match pattern",
		},
		{
			name: "duplicate version",
			files: map[string]string{
				"001_programs.sql":  "CREATE TABLE programs (id TEXT PRIMARY KEY);",
				"0001_programs.sql": "CREATE TABLE other (id TEXT PRIMARY KEY);",
			},
			expectError: ErrDuplicateVersion,
		},
		{
			name: "only comments",
			files: map[string]string{
				"001_empty.sql": "-- Description: nothing here\n-- still nothing\n",
			},
			expectError:   ErrInvalidMigrationFile,
			errorContains: "no SQL statements",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			migrations, err := NewFileScanner().ScanMigrations(mapFS(tt.files))
			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Fatalf("expected %v, got %v", tt.expectError, err)
				}
				if tt.errorContains != "" && !strings.Contains(err.Error(), tt.errorContains) {
					t.Fatalf("expected error containing %q, got %q", tt.errorContains, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(migrations) != len(tt.expectedOrder) {
				t.Fatalf("expected %d migrations, got %d", len(tt.expectedOrder), len(migrations))
			}
			for i, version := range tt.expectedOrder {
				if migrations[i].Version != version {
					t.Fatalf("position %d: expected version %s, got %s", i, version, migrations[i].Version)
				}
				if migrations[i].Checksum == "" {
					t.Fatalf("migration %s has no checksum", version)
				}
			}
		})
	}
}

func TestExtractDescription(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"-- Description: schedule tables\nCREATE TABLE a (id TEXT);": "schedule tables",
		"\n\n-- header\n-- Description: later line\nSELECT 1;":       "later line",
		"CREATE TABLE a (id TEXT);\n-- Description: too late":        "",
	}
	for content, want := range tests {
		if got := extractDescription(content); got != want {
			t.Fatalf("extractDescription(%q) = %q, want %q", content, got, want)
		}
	}
}

func TestDescriptionFallsBackToFileName(t *testing.T) {
	t.Parallel()

	migrations, err := NewFileScanner().ScanMigrations(mapFS(map[string]string{
		"001_schedule_tables.sql": "CREATE TABLE a (id TEXT);",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if migrations[0].Description != "schedule tables" {
		t.Fatalf("unexpected description %q", migrations[0].Description)
	}
}

func TestSplitStatements(t *testing.T) {
	t.Parallel()

	sql := `-- Description: two statements
CREATE TABLE a (id TEXT);

-- comment between
CREATE INDEX idx_a ON a (id);
`
	statements := splitStatements(sql)
	if len(statements) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(statements), statements)
	}
	if statements[1] != "CREATE INDEX idx_a ON a (id)" {
		t.Fatalf("unexpected second statement %q", statements[1])
	}
}
