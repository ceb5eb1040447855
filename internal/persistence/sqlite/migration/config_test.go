package migration

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestSQLiteConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  SQLiteConfig
		wantErr []string
	}{
		{name: "defaults are valid", config: DefaultSQLiteConfig("scheduler.db")},
		{name: "test profile is valid", config: InMemoryTestSQLiteConfig()},
		{
			name:    "every problem is reported",
			config:  SQLiteConfig{BusyTimeout: -1, JournalMode: "ROLLBACK", Synchronous: "SOMETIMES", MaxOpenConns: -1},
			wantErr: []string{"dsn is required", "busy timeout", `"ROLLBACK"`, `"SOMETIMES"`, "pool limits"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.config.Validate()
			if len(tc.wantErr) == 0 {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			for _, want := range tc.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("Validate() = %q, missing %q", err, want)
				}
			}
		})
	}
}

func TestSQLiteConfig_DataSourceName(t *testing.T) {
	t.Parallel()

	dsn := DefaultSQLiteConfig("data/scheduler.db").dataSourceName()
	for _, want := range []string{"foreign_keys%281%29", "busy_timeout%285000%29", "journal_mode%28WAL%29", "synchronous%28NORMAL%29"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dataSourceName() = %q, missing %q", dsn, want)
		}
	}
	if !strings.HasPrefix(dsn, "data/scheduler.db?") {
		t.Errorf("dataSourceName() = %q, want the path first", dsn)
	}

	explicit := SQLiteConfig{DSN: "file:x.db?_pragma=foreign_keys(0)"}.dataSourceName()
	if strings.Count(explicit, "foreign_keys") != 1 {
		t.Errorf("dataSourceName() = %q, caller pragma should win", explicit)
	}
}

func TestOpenDB_EnforcesForeignKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "scheduler.db")
	db, err := OpenDB(context.Background(), TempFileTestSQLiteConfig(path))
	if err != nil {
		t.Fatalf("OpenDB() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	var enabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&enabled); err != nil {
		t.Fatalf("read pragma: %v", err)
	}
	if enabled != 1 {
		t.Fatalf("foreign_keys = %d, want 1", enabled)
	}
}

func TestOpenDB_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	if _, err := OpenDB(context.Background(), SQLiteConfig{}); err == nil {
		t.Fatal("OpenDB() error = nil, want validation error")
	}
}
