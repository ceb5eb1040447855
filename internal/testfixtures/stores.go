package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/example/program-scheduler/internal/persistence"
	"github.com/example/program-scheduler/internal/persistence/memory"
	"github.com/example/program-scheduler/internal/persistence/sqlite"
	"github.com/example/program-scheduler/internal/persistence/sqlite/migration"
)

// StoreFactory opens a fresh, empty store for one test.
type StoreFactory func(tb testing.TB) persistence.Store

// StoreFactories lists every store implementation so contract tests can run
// the same assertions against each of them.
func StoreFactories() map[string]StoreFactory {
	return map[string]StoreFactory{
		"memory": NewMemoryStore,
		"sqlite": NewSQLiteStore,
	}
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(tb testing.TB) persistence.Store {
	tb.Helper()
	store := memory.Open()
	tb.Cleanup(func() { _ = store.Close() })
	return store
}

// NewSQLiteStore opens a migrated SQLite store in a temporary file that is
// removed when the test ends.
func NewSQLiteStore(tb testing.TB) persistence.Store {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "scheduler.db")
	store, err := sqlite.Open(migration.TempFileTestSQLiteConfig(path), DiscardLogger())
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	tb.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		tb.Fatalf("failed to migrate storage: %v", err)
	}
	return store
}

// SeedProgram creates program in store and fails the test on error.
func SeedProgram(tb testing.TB, store persistence.Store, program persistence.Program) persistence.Program {
	tb.Helper()
	if err := store.CreateProgram(context.Background(), program); err != nil {
		tb.Fatalf("failed to seed program %s: %v", program.ID, err)
	}
	return program
}

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
