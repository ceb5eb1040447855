package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteConfig describes how the schedule database is opened. Foreign keys
// are always enforced; exception rows rely on ON DELETE CASCADE.
type SQLiteConfig struct {
	// DSN is a file path, ":memory:" or a "file:" URI.
	DSN             string
	BusyTimeout     time.Duration
	JournalMode     string
	Synchronous     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

var (
	journalModes     = []string{"DELETE", "TRUNCATE", "PERSIST", "MEMORY", "WAL", "OFF"}
	synchronousModes = []string{"OFF", "NORMAL", "FULL", "EXTRA"}
)

// Validate reports every invalid setting at once.
func (c SQLiteConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DSN) == "" {
		errs = append(errs, errors.New("dsn is required"))
	}
	if c.BusyTimeout < 0 {
		errs = append(errs, errors.New("busy timeout must not be negative"))
	}
	if c.JournalMode != "" && !oneOf(c.JournalMode, journalModes) {
		errs = append(errs, fmt.Errorf("unknown journal mode %q", c.JournalMode))
	}
	if c.Synchronous != "" && !oneOf(c.Synchronous, synchronousModes) {
		errs = append(errs, fmt.Errorf("unknown synchronous mode %q", c.Synchronous))
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 || c.ConnMaxLifetime < 0 {
		errs = append(errs, errors.New("pool limits must not be negative"))
	}
	return errors.Join(errs...)
}

// InMemory reports whether the DSN names a private in-memory database.
func (c SQLiteConfig) InMemory() bool {
	return c.DSN == ":memory:" || strings.Contains(c.DSN, "mode=memory")
}

// OpenDB validates config, makes sure the database directory exists and
// returns a pinged connection pool. Pragmas ride on the DSN so every pooled
// connection receives them.
func OpenDB(ctx context.Context, config SQLiteConfig) (*sql.DB, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite configuration: %w", err)
	}
	if !config.InMemory() && !strings.HasPrefix(config.DSN, "file:") {
		if err := os.MkdirAll(filepath.Dir(config.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", config.dataSourceName())
	if err != nil {
		return nil, fmt.Errorf("open SQLite database: %w", err)
	}
	maxOpen := config.MaxOpenConns
	if config.InMemory() {
		// each connection to ":memory:" would see its own empty database
		maxOpen = 1
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 && !config.InMemory() {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping SQLite database: %w", err)
	}
	return db, nil
}

func (c SQLiteConfig) dataSourceName() string {
	pragmas := url.Values{}
	add := func(name, value string) {
		if !strings.Contains(c.DSN, name) {
			pragmas.Add("_pragma", name+"("+value+")")
		}
	}
	add("foreign_keys", "1")
	if c.BusyTimeout > 0 {
		add("busy_timeout", fmt.Sprint(c.BusyTimeout.Milliseconds()))
	}
	if c.JournalMode != "" {
		add("journal_mode", c.JournalMode)
	}
	if c.Synchronous != "" {
		add("synchronous", c.Synchronous)
	}
	if len(pragmas) == 0 {
		return c.DSN
	}

	sep := "?"
	if strings.Contains(c.DSN, "?") {
		sep = "&"
	}
	return c.DSN + sep + pragmas.Encode()
}

func oneOf(value string, allowed []string) bool {
	for _, candidate := range allowed {
		if strings.EqualFold(value, candidate) {
			return true
		}
	}
	return false
}

// DefaultSQLiteConfig is the production profile: WAL with NORMAL sync.
func DefaultSQLiteConfig(databasePath string) SQLiteConfig {
	return SQLiteConfig{
		DSN:             databasePath,
		BusyTimeout:     5 * time.Second,
		JournalMode:     "WAL",
		Synchronous:     "NORMAL",
		MaxOpenConns:    8,
		MaxIdleConns:    4,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// InMemoryTestSQLiteConfig opens a throwaway database on a single connection.
func InMemoryTestSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		DSN:         ":memory:",
		BusyTimeout: time.Second,
		JournalMode: "MEMORY",
		Synchronous: "OFF",
	}
}

// TempFileTestSQLiteConfig trades durability for speed on a test database file.
func TempFileTestSQLiteConfig(tempFilePath string) SQLiteConfig {
	return SQLiteConfig{
		DSN:          tempFilePath,
		BusyTimeout:  5 * time.Second,
		JournalMode:  "MEMORY",
		Synchronous:  "OFF",
		MaxOpenConns: 4,
		MaxIdleConns: 2,
	}
}
