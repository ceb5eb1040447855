// Package migration applies versioned SQL files to a SQLite database.
//
// Files are read from an fs.FS (normally an embed.FS compiled into the
// binary) and must be named {version}_{description}.sql, for example
// "001_schedule_tables.sql". Versions must be contiguous. Each file runs in
// its own transaction and is recorded, with its checksum, in the
// schema_migrations table so it never runs twice.
//
// Example usage:
//
//	manager := NewMigrationManager(NewFileScanner(), NewSQLiteExecutor(db), files, logger)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return fmt.Errorf("migrate: %w", err)
//	}
package migration
