package db

import (
	"fmt"
	"log/slog"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// postgresMigrations contains all PostgreSQL-specific migrations
var postgresMigrations = []Migration{
	{
		Version: 1,
		Name:    "create_players_table",
		SQL: `
			CREATE TABLE IF NOT EXISTS players (
				name TEXT PRIMARY KEY,
				summoner_name TEXT NOT NULL DEFAULT '',
				tag_line TEXT NOT NULL DEFAULT '',
				region TEXT NOT NULL DEFAULT '',
				primary_role TEXT NOT NULL DEFAULT '',
				secondary_role TEXT NOT NULL DEFAULT '',
				tier TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		Version: 2,
		Name:    "create_schema_version_table",
		SQL: `
			CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER PRIMARY KEY,
				applied_at TIMESTAMPTZ DEFAULT NOW()
			);
		`,
	},
	{
		Version: 3,
		Name:    "create_extraction_schedules_table",
		SQL: `
			CREATE TABLE IF NOT EXISTS extraction_schedules (
				id TEXT PRIMARY KEY,
				kind TEXT NOT NULL CHECK(kind IN ('one_time', 'recurring')),
				config JSONB NOT NULL DEFAULT '{}',
				next_run_at TIMESTAMPTZ NOT NULL,
				interval_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
				status TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				last_run_at TIMESTAMPTZ
			);

			CREATE INDEX IF NOT EXISTS idx_schedules_status ON extraction_schedules(status);
			CREATE INDEX IF NOT EXISTS idx_schedules_next_run_at ON extraction_schedules(next_run_at);
		`,
	},
}

// migratePostgres runs PostgreSQL-specific database migrations
func (d *DB) migratePostgres() error {
	slog.Default().Info("creating schema_version table")
	// Ensure schema_version table exists
	if _, err := d.db.Exec(postgresMigrations[1].SQL); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	slog.Default().Info("checking current schema version")
	// Get current version
	var currentVersion int
	err := d.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	slog.Default().Info("current schema version", "version", currentVersion)

	// Run pending migrations
	for _, migration := range postgresMigrations {
		if migration.Version <= currentVersion {
			slog.Default().Debug("skipping migration (already applied)", "version", migration.Version)
			continue
		}

		slog.Default().Info("applying migration", "version", migration.Version, "name", migration.Name)
		tx, err := d.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		// Execute migration SQL
		if _, err := tx.Exec(migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d (%s): %w", migration.Version, migration.Name, err)
		}

		// Record migration (use PostgreSQL $1 placeholder instead of ?)
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES ($1)", migration.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		slog.Default().Info("migration applied successfully", "version", migration.Version, "name", migration.Name)
	}

	slog.Default().Info("all migrations complete")
	return nil
}
