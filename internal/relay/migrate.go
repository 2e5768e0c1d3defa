package relay

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// migration is one schema step, applied once and tracked in schema_version.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "relay_records: source post id -> destination message id",
		SQL: `
		CREATE TABLE IF NOT EXISTS relay_records (
			source_id   INTEGER PRIMARY KEY,
			dest_id     INTEGER NOT NULL,
			created_at  INTEGER NOT NULL -- unix nanoseconds
		);
		`,
	},
	{
		Version:     2,
		Description: "index relay_records.created_at for retention pruning",
		SQL: `
		CREATE INDEX IF NOT EXISTS idx_relay_records_created ON relay_records(created_at);
		`,
	},
	{
		Version:     3,
		Description: "relay_records.removed_at: ids whose copy was deleted stay closed",
		SQL: `
		ALTER TABLE relay_records ADD COLUMN removed_at INTEGER; -- unix nanoseconds, NULL while live
		`,
	},
}

// schemaVersion is the version after all migrations have run.
var schemaVersion = migrations[len(migrations)-1].Version

// runMigrations applies pending migrations, each in its own transaction.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := getSchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

func getSchemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}
