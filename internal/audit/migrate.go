package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of schema migrations, each applied exactly
// once and tracked in the schema_version table.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: audit_log",
		SQL: `
		CREATE TABLE IF NOT EXISTS audit_log (
			seq            INTEGER PRIMARY KEY AUTOINCREMENT,
			id             TEXT NOT NULL UNIQUE,
			ts             DATETIME NOT NULL,
			actor_id       TEXT NOT NULL,
			action_name    TEXT NOT NULL,
			category       TEXT DEFAULT '',
			mode           TEXT DEFAULT '',
			outcome        TEXT NOT NULL,
			result_preview TEXT DEFAULT '',
			duration_ms    INTEGER DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts);
		`,
	},
	{
		Version:     2,
		Description: "v2: request source column, outcome and actor indexes",
		SQL: `
		ALTER TABLE audit_log ADD COLUMN source TEXT DEFAULT '';
		CREATE INDEX IF NOT EXISTS idx_audit_outcome ON audit_log(outcome, ts);
		CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor_id, ts);
		`,
	},
}

// RunMigrations applies all pending schema migrations inside one
// transaction per version.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying audit migration", "version", m.Version, "description", m.Description)

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

// GetSchemaVersion returns the highest applied migration version.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}
