package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Schema changes are append-only: step i brings the database to version i+1,
// and PRAGMA user_version records the last step applied.
var schema = []struct {
	name string
	ddl  []string
}{
	{
		name: "conversations and captured agent context",
		ddl: []string{
			`CREATE TABLE IF NOT EXISTS conversations (
				id          TEXT PRIMARY KEY,
				agent       TEXT NOT NULL,
				tenant_id   TEXT NOT NULL,
				user_id     TEXT NOT NULL,
				title       TEXT DEFAULT '',
				status      TEXT NOT NULL DEFAULT 'active',
				messages    TEXT NOT NULL DEFAULT '[]',
				usage_count INTEGER DEFAULT 0,
				created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_conversations_owner
				ON conversations(agent, tenant_id, user_id, status, updated_at)`,
			`CREATE TABLE IF NOT EXISTS agent_context (
				tenant_id   TEXT NOT NULL,
				agent       TEXT NOT NULL,
				field       TEXT NOT NULL,
				value       TEXT NOT NULL,
				updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (tenant_id, agent, field)
			)`,
		},
	},
	{
		name: "generated images and videos",
		ddl: []string{
			`CREATE TABLE IF NOT EXISTS media (
				id           TEXT PRIMARY KEY,
				kind         TEXT NOT NULL,
				agent        TEXT NOT NULL,
				tenant_id    TEXT NOT NULL,
				user_id      TEXT NOT NULL,
				prompt       TEXT NOT NULL,
				aspect       TEXT DEFAULT '',
				duration_sec INTEGER DEFAULT 0,
				style        TEXT DEFAULT '',
				status       TEXT NOT NULL,
				url          TEXT DEFAULT '',
				error        TEXT DEFAULT '',
				created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_media_tenant ON media(tenant_id, created_at)`,
		},
	},
	{
		name: "escalation audit log",
		ddl: []string{
			`CREATE TABLE IF NOT EXISTS escalations (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				agent       TEXT NOT NULL,
				tenant_id   TEXT NOT NULL,
				user_id     TEXT NOT NULL,
				reason      TEXT NOT NULL,
				delivered   INTEGER DEFAULT 0,
				error       TEXT DEFAULT '',
				created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_escalations_time ON escalations(created_at)`,
		},
	},
}

// schemaVersion is the version a fully migrated database reports.
var schemaVersion = len(schema)

// Migrate brings db up to schemaVersion. Each step runs in its own
// transaction together with the user_version bump. A database written by a
// newer build is refused.
func Migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > schemaVersion {
		return fmt.Errorf("database schema v%d is newer than this build (v%d)", current, schemaVersion)
	}

	for v := current + 1; v <= schemaVersion; v++ {
		step := schema[v-1]
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("schema v%d: %w", v, err)
		}
		for _, stmt := range step.ddl {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("schema v%d (%s): %w", v, step.name, err)
			}
		}
		// PRAGMA does not take bind parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
			tx.Rollback()
			return fmt.Errorf("schema v%d: record version: %w", v, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("schema v%d: commit: %w", v, err)
		}
		logger.Info("database schema upgraded", "version", v, "step", step.name)
	}
	return nil
}

// SchemaVersion reports the schema version stored in db; 0 for a new file.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}
