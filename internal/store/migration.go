package store

import (
	"database/sql"
	"fmt"

	"github.com/lkern/shrinkarr/internal/logger"
)

// schemaVersion is the current schema watermark. Bump it together with a
// migration step below whenever the schema changes.
const schemaVersion = 3

// migrate brings an existing database up to schemaVersion. The base schema
// already creates tables missing from old databases, so steps only need to
// add columns and indexes before recording the new watermark.
func migrate(db *sql.DB) error {
	var version int
	err := db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		// Fresh database
		_, err = db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion)
		if err != nil {
			return fmt.Errorf("insert schema version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}

	if version < 2 {
		// v1 -> v2: per-library filesystem watching
		if _, err := db.Exec(`ALTER TABLE libraries ADD COLUMN watch_enabled INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("add watch_enabled column: %w", err)
		}
	}
	if version < 3 {
		// v2 -> v3: hourly aggregates; table and index come from the base schema
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_stats_hourly_hour ON stats_hourly(hour_utc)`); err != nil {
			return fmt.Errorf("create stats_hourly index: %w", err)
		}
	}

	if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("update schema version: %w", err)
	}
	return nil
}

// Open is the startup entry point: it opens (creating if necessary) the
// database, applies migrations, and requeues any file left in encoding by
// a previous run.
func Open(dbPath string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	count, err := s.ResetEncoding()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("reset interrupted encodes: %w", err)
	}
	if count > 0 {
		logger.Info("Requeued interrupted encodes", "count", count)
	}

	return s, nil
}
