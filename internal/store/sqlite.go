package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lkern/shrinkarr/internal/errs"
)

const schema = `
CREATE TABLE IF NOT EXISTS libraries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	path TEXT NOT NULL UNIQUE,
	enabled INTEGER NOT NULL DEFAULT 1,
	watch_enabled INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS exclusions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	library_id INTEGER REFERENCES libraries(id) ON DELETE CASCADE,
	pattern TEXT NOT NULL,
	type TEXT NOT NULL,
	reason TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	library_id INTEGER NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
	file_path TEXT NOT NULL UNIQUE,
	file_name TEXT NOT NULL,
	original_codec TEXT,
	original_bitrate INTEGER,
	original_size INTEGER,
	original_width INTEGER,
	original_height INTEGER,
	is_hdr INTEGER NOT NULL DEFAULT 0,
	new_size INTEGER,
	status TEXT NOT NULL,
	skip_reason TEXT,
	error_message TEXT,
	started_at TEXT,
	completed_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS stats_daily (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	date TEXT NOT NULL UNIQUE,
	total_files_processed INTEGER NOT NULL DEFAULT 0,
	total_space_saved INTEGER NOT NULL DEFAULT 0,
	files_finished INTEGER NOT NULL DEFAULT 0,
	files_skipped INTEGER NOT NULL DEFAULT 0,
	files_rejected INTEGER NOT NULL DEFAULT 0,
	files_errored INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS stats_hourly (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	hour_utc TEXT NOT NULL UNIQUE,
	total_files_processed INTEGER NOT NULL DEFAULT 0,
	total_space_saved INTEGER NOT NULL DEFAULT 0,
	files_finished INTEGER NOT NULL DEFAULT 0,
	files_skipped INTEGER NOT NULL DEFAULT 0,
	files_rejected INTEGER NOT NULL DEFAULT 0,
	files_errored INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS encoding_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	event TEXT NOT NULL,
	details TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_files_status ON files(status);
CREATE INDEX IF NOT EXISTS idx_files_library_id ON files(library_id);
CREATE INDEX IF NOT EXISTS idx_exclusions_library_id ON exclusions(library_id);
CREATE INDEX IF NOT EXISTS idx_encoding_log_file_id ON encoding_log(file_id);
CREATE INDEX IF NOT EXISTS idx_stats_hourly_hour ON stats_hourly(hour_utc);
`

// SQLiteStore is the SQLite-backed store.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex // Protects concurrent access
	path string
}

// NewSQLiteStore opens (creating if necessary) the database at dbPath,
// applies pending schema migrations, and returns the store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// Create schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

// ResetEncoding returns any file stuck in encoding to queued and clears its
// started_at. Called once at startup; this is the crash-recovery contract.
func (s *SQLiteStore) ResetEncoding() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE files
		SET status = 'queued', started_at = NULL, updated_at = ?
		WHERE status = 'encoding'
	`, formatTime(time.Now()))
	if err != nil {
		return 0, errs.Storagef("reset encoding", err)
	}

	count, err := result.RowsAffected()
	return int(count), err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Helper functions for SQL values

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i int) interface{} {
	if i == 0 {
		return nil
	}
	return i
}

func nullInt64(i int64) interface{} {
	if i == 0 {
		return nil
	}
	return i
}

func nullLibraryID(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// now returns the current UTC time formatted for storage.
func now() string {
	return formatTime(time.Now())
}
