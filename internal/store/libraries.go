package store

import (
	"database/sql"

	"github.com/lkern/shrinkarr/internal/errs"
	"github.com/lkern/shrinkarr/internal/media"
)

// CreateLibrary inserts a new library and fills in its ID and timestamps.
// A duplicate path is a Conflict.
func (s *SQLiteStore) CreateLibrary(lib *media.Library) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	result, err := s.db.Exec(`
		INSERT INTO libraries (name, path, enabled, watch_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, lib.Name, lib.Path, boolToInt(lib.Enabled), boolToInt(lib.WatchEnabled), ts, ts)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.Conflictf("library path already exists: %s", lib.Path)
		}
		return errs.Storagef("create library", err)
	}

	lib.ID, _ = result.LastInsertId()
	lib.CreatedAt = parseTime(ts)
	lib.UpdatedAt = lib.CreatedAt
	return nil
}

// GetLibrary retrieves a library by ID.
func (s *SQLiteStore) GetLibrary(id int64) (*media.Library, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, name, path, enabled, watch_enabled, created_at, updated_at
		FROM libraries WHERE id = ?
	`, id)

	lib, err := scanLibrary(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("library %d", id)
	}
	if err != nil {
		return nil, errs.Storagef("get library", err)
	}
	return lib, nil
}

// ListLibraries returns all libraries ordered by name.
func (s *SQLiteStore) ListLibraries() ([]*media.Library, error) {
	return s.listLibraries(false)
}

// ListEnabledLibraries returns enabled libraries ordered by name.
func (s *SQLiteStore) ListEnabledLibraries() ([]*media.Library, error) {
	return s.listLibraries(true)
}

func (s *SQLiteStore) listLibraries(enabledOnly bool) ([]*media.Library, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, name, path, enabled, watch_enabled, created_at, updated_at
		FROM libraries
	`
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY name ASC"

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, errs.Storagef("list libraries", err)
	}
	defer rows.Close()

	var libs []*media.Library
	for rows.Next() {
		lib, err := scanLibrary(rows)
		if err != nil {
			return nil, errs.Storagef("scan library", err)
		}
		libs = append(libs, lib)
	}
	return libs, rows.Err()
}

// UpdateLibrary persists name, path, enabled and watch_enabled. Disabling a
// library drops its queued files; historical rows are retained.
func (s *SQLiteStore) UpdateLibrary(lib *media.Library) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var wasEnabled int
	err := s.db.QueryRow("SELECT enabled FROM libraries WHERE id = ?", lib.ID).Scan(&wasEnabled)
	if err == sql.ErrNoRows {
		return errs.NotFoundf("library %d", lib.ID)
	}
	if err != nil {
		return errs.Storagef("get library", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errs.Storagef("begin update library", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		UPDATE libraries
		SET name = ?, path = ?, enabled = ?, watch_enabled = ?, updated_at = ?
		WHERE id = ?
	`, lib.Name, lib.Path, boolToInt(lib.Enabled), boolToInt(lib.WatchEnabled), now(), lib.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.Conflictf("library path already exists: %s", lib.Path)
		}
		return errs.Storagef("update library", err)
	}

	if wasEnabled != 0 && !lib.Enabled {
		if _, err := tx.Exec("DELETE FROM files WHERE library_id = ? AND status = 'queued'", lib.ID); err != nil {
			return errs.Storagef("drop queued files", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Storagef("commit update library", err)
	}
	return nil
}

// DeleteLibrary removes a library. Files and exclusions cascade.
func (s *SQLiteStore) DeleteLibrary(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM libraries WHERE id = ?", id)
	if err != nil {
		return errs.Storagef("delete library", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errs.NotFoundf("library %d", id)
	}
	return nil
}

func scanLibrary(row rowScanner) (*media.Library, error) {
	var lib media.Library
	var enabled, watchEnabled int
	var createdAt, updatedAt string

	err := row.Scan(&lib.ID, &lib.Name, &lib.Path, &enabled, &watchEnabled, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	lib.Enabled = enabled != 0
	lib.WatchEnabled = watchEnabled != 0
	lib.CreatedAt = parseTime(createdAt)
	lib.UpdatedAt = parseTime(updatedAt)
	return &lib, nil
}

// CreateExclusion inserts a rule and fills in its ID and created_at.
func (s *SQLiteStore) CreateExclusion(ex *media.Exclusion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	result, err := s.db.Exec(`
		INSERT INTO exclusions (library_id, pattern, type, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, nullLibraryID(ex.LibraryID), ex.Pattern, string(ex.Type), nullString(ex.Reason), ts)
	if err != nil {
		return errs.Storagef("create exclusion", err)
	}

	ex.ID, _ = result.LastInsertId()
	ex.CreatedAt = parseTime(ts)
	return nil
}

// GetExclusion retrieves a rule by ID.
func (s *SQLiteStore) GetExclusion(id int64) (*media.Exclusion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, library_id, pattern, type, reason, created_at
		FROM exclusions WHERE id = ?
	`, id)

	ex, err := scanExclusion(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("exclusion %d", id)
	}
	if err != nil {
		return nil, errs.Storagef("get exclusion", err)
	}
	return ex, nil
}

// ListExclusions returns all rules in evaluation order: global rules first,
// then per-library, patterns alphabetical within each group.
func (s *SQLiteStore) ListExclusions() ([]*media.Exclusion, error) {
	return s.queryExclusions(`
		SELECT id, library_id, pattern, type, reason, created_at
		FROM exclusions
		ORDER BY library_id IS NOT NULL, library_id, pattern
	`)
}

// ListExclusionsForLibrary returns the rules in scope for one library
// (global rules plus that library's own), in evaluation order.
func (s *SQLiteStore) ListExclusionsForLibrary(libraryID int64) ([]*media.Exclusion, error) {
	return s.queryExclusions(`
		SELECT id, library_id, pattern, type, reason, created_at
		FROM exclusions
		WHERE library_id IS NULL OR library_id = ?
		ORDER BY library_id IS NOT NULL, pattern
	`, libraryID)
}

func (s *SQLiteStore) queryExclusions(query string, args ...any) ([]*media.Exclusion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errs.Storagef("list exclusions", err)
	}
	defer rows.Close()

	var exs []*media.Exclusion
	for rows.Next() {
		ex, err := scanExclusion(rows)
		if err != nil {
			return nil, errs.Storagef("scan exclusion", err)
		}
		exs = append(exs, ex)
	}
	return exs, rows.Err()
}

// UpdateExclusion persists scope, pattern, type and reason.
func (s *SQLiteStore) UpdateExclusion(ex *media.Exclusion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE exclusions
		SET library_id = ?, pattern = ?, type = ?, reason = ?
		WHERE id = ?
	`, nullLibraryID(ex.LibraryID), ex.Pattern, string(ex.Type), nullString(ex.Reason), ex.ID)
	if err != nil {
		return errs.Storagef("update exclusion", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errs.NotFoundf("exclusion %d", ex.ID)
	}
	return nil
}

// DeleteExclusion removes a rule by ID.
func (s *SQLiteStore) DeleteExclusion(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM exclusions WHERE id = ?", id)
	if err != nil {
		return errs.Storagef("delete exclusion", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errs.NotFoundf("exclusion %d", id)
	}
	return nil
}

func scanExclusion(row rowScanner) (*media.Exclusion, error) {
	var ex media.Exclusion
	var libraryID sql.NullInt64
	var reason sql.NullString
	var typ, createdAt string

	err := row.Scan(&ex.ID, &libraryID, &ex.Pattern, &typ, &reason, &createdAt)
	if err != nil {
		return nil, err
	}

	if libraryID.Valid {
		id := libraryID.Int64
		ex.LibraryID = &id
	}
	ex.Type = media.ExclusionType(typ)
	ex.Reason = reason.String
	ex.CreatedAt = parseTime(createdAt)
	return &ex, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}
