package store

import (
	"database/sql"

	"github.com/lkern/shrinkarr/internal/errs"
)

// GetSetting returns the stored value for key, or ("", false) when the key
// has never been written. Defaults live in the settings package, not here.
func (s *SQLiteStore) GetSetting(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.Storagef("get setting", err)
	}
	return value, true, nil
}

// SetSetting writes one key. Values are stored as strings; validation is the
// caller's job.
func (s *SQLiteStore) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, now())
	if err != nil {
		return errs.Storagef("set setting", err)
	}
	return nil
}

// SetSettings writes several keys in one transaction; either all land or none.
func (s *SQLiteStore) SetSettings(values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errs.Storagef("begin settings update", err)
	}
	defer tx.Rollback()

	ts := now()
	for key, value := range values {
		if _, err := tx.Exec(`
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, key, value, ts); err != nil {
			return errs.Storagef("set setting", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Storagef("commit settings update", err)
	}
	return nil
}

// AllSettings returns every stored key/value pair.
func (s *SQLiteStore) AllSettings() (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT key, value FROM settings")
	if err != nil {
		return nil, errs.Storagef("list settings", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errs.Storagef("scan setting", err)
		}
		settings[key] = value
	}
	return settings, rows.Err()
}
