package store

import (
	"database/sql"

	"github.com/lkern/shrinkarr/internal/errs"
	"github.com/lkern/shrinkarr/internal/media"
)

// AppendLog records an encoding lifecycle event for a file. Log writes are
// best-effort from the caller's point of view; a failed append must never
// abort the encode that produced it.
func (s *SQLiteStore) AppendLog(fileID int64, event, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO encoding_log (file_id, event, details, created_at)
		VALUES (?, ?, ?, ?)
	`, fileID, event, nullString(details), now())
	if err != nil {
		return errs.Storagef("append log", err)
	}
	return nil
}

// ListLog returns a file's audit log oldest-first.
func (s *SQLiteStore) ListLog(fileID int64) ([]media.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, file_id, event, details, created_at
		FROM encoding_log WHERE file_id = ? ORDER BY id ASC
	`, fileID)
	if err != nil {
		return nil, errs.Storagef("list log", err)
	}
	defer rows.Close()

	var entries []media.LogEntry
	for rows.Next() {
		var e media.LogEntry
		var details sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.FileID, &e.Event, &details, &createdAt); err != nil {
			return nil, errs.Storagef("scan log entry", err)
		}
		e.Details = details.String
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
