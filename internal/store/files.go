package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/lkern/shrinkarr/internal/errs"
	"github.com/lkern/shrinkarr/internal/media"
)

const fileColumns = `f.id, f.library_id, f.file_path, f.file_name, f.original_codec,
	f.original_bitrate, f.original_size, f.original_width, f.original_height, f.is_hdr,
	f.new_size, f.status, f.skip_reason, f.error_message, f.started_at, f.completed_at,
	f.created_at, f.updated_at`

// UpsertFile creates or updates the row identified by f.FilePath. On update
// the existing id, created_at and status are preserved; a non-empty f.Status
// overrides the stored status. f is updated in place with the effective row.
func (s *SQLiteStore) UpsertFile(f *media.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existingID int64
	var existingStatus, existingCreated string
	err := s.db.QueryRow(
		"SELECT id, status, created_at FROM files WHERE file_path = ?", f.FilePath,
	).Scan(&existingID, &existingStatus, &existingCreated)

	ts := now()
	switch {
	case err == sql.ErrNoRows:
		if f.Status == "" {
			return errs.Validationf("status required for new file %s", f.FilePath)
		}
		result, err := s.db.Exec(`
			INSERT INTO files (
				library_id, file_path, file_name, original_codec, original_bitrate,
				original_size, original_width, original_height, is_hdr, new_size,
				status, skip_reason, error_message, started_at, completed_at,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			f.LibraryID, f.FilePath, f.FileName, nullString(f.OriginalCodec), nullInt64(f.OriginalBitrate),
			nullInt64(f.OriginalSize), nullInt(f.OriginalWidth), nullInt(f.OriginalHeight), boolToInt(f.IsHDR), nullInt64(f.NewSize),
			string(f.Status), nullString(f.SkipReason), nullString(f.ErrorMessage), formatTimePtr(f.StartedAt), formatTimePtr(f.CompletedAt),
			ts, ts,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return errs.Conflictf("file path already exists: %s", f.FilePath)
			}
			return errs.Storagef("insert file", err)
		}
		f.ID, _ = result.LastInsertId()
		f.CreatedAt = parseTime(ts)
		f.UpdatedAt = f.CreatedAt
		return nil

	case err != nil:
		return errs.Storagef("lookup file", err)
	}

	status := string(f.Status)
	if status == "" {
		status = existingStatus
	}
	_, err = s.db.Exec(`
		UPDATE files SET
			library_id = ?, file_name = ?, original_codec = ?, original_bitrate = ?,
			original_size = ?, original_width = ?, original_height = ?, is_hdr = ?,
			status = ?, skip_reason = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`,
		f.LibraryID, f.FileName, nullString(f.OriginalCodec), nullInt64(f.OriginalBitrate),
		nullInt64(f.OriginalSize), nullInt(f.OriginalWidth), nullInt(f.OriginalHeight), boolToInt(f.IsHDR),
		status, nullString(f.SkipReason), nullString(f.ErrorMessage), ts,
		existingID,
	)
	if err != nil {
		return errs.Storagef("update file", err)
	}

	f.ID = existingID
	f.Status = media.Status(status)
	f.CreatedAt = parseTime(existingCreated)
	f.UpdatedAt = parseTime(ts)
	return nil
}

// GetFile retrieves a file by ID.
func (s *SQLiteStore) GetFile(id int64) (*media.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow("SELECT "+fileColumns+" FROM files f WHERE f.id = ?", id)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("file %d", id)
	}
	if err != nil {
		return nil, errs.Storagef("get file", err)
	}
	return f, nil
}

// GetFileByPath retrieves a file by its path. Returns (nil, nil) when the
// path has never been recorded.
func (s *SQLiteStore) GetFileByPath(path string) (*media.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow("SELECT "+fileColumns+" FROM files f WHERE f.file_path = ?", path)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Storagef("get file by path", err)
	}
	return f, nil
}

// ListFiles returns files matching the filter, most recently updated first.
// A negative Limit disables paging.
func (s *SQLiteStore) ListFiles(filter FileFilter) ([]*media.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + fileColumns + " FROM files f"
	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, "f.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.LibraryID != 0 {
		conds = append(conds, "f.library_id = ?")
		args = append(args, filter.LibraryID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY f.updated_at DESC, f.id DESC"
	if filter.Limit >= 0 {
		limit := filter.Limit
		if limit == 0 {
			limit = 100
		}
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errs.Storagef("list files", err)
	}
	defer rows.Close()

	var files []*media.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, errs.Storagef("scan file", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// StatusCounts returns the number of files per status.
func (s *SQLiteStore) StatusCounts() (map[media.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT status, COUNT(*) FROM files GROUP BY status")
	if err != nil {
		return nil, errs.Storagef("count files", err)
	}
	defer rows.Close()

	counts := make(map[media.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errs.Storagef("scan count", err)
		}
		counts[media.Status(status)] = n
	}
	return counts, rows.Err()
}

// transition moves a file to status to iff its current status is in from.
// extraSet is an optional "col = ?, ..." fragment with matching args.
func (s *SQLiteStore) transition(id int64, from []media.Status, to media.Status, extraSet string, extraArgs ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := "status = ?, updated_at = ?"
	if extraSet != "" {
		set += ", " + extraSet
	}
	placeholders := make([]string, len(from))
	args := []any{string(to), now()}
	args = append(args, extraArgs...)
	args = append(args, id)
	for i, st := range from {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	query := fmt.Sprintf(
		"UPDATE files SET %s WHERE id = ? AND status IN (%s)",
		set, strings.Join(placeholders, ", "),
	)
	result, err := s.db.Exec(query, args...)
	if err != nil {
		return errs.Storagef("transition file", err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return nil
	}

	// Distinguish a missing row from an invalid transition.
	var current string
	err = s.db.QueryRow("SELECT status FROM files WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return errs.NotFoundf("file %d", id)
	}
	if err != nil {
		return errs.Storagef("lookup file status", err)
	}
	return errs.Conflictf("invalid status transition for file %d: %s -> %s", id, current, to)
}

// MarkEncoding claims a queued file for the encoder and stamps started_at.
func (s *SQLiteStore) MarkEncoding(id int64) error {
	return s.transition(id, []media.Status{media.StatusQueued}, media.StatusEncoding,
		"started_at = ?", now())
}

// CompleteFile records a successful replace. newPath is the post-replace
// location (the stem with a .mkv extension, which may differ from the
// original path).
func (s *SQLiteStore) CompleteFile(id int64, newPath, newName string, newSize int64) error {
	return s.transition(id, []media.Status{media.StatusEncoding}, media.StatusFinished,
		"new_size = ?, completed_at = ?, file_path = ?, file_name = ?",
		newSize, now(), newPath, newName)
}

// RejectFile records an output that was not smaller than the source.
func (s *SQLiteStore) RejectFile(id int64, newSize int64) error {
	return s.transition(id, []media.Status{media.StatusEncoding}, media.StatusRejected,
		"new_size = ?, completed_at = ?", newSize, now())
}

// FailEncode records a terminal encoding failure.
func (s *SQLiteStore) FailEncode(id int64, message string) error {
	return s.transition(id, []media.Status{media.StatusEncoding}, media.StatusErrored,
		"error_message = ?, completed_at = ?", message, now())
}

// CancelEncode records a user-cancelled encode.
func (s *SQLiteStore) CancelEncode(id int64) error {
	return s.transition(id, []media.Status{media.StatusEncoding}, media.StatusCancelled,
		"completed_at = ?", now())
}

// RequeueEncoding returns an in-flight file to the queue, as when the
// worker shuts down mid-encode.
func (s *SQLiteStore) RequeueEncoding(id int64) error {
	return s.transition(id, []media.Status{media.StatusEncoding}, media.StatusQueued,
		"started_at = NULL")
}

// RetryFile manually requeues an errored or rejected file, clearing the
// outcome fields from the previous attempt.
func (s *SQLiteStore) RetryFile(id int64) error {
	return s.transition(id, []media.Status{media.StatusErrored, media.StatusRejected}, media.StatusQueued,
		"error_message = NULL, skip_reason = NULL, new_size = NULL, started_at = NULL, completed_at = NULL")
}

// SkipFile moves a queued file to skipped with the given reason.
func (s *SQLiteStore) SkipFile(id int64, reason string) error {
	return s.transition(id, []media.Status{media.StatusQueued}, media.StatusSkipped,
		"skip_reason = ?", reason)
}

// ExcludeFile moves a queued file to excluded with the given reason.
func (s *SQLiteStore) ExcludeFile(id int64, reason string) error {
	return s.transition(id, []media.Status{media.StatusQueued}, media.StatusExcluded,
		"skip_reason = ?", reason)
}

// RequeueExcluded returns an excluded file to the queue.
func (s *SQLiteStore) RequeueExcluded(id int64) error {
	return s.transition(id, []media.Status{media.StatusExcluded}, media.StatusQueued,
		"skip_reason = NULL")
}

// ExcludeFiles moves every listed file that is still queued to excluded in
// one statement. Returns the number of rows actually moved; files that left
// queued since the caller matched them are silently skipped.
func (s *SQLiteStore) ExcludeFiles(ids []int64, reason string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+2)
	args = append(args, string(media.StatusExcluded), nullString(reason), now())
	for _, id := range ids {
		args = append(args, id)
	}

	result, err := s.db.Exec(`
		UPDATE files SET status = ?, skip_reason = ?, updated_at = ?
		WHERE id IN (`+placeholders+`) AND status = 'queued'
	`, args...)
	if err != nil {
		return 0, errs.Storagef("exclude files", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// lastLibrarySettingKey is queue bookkeeping, not a user-facing setting.
const lastLibrarySettingKey = "last_library_id"

// NextQueued returns the next file to encode under the ordering policy, or
// (nil, nil) when the queue is empty.
func (s *SQLiteStore) NextQueued(sort SortOrder, priority LibraryPriority) (*media.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fileOrder := fileOrderClause(sort)

	if priority != PriorityRoundRobin {
		libOrder := "l.name ASC"
		if priority == PriorityAlphabeticalDesc {
			libOrder = "l.name DESC"
		}
		row := s.db.QueryRow(`
			SELECT ` + fileColumns + `
			FROM files f JOIN libraries l ON f.library_id = l.id
			WHERE f.status = 'queued' AND l.enabled = 1
			ORDER BY ` + libOrder + `, ` + fileOrder + `
			LIMIT 1
		`)
		return queuedFromRow(row)
	}

	// Round-robin: serve the successor of the last-served library among
	// libraries that currently have queued files, ordered by name.
	rows, err := s.db.Query(`
		SELECT DISTINCT l.id
		FROM files f JOIN libraries l ON f.library_id = l.id
		WHERE f.status = 'queued' AND l.enabled = 1
		ORDER BY l.name ASC
	`)
	if err != nil {
		return nil, errs.Storagef("list queued libraries", err)
	}
	defer rows.Close()

	var ring []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Storagef("scan library id", err)
		}
		ring = append(ring, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storagef("list queued libraries", err)
	}
	if len(ring) == 0 {
		return nil, nil
	}

	start := 0
	if last := s.lastLibraryLocked(); last != 0 {
		for i, id := range ring {
			if id == last {
				start = (i + 1) % len(ring)
				break
			}
		}
	}

	row := s.db.QueryRow(`
		SELECT `+fileColumns+`
		FROM files f
		WHERE f.status = 'queued' AND f.library_id = ?
		ORDER BY `+fileOrder+`
		LIMIT 1
	`, ring[start])
	return queuedFromRow(row)
}

// ListQueued returns the queue in pick order. Round-robin degrades to
// alphabetical library order for listing purposes.
func (s *SQLiteStore) ListQueued(sort SortOrder, priority LibraryPriority, limit int) ([]*media.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	libOrder := "l.name ASC"
	if priority == PriorityAlphabeticalDesc {
		libOrder = "l.name DESC"
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT %s
		FROM files f JOIN libraries l ON f.library_id = l.id
		WHERE f.status = 'queued' AND l.enabled = 1
		ORDER BY %s, %s
		LIMIT %d
	`, fileColumns, libOrder, fileOrderClause(sort), limit))
	if err != nil {
		return nil, errs.Storagef("list queue", err)
	}
	defer rows.Close()

	var files []*media.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, errs.Storagef("scan file", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// SetLastLibrary records the library served by the most recent encode for
// round-robin advancement.
func (s *SQLiteStore) SetLastLibrary(id int64) error {
	return s.SetSetting(lastLibrarySettingKey, strconv.FormatInt(id, 10))
}

func (s *SQLiteStore) lastLibraryLocked() int64 {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", lastLibrarySettingKey).Scan(&value)
	if err != nil {
		return 0
	}
	id, _ := strconv.ParseInt(value, 10, 64)
	return id
}

func fileOrderClause(sort SortOrder) string {
	switch sort {
	case SortBitrateAsc:
		return "f.original_bitrate IS NULL, f.original_bitrate ASC"
	case SortAlphabetical:
		return "f.file_path ASC"
	case SortRandom:
		return "RANDOM()"
	default:
		return "f.original_bitrate IS NULL, f.original_bitrate DESC"
	}
}

func queuedFromRow(row *sql.Row) (*media.File, error) {
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Storagef("pick queued file", err)
	}
	return f, nil
}

func scanFile(row rowScanner) (*media.File, error) {
	var f media.File
	var codec, skipReason, errorMessage sql.NullString
	var bitrate, size, newSize sql.NullInt64
	var width, height sql.NullInt64
	var isHDR int
	var status string
	var startedAt, completedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&f.ID, &f.LibraryID, &f.FilePath, &f.FileName, &codec,
		&bitrate, &size, &width, &height, &isHDR,
		&newSize, &status, &skipReason, &errorMessage, &startedAt, &completedAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	f.OriginalCodec = codec.String
	f.OriginalBitrate = bitrate.Int64
	f.OriginalSize = size.Int64
	f.OriginalWidth = int(width.Int64)
	f.OriginalHeight = int(height.Int64)
	f.IsHDR = isHDR != 0
	f.NewSize = newSize.Int64
	f.Status = media.Status(status)
	f.SkipReason = skipReason.String
	f.ErrorMessage = errorMessage.String
	f.StartedAt = parseTimePtr(startedAt)
	f.CompletedAt = parseTimePtr(completedAt)
	f.CreatedAt = parseTime(createdAt)
	f.UpdatedAt = parseTime(updatedAt)
	return &f, nil
}
