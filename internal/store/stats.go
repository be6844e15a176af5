package store

import (
	"time"

	"github.com/lkern/shrinkarr/internal/errs"
)

// AddStats applies delta to the current UTC day and hour rows in one
// transaction. Counters only ever grow; concurrent callers compose because
// the update is additive rather than read-modify-write.
func (s *SQLiteStore) AddStats(delta StatsDelta) error {
	return s.AddStatsAt(time.Now().UTC(), delta)
}

// AddStatsAt is AddStats against an explicit timestamp, for tests and
// backfills.
func (s *SQLiteStore) AddStatsAt(at time.Time, delta StatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	at = at.UTC()
	day := at.Format("2006-01-02")
	hour := at.Truncate(time.Hour).Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return errs.Storagef("begin stats update", err)
	}
	defer tx.Rollback()

	args := []any{
		delta.Processed, delta.SpaceSaved,
		delta.Finished, delta.Skipped, delta.Rejected, delta.Errored,
	}

	daily := `
		INSERT INTO stats_daily (date, total_files_processed, total_space_saved,
			files_finished, files_skipped, files_rejected, files_errored)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_files_processed = total_files_processed + excluded.total_files_processed,
			total_space_saved = total_space_saved + excluded.total_space_saved,
			files_finished = files_finished + excluded.files_finished,
			files_skipped = files_skipped + excluded.files_skipped,
			files_rejected = files_rejected + excluded.files_rejected,
			files_errored = files_errored + excluded.files_errored
	`
	if _, err := tx.Exec(daily, append([]any{day}, args...)...); err != nil {
		return errs.Storagef("update daily stats", err)
	}

	hourly := `
		INSERT INTO stats_hourly (hour_utc, total_files_processed, total_space_saved,
			files_finished, files_skipped, files_rejected, files_errored)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hour_utc) DO UPDATE SET
			total_files_processed = total_files_processed + excluded.total_files_processed,
			total_space_saved = total_space_saved + excluded.total_space_saved,
			files_finished = files_finished + excluded.files_finished,
			files_skipped = files_skipped + excluded.files_skipped,
			files_rejected = files_rejected + excluded.files_rejected,
			files_errored = files_errored + excluded.files_errored
	`
	if _, err := tx.Exec(hourly, append([]any{hour}, args...)...); err != nil {
		return errs.Storagef("update hourly stats", err)
	}

	if err := tx.Commit(); err != nil {
		return errs.Storagef("commit stats update", err)
	}
	return nil
}

// DailyStats returns up to limit daily rows, newest first.
func (s *SQLiteStore) DailyStats(limit int) ([]StatsRow, error) {
	return s.statsRows(`
		SELECT date, total_files_processed, total_space_saved,
			files_finished, files_skipped, files_rejected, files_errored
		FROM stats_daily ORDER BY date DESC LIMIT ?
	`, limit)
}

// HourlyStats returns up to limit hourly rows, newest first.
func (s *SQLiteStore) HourlyStats(limit int) ([]StatsRow, error) {
	return s.statsRows(`
		SELECT hour_utc, total_files_processed, total_space_saved,
			files_finished, files_skipped, files_rejected, files_errored
		FROM stats_hourly ORDER BY hour_utc DESC LIMIT ?
	`, limit)
}

// TotalStats sums the daily rows into one lifetime row.
func (s *SQLiteStore) TotalStats() (StatsRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := StatsRow{Period: "total"}
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(total_files_processed), 0), COALESCE(SUM(total_space_saved), 0),
			COALESCE(SUM(files_finished), 0), COALESCE(SUM(files_skipped), 0),
			COALESCE(SUM(files_rejected), 0), COALESCE(SUM(files_errored), 0)
		FROM stats_daily
	`).Scan(&row.FilesProcessed, &row.SpaceSaved,
		&row.Finished, &row.Skipped, &row.Rejected, &row.Errored)
	if err != nil {
		return row, errs.Storagef("total stats", err)
	}
	return row, nil
}

func (s *SQLiteStore) statsRows(query string, limit int) ([]StatsRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, errs.Storagef("query stats", err)
	}
	defer rows.Close()

	var out []StatsRow
	for rows.Next() {
		var r StatsRow
		if err := rows.Scan(&r.Period, &r.FilesProcessed, &r.SpaceSaved,
			&r.Finished, &r.Skipped, &r.Rejected, &r.Errored); err != nil {
			return nil, errs.Storagef("scan stats row", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
