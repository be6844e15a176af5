// Package store persists libraries, exclusion rules, discovered files,
// settings, aggregates and the encoding audit log in a single SQLite
// database. All methods are safe for concurrent use; writes are serialized,
// reads share a snapshot.
package store

import "github.com/lkern/shrinkarr/internal/media"

// SortOrder controls how queued files are ordered within a library.
type SortOrder string

const (
	SortBitrateDesc  SortOrder = "bitrate_desc"
	SortBitrateAsc   SortOrder = "bitrate_asc"
	SortAlphabetical SortOrder = "alphabetical"
	SortRandom       SortOrder = "random"
)

// ValidSortOrder reports whether s is a recognized sort order.
func ValidSortOrder(s SortOrder) bool {
	switch s {
	case SortBitrateDesc, SortBitrateAsc, SortAlphabetical, SortRandom:
		return true
	}
	return false
}

// LibraryPriority controls which library the next queued file comes from.
type LibraryPriority string

const (
	PriorityAlphabeticalAsc  LibraryPriority = "alphabetical_asc"
	PriorityAlphabeticalDesc LibraryPriority = "alphabetical_desc"
	PriorityRoundRobin       LibraryPriority = "round_robin"
)

// ValidLibraryPriority reports whether p is a recognized priority.
func ValidLibraryPriority(p LibraryPriority) bool {
	switch p {
	case PriorityAlphabeticalAsc, PriorityAlphabeticalDesc, PriorityRoundRobin:
		return true
	}
	return false
}

// FileFilter narrows ListFiles. Zero values mean "no constraint";
// Limit of 0 applies a default page size.
type FileFilter struct {
	Status    media.Status
	LibraryID int64
	Limit     int
	Offset    int
}

// StatsDelta is one additive update against the daily and hourly aggregates.
// Fields are deltas, never absolute totals.
type StatsDelta struct {
	Processed  int
	Finished   int
	Skipped    int
	Rejected   int
	Errored    int
	SpaceSaved int64
}

// StatsRow is one aggregate row. Period is a date (YYYY-MM-DD) for daily
// rows, an RFC3339 hour for hourly rows, and "total" for lifetime sums.
type StatsRow struct {
	Period         string `json:"period"`
	FilesProcessed int64  `json:"total_files_processed"`
	SpaceSaved     int64  `json:"total_space_saved"`
	Finished       int64  `json:"files_finished"`
	Skipped        int64  `json:"files_skipped"`
	Rejected       int64  `json:"files_rejected"`
	Errored        int64  `json:"files_errored"`
}
