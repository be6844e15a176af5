package media

import (
	"path/filepath"
	"strings"
	"time"
)

// Status represents the disposition of a discovered file.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusEncoding  Status = "encoding"
	StatusFinished  Status = "finished"
	StatusSkipped   Status = "skipped"
	StatusExcluded  Status = "excluded"
	StatusRejected  Status = "rejected"
	StatusErrored   Status = "errored"
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true for statuses produced by a completed encode.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusRejected || s == StatusErrored || s == StatusCancelled
}

// ValidStatus reports whether s is a recognized file status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusQueued, StatusEncoding, StatusFinished, StatusSkipped,
		StatusExcluded, StatusRejected, StatusErrored, StatusCancelled:
		return true
	}
	return false
}

// validTransitions holds every allowed source -> target status pair.
// Initial classification writes (no prior status) are not listed here.
var validTransitions = map[Status][]Status{
	StatusQueued:   {StatusEncoding, StatusExcluded, StatusSkipped},
	StatusExcluded: {StatusQueued},
	StatusEncoding: {StatusFinished, StatusRejected, StatusErrored, StatusCancelled, StatusQueued},
	StatusErrored:  {StatusQueued},
	StatusRejected: {StatusQueued},
}

// CanTransition reports whether from -> to is an allowed status change.
func CanTransition(from, to Status) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// ExclusionType distinguishes prefix rules from glob rules.
type ExclusionType string

const (
	ExclusionFolder  ExclusionType = "folder"
	ExclusionPattern ExclusionType = "pattern"
)

// ValidExclusionType reports whether t is a recognized rule type.
func ValidExclusionType(t ExclusionType) bool {
	return t == ExclusionFolder || t == ExclusionPattern
}

// Library is a configured root directory containing media files.
type Library struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Enabled      bool      `json:"enabled"`
	WatchEnabled bool      `json:"watch_enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Exclusion is a scoped rule that keeps matching files out of the queue.
// A nil LibraryID makes the rule global.
type Exclusion struct {
	ID        int64         `json:"id"`
	LibraryID *int64        `json:"library_id,omitempty"`
	Pattern   string        `json:"pattern"`
	Type      ExclusionType `json:"type"`
	Reason    string        `json:"reason,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// AppliesTo reports whether the rule is in scope for the given library.
func (e *Exclusion) AppliesTo(libraryID int64) bool {
	return e.LibraryID == nil || *e.LibraryID == libraryID
}

// File is one discovered media file. FilePath is the system-wide identity:
// re-discovery of the same path updates the existing row.
type File struct {
	ID              int64      `json:"id"`
	LibraryID       int64      `json:"library_id"`
	FilePath        string     `json:"file_path"`
	FileName        string     `json:"file_name"`
	OriginalCodec   string     `json:"original_codec,omitempty"`
	OriginalBitrate int64      `json:"original_bitrate,omitempty"`
	OriginalSize    int64      `json:"original_size,omitempty"`
	OriginalWidth   int        `json:"original_width,omitempty"`
	OriginalHeight  int        `json:"original_height,omitempty"`
	IsHDR           bool       `json:"is_hdr"`
	NewSize         int64      `json:"new_size,omitempty"`
	Status          Status     `json:"status"`
	SkipReason      string     `json:"skip_reason,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// SpaceSaved returns original minus new size for finished files, else 0.
func (f *File) SpaceSaved() int64 {
	if f.Status != StatusFinished || f.NewSize <= 0 || f.OriginalSize <= f.NewSize {
		return 0
	}
	return f.OriginalSize - f.NewSize
}

// Encoding log event names. The log is append-only and read for auditing.
const (
	LogEncodingStarted   = "encoding_started"
	LogFFmpegCommand     = "ffmpeg_command"
	LogFallbackCPUDecode = "fallback_cpu_decode"
	LogCompleted         = "completed"
	LogRejected          = "rejected"
	LogEncodeError       = "encode_error"
	LogCancelled         = "cancelled"
)

// LogEntry is one encoding_log row.
type LogEntry struct {
	ID        int64     `json:"id"`
	FileID    int64     `json:"file_id"`
	Event     string    `json:"event"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// videoExtensions is the recognized container set for discovery.
var videoExtensions = map[string]bool{
	".mkv":  true,
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".wmv":  true,
	".flv":  true,
	".webm": true,
	".m4v":  true,
	".mpg":  true,
	".mpeg": true,
	".ts":   true,
	".m2ts": true,
}

// IsVideoFile reports whether the path has a recognized video extension.
func IsVideoFile(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}
