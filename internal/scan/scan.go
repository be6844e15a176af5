// Package scan walks library roots and feeds every discovered video file
// to the classifier. One scan runs at a time systemwide.
package scan

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/lkern/shrinkarr/internal/bus"
	"github.com/lkern/shrinkarr/internal/classify"
	"github.com/lkern/shrinkarr/internal/errs"
	"github.com/lkern/shrinkarr/internal/logger"
	"github.com/lkern/shrinkarr/internal/media"
	"github.com/lkern/shrinkarr/internal/metrics"
	"github.com/lkern/shrinkarr/internal/store"
)

// State is the lifecycle phase of a scan run.
type State string

const (
	StateFindingFiles State = "finding_files"
	StateScanning     State = "scanning"
	StateComplete     State = "complete"
	StateStopped      State = "stopped"
	StateFailed       State = "failed"
)

// Progress is a snapshot of a scan run against one library. During
// finding_files the total is not yet known and reads as zero.
type Progress struct {
	RunID       string `json:"run_id"`
	LibraryID   int64  `json:"library_id"`
	Library     string `json:"library"`
	State       State  `json:"state"`
	Total       int    `json:"total"`
	Processed   int    `json:"processed"`
	Added       int    `json:"added"`
	Skipped     int    `json:"skipped"`
	Errored     int    `json:"errored"`
	CurrentFile string `json:"current_file,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// Scanner discovers video files under library roots and classifies them.
type Scanner struct {
	store      *store.SQLiteStore
	classifier *classify.Classifier
	bus        *bus.Bus

	mu       sync.Mutex
	running  bool
	stopping bool
	progress Progress
}

// New creates a Scanner.
func New(st *store.SQLiteStore, cl *classify.Classifier, b *bus.Bus) *Scanner {
	return &Scanner{store: st, classifier: cl, bus: b}
}

// StartLibrary begins a background scan of a single library and returns the
// run id, or a conflict error when a scan is already in progress.
func (s *Scanner) StartLibrary(ctx context.Context, lib *media.Library) (string, error) {
	runID, err := s.claim()
	if err != nil {
		return "", err
	}

	go func() {
		defer s.release()
		s.scanLibrary(ctx, runID, lib)
	}()

	return runID, nil
}

// StartAll begins a background scan of every enabled library, sequentially.
func (s *Scanner) StartAll(ctx context.Context) (string, error) {
	libs, err := s.store.ListEnabledLibraries()
	if err != nil {
		return "", err
	}

	runID, err := s.claim()
	if err != nil {
		return "", err
	}

	go func() {
		defer s.release()
		if len(libs) == 0 {
			logger.Info("Scan requested but no libraries are enabled")
			return
		}
		for _, lib := range libs {
			if s.stopRequested(ctx) {
				return
			}
			s.scanLibrary(ctx, runID, lib)
		}
	}()

	return runID, nil
}

// Stop asks the running scan to finish its current file and return. It
// reports whether a scan was running.
func (s *Scanner) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.stopping = true
	return true
}

// Running reports whether a scan is in progress.
func (s *Scanner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns the latest progress snapshot. The final snapshot of a run
// stays readable until the next run starts.
func (s *Scanner) Status() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

func (s *Scanner) claim() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return "", errs.Conflictf("scan already in progress")
	}
	s.running = true
	s.stopping = false
	return uuid.NewString(), nil
}

func (s *Scanner) release() {
	s.mu.Lock()
	s.running = false
	s.stopping = false
	s.mu.Unlock()
}

func (s *Scanner) stopRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

func (s *Scanner) scanLibrary(ctx context.Context, runID string, lib *media.Library) {
	logger.Info("Scan started", "library", lib.Name, "path", lib.Path)

	p := Progress{RunID: runID, LibraryID: lib.ID, Library: lib.Name, State: StateFindingFiles}
	s.publish(bus.EventScanProgress, p)

	paths, err := collectFiles(lib.Path)
	if err != nil {
		logger.Error("Scan could not walk library root", "library", lib.Name, "path", lib.Path, "error", err)
		p.State = StateFailed
		p.LastError = err.Error()
		s.publish(bus.EventScanComplete, p)
		return
	}

	p.State = StateScanning
	p.Total = len(paths)

	for _, path := range paths {
		if s.stopRequested(ctx) {
			p.State = StateStopped
			p.CurrentFile = ""
			s.publish(bus.EventScanComplete, p)
			logger.Info("Scan stopped", "library", lib.Name, "processed", p.Processed, "total", p.Total)
			return
		}

		p.CurrentFile = path
		disp, err := s.classifier.Classify(ctx, path, lib)
		p.Processed++
		switch {
		case err != nil:
			p.Errored++
			p.LastError = err.Error()
		case disp == classify.DispositionQueued:
			p.Added++
		case disp == classify.DispositionErrored:
			p.Errored++
		default:
			p.Skipped++
		}
		s.publish(bus.EventScanProgress, p)
	}

	p.State = StateComplete
	p.CurrentFile = ""
	s.publish(bus.EventScanComplete, p)
	metrics.Scans.Inc()
	logger.Info("Scan complete", "library", lib.Name,
		"total", p.Total, "added", p.Added, "skipped", p.Skipped, "errored", p.Errored)
}

// publish updates the status snapshot, then broadcasts the record.
func (s *Scanner) publish(typ bus.EventType, p Progress) {
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()

	s.bus.Publish(typ, p)
}

// collectFiles walks root and returns every recognized video file in lexical
// order, skipping any entry whose basename starts with a dot.
func collectFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logger.Warn("Scan skipping unreadable entry", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if media.IsVideoFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}
