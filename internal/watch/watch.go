// Package watch reacts to files added under library roots while the service
// runs. Each watched library gets its own recursive fsnotify subscription;
// a candidate file is handed to the classifier only after its size has been
// stable for the quiescence window, so half-copied files never classify.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lkern/shrinkarr/internal/classify"
	"github.com/lkern/shrinkarr/internal/logger"
	"github.com/lkern/shrinkarr/internal/media"
	"github.com/lkern/shrinkarr/internal/metrics"
	"github.com/lkern/shrinkarr/internal/store"
)

const (
	defaultStableAfter = 5 * time.Second
	defaultPollEvery   = time.Second
)

// Manager owns one watcher per library with watching enabled.
type Manager struct {
	store      *store.SQLiteStore
	classifier *classify.Classifier

	// Quiescence window and how often pending files are re-measured.
	stableAfter time.Duration
	pollEvery   time.Duration

	mu       sync.Mutex
	watchers map[int64]*libraryWatcher
}

// NewManager creates a Manager with the default quiescence window.
func NewManager(st *store.SQLiteStore, cl *classify.Classifier) *Manager {
	return &Manager{
		store:       st,
		classifier:  cl,
		stableAfter: defaultStableAfter,
		pollEvery:   defaultPollEvery,
		watchers:    make(map[int64]*libraryWatcher),
	}
}

// StartAll starts a watcher for every enabled library with watching on.
// Individual failures are logged and do not stop the rest.
func (m *Manager) StartAll() error {
	libs, err := m.store.ListEnabledLibraries()
	if err != nil {
		return err
	}

	for _, lib := range libs {
		if !lib.WatchEnabled {
			continue
		}
		if err := m.Start(lib); err != nil {
			logger.Error("Failed to start watcher", "library", lib.Name, "error", err)
		}
	}
	return nil
}

// Start begins watching one library. Starting an already-watched library is
// a no-op.
func (m *Manager) Start(lib *media.Library) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.watchers[lib.ID]; ok {
		return nil
	}

	lw, err := newLibraryWatcher(*lib, m.classifier, m.stableAfter, m.pollEvery)
	if err != nil {
		return err
	}
	m.watchers[lib.ID] = lw

	logger.Info("Watcher started", "library", lib.Name, "path", lib.Path)
	return nil
}

// Stop shuts down the watcher for a library and waits for it to close.
// Stopping an unwatched library is a no-op.
func (m *Manager) Stop(libraryID int64) {
	m.mu.Lock()
	lw, ok := m.watchers[libraryID]
	delete(m.watchers, libraryID)
	m.mu.Unlock()

	if !ok {
		return
	}
	lw.close()
	logger.Info("Watcher stopped", "library", lw.library.Name)
}

// Restart stops and, if the library still has watching enabled, starts the
// watcher again with the library's current root.
func (m *Manager) Restart(lib *media.Library) error {
	m.Stop(lib.ID)
	if !lib.Enabled || !lib.WatchEnabled {
		return nil
	}
	return m.Start(lib)
}

// StopAll shuts down every watcher.
func (m *Manager) StopAll() {
	m.mu.Lock()
	watchers := m.watchers
	m.watchers = make(map[int64]*libraryWatcher)
	m.mu.Unlock()

	for _, lw := range watchers {
		lw.close()
	}
}

// Watching reports whether a library currently has a live watcher.
func (m *Manager) Watching(libraryID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watchers[libraryID]
	return ok
}

// WatchedCount returns the number of live watchers.
func (m *Manager) WatchedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers)
}

// pendingFile tracks a candidate add until its size stops changing.
type pendingFile struct {
	size      int64
	changedAt time.Time
}

type libraryWatcher struct {
	library     media.Library
	classifier  *classify.Classifier
	fw          *fsnotify.Watcher
	stableAfter time.Duration
	pollEvery   time.Duration

	mu      sync.Mutex
	pending map[string]*pendingFile

	cancel context.CancelFunc
	done   chan struct{}
}

func newLibraryWatcher(lib media.Library, cl *classify.Classifier, stableAfter, pollEvery time.Duration) (*libraryWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	lw := &libraryWatcher{
		library:     lib,
		classifier:  cl,
		fw:          fw,
		stableAfter: stableAfter,
		pollEvery:   pollEvery,
		pending:     make(map[string]*pendingFile),
		done:        make(chan struct{}),
	}

	// Watch the whole tree. Entries already on disk never enroll: only
	// events arriving after this point are additions.
	if err := lw.watchTree(lib.Path); err != nil {
		fw.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	lw.cancel = cancel
	go lw.run(ctx)

	return lw, nil
}

func (lw *libraryWatcher) close() {
	lw.cancel()
	<-lw.done
}

// watchTree adds root and every non-hidden subdirectory to the watcher.
func (lw *libraryWatcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logger.Warn("Watcher skipping unreadable entry", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := lw.fw.Add(path); err != nil {
			logger.Warn("Watcher could not watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (lw *libraryWatcher) run(ctx context.Context) {
	defer close(lw.done)
	defer lw.fw.Close()

	ticker := time.NewTicker(lw.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-lw.fw.Events:
			if !ok {
				return
			}
			lw.handleEvent(ev)
		case err, ok := <-lw.fw.Errors:
			if !ok {
				return
			}
			logger.Warn("Watcher error", "library", lw.library.Name, "error", err)
		case <-ticker.C:
			lw.settle(ctx)
		}
	}
}

// handleEvent enrolls created files and extends the watch into created
// directories. Create covers both creation and move-in; Rename fires for
// the vacated name and carries nothing to enroll.
func (lw *libraryWatcher) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) {
		return
	}
	if strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}

	if info.IsDir() {
		// A directory moved in brings its contents with it; they are
		// additions too.
		lw.addDirectory(ev.Name)
		return
	}

	if media.IsVideoFile(ev.Name) {
		lw.enroll(ev.Name, info.Size())
	}
}

func (lw *libraryWatcher) addDirectory(dir string) {
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		base := filepath.Base(path)
		if d.IsDir() {
			if path != dir && strings.HasPrefix(base, ".") {
				return filepath.SkipDir
			}
			if err := lw.fw.Add(path); err != nil {
				logger.Warn("Watcher could not watch directory", "path", path, "error", err)
			}
			return nil
		}
		if strings.HasPrefix(base, ".") || !media.IsVideoFile(path) {
			return nil
		}
		if info, err := d.Info(); err == nil {
			lw.enroll(path, info.Size())
		}
		return nil
	})
	if err != nil {
		logger.Warn("Watcher could not walk new directory", "path", dir, "error", err)
	}
}

func (lw *libraryWatcher) enroll(path string, size int64) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if p, ok := lw.pending[path]; ok {
		if p.size != size {
			p.size = size
			p.changedAt = time.Now()
		}
		return
	}
	lw.pending[path] = &pendingFile{size: size, changedAt: time.Now()}
}

// settle re-measures every pending file and classifies the ones whose size
// has been stable for the quiescence window.
func (lw *libraryWatcher) settle(ctx context.Context) {
	now := time.Now()

	lw.mu.Lock()
	var ready []string
	for path, p := range lw.pending {
		info, err := os.Stat(path)
		if err != nil {
			// Gone before it settled.
			delete(lw.pending, path)
			continue
		}
		if info.Size() != p.size {
			p.size = info.Size()
			p.changedAt = now
			continue
		}
		if now.Sub(p.changedAt) >= lw.stableAfter {
			ready = append(ready, path)
			delete(lw.pending, path)
		}
	}
	lw.mu.Unlock()

	for _, path := range ready {
		metrics.WatchEvents.Inc()
		disp, err := lw.classifier.Classify(ctx, path, &lw.library)
		if err != nil {
			logger.Warn("Watcher classification failed", "library", lw.library.Name, "path", path, "error", err)
			continue
		}
		logger.Info("Watcher classified added file", "library", lw.library.Name, "path", path, "disposition", disp.String())
	}
}
