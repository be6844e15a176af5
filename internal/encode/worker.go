// Package encode owns the single transcoding slot: a long-lived worker
// draining the queue one file at a time, plus on-demand test encodes that
// borrow the same slot.
package encode

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/lkern/shrinkarr/internal/bus"
	"github.com/lkern/shrinkarr/internal/ffmpeg"
	"github.com/lkern/shrinkarr/internal/logger"
	"github.com/lkern/shrinkarr/internal/media"
	"github.com/lkern/shrinkarr/internal/settings"
	"github.com/lkern/shrinkarr/internal/store"
)

const (
	slotEncode = "encode"
	slotTest   = "test"
)

// Prober abstracts the metadata probe.
type Prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
}

// Transcoder abstracts the external encode process.
type Transcoder interface {
	Run(ctx context.Context, plan *ffmpeg.Plan, inputPath, outputPath string, duration time.Duration, onProgress func(ffmpeg.Progress)) (*ffmpeg.TranscodeResult, error)
}

// Output is the ownership and permission identity applied to replaced
// files. Negative ids skip the chown, so non-root deployments keep working.
type Output struct {
	UID  int
	GID  int
	Mode os.FileMode
}

// CurrentEncode describes the file occupying the encode slot.
type CurrentEncode struct {
	FileID    int64     `json:"file_id"`
	FileName  string    `json:"file_name"`
	FilePath  string    `json:"file_path"`
	LibraryID int64     `json:"library_id"`
	Percent   float64   `json:"percent"`
	StartedAt time.Time `json:"started_at"`
}

// StartEvent is the encoding_start bus payload.
type StartEvent struct {
	FileID       int64  `json:"file_id"`
	FileName     string `json:"file_name"`
	LibraryID    int64  `json:"library_id"`
	OriginalSize int64  `json:"original_size"`
}

// ProgressEvent is the encoding_progress bus payload.
type ProgressEvent struct {
	FileID   int64   `json:"file_id"`
	FileName string  `json:"file_name"`
	Percent  float64 `json:"percent"`
}

// CompleteEvent is the encoding_complete bus payload.
type CompleteEvent struct {
	FileID     int64        `json:"file_id"`
	FileName   string       `json:"file_name"`
	Outcome    media.Status `json:"outcome"`
	NewSize    int64        `json:"new_size,omitempty"`
	SpaceSaved int64        `json:"space_saved,omitempty"`
	TookSecs   float64      `json:"took_secs"`
}

// Worker drains queued files serially through the transcode pipeline.
type Worker struct {
	store      *store.SQLiteStore
	settings   *settings.Service
	bus        *bus.Bus
	prober     Prober
	transcoder Transcoder
	scratchDir string
	output     Output

	pausePoll  time.Duration
	emptyPoll  time.Duration
	settlePoll time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pausedMu sync.RWMutex
	paused   bool

	mu          sync.Mutex
	slot        string
	current     *CurrentEncode
	fileCancel  context.CancelFunc
	procRunning bool
	test        *TestStatus
}

// NewWorker creates a Worker. Start must be called before it picks files.
func NewWorker(st *store.SQLiteStore, svc *settings.Service, b *bus.Bus, prober Prober, transcoder Transcoder, scratchDir string, output Output) *Worker {
	return &Worker{
		store:      st,
		settings:   svc,
		bus:        b,
		prober:     prober,
		transcoder: transcoder,
		scratchDir: scratchDir,
		output:     output,
		pausePoll:  time.Second,
		emptyPoll:  10 * time.Second,
		settlePoll: time.Second,
	}
}

// Start launches the worker loop.
func (w *Worker) Start(parentCtx context.Context) {
	w.ctx, w.cancel = context.WithCancel(parentCtx)
	w.wg.Add(1)
	go w.run()
}

// Stop terminates the loop and waits for it. An in-flight file returns to
// queued with started_at cleared, the same state crash recovery produces.
func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *Worker) run() {
	defer w.wg.Done()

	for {
		if w.ctx.Err() != nil {
			return
		}

		if w.IsPaused() {
			w.sleep(w.pausePoll)
			continue
		}
		if !w.acquireSlot(slotEncode) {
			// A test encode holds the slot.
			w.sleep(w.pausePoll)
			continue
		}

		f, err := w.nextQueued()
		if err != nil {
			w.releaseSlot()
			logger.Error("Failed to pick next queued file", "error", err)
			w.sleep(w.emptyPoll)
			continue
		}
		if f == nil {
			w.releaseSlot()
			w.sleep(w.emptyPoll)
			continue
		}

		w.processFile(f)
		w.releaseSlot()
		w.sleep(w.settlePoll)
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.ctx.Done():
	case <-time.After(d):
	}
}

func (w *Worker) nextQueued() (*media.File, error) {
	return w.store.NextQueued(w.settings.SortOrder(), w.settings.LibraryPriority())
}

// Pause stops new picks. A running encode continues to completion.
func (w *Worker) Pause() {
	w.pausedMu.Lock()
	w.paused = true
	w.pausedMu.Unlock()
	logger.Info("Worker paused")
}

// Resume allows the worker to pick files again.
func (w *Worker) Resume() {
	w.pausedMu.Lock()
	w.paused = false
	w.pausedMu.Unlock()
	logger.Info("Worker resumed")
}

// IsPaused reports whether new picks are suspended.
func (w *Worker) IsPaused() bool {
	w.pausedMu.RLock()
	defer w.pausedMu.RUnlock()
	return w.paused
}

// CancelCurrent signals the running transcoder process to terminate; the
// pipeline then lands on the cancelled status. It reports whether a process
// was actually running.
func (w *Worker) CancelCurrent() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.procRunning || w.fileCancel == nil {
		return false
	}
	w.fileCancel()
	return true
}

// Current returns a copy of the in-flight encode, or nil when idle.
func (w *Worker) Current() *CurrentEncode {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	c := *w.current
	return &c
}

func (w *Worker) acquireSlot(kind string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.slot != "" {
		return false
	}
	w.slot = kind
	return true
}

func (w *Worker) releaseSlot() {
	w.mu.Lock()
	w.slot = ""
	w.mu.Unlock()
}

func (w *Worker) setProcRunning(v bool) {
	w.mu.Lock()
	w.procRunning = v
	w.mu.Unlock()
}
