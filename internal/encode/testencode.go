package encode

import (
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lkern/shrinkarr/internal/errs"
	"github.com/lkern/shrinkarr/internal/ffmpeg"
	"github.com/lkern/shrinkarr/internal/logger"
	"github.com/lkern/shrinkarr/internal/media"
)

// Test encode states.
const (
	TestStateRunning  = "running"
	TestStateComplete = "complete"
	TestStateFailed   = "failed"
)

// TestStatus is the lifecycle and result of the most recent test encode.
type TestStatus struct {
	State          string              `json:"state"`
	Path           string              `json:"path"`
	OutputPath     string              `json:"output_path"`
	Percent        float64             `json:"percent"`
	Success        bool                `json:"success"`
	OriginalSize   int64               `json:"original_size,omitempty"`
	NewSize        int64               `json:"new_size,omitempty"`
	SavingsPercent float64             `json:"savings_percent"`
	DurationSecs   float64             `json:"duration_secs"`
	Error          string              `json:"error,omitempty"`
	Metadata       *ffmpeg.ProbeResult `json:"metadata,omitempty"`
}

// StartTest begins a non-destructive test encode of path. The output lands
// in outputDir (default: beside the source) with a .test.mkv suffix; the
// store and stats are never touched. The test borrows the encode slot, so
// it is refused while an encode or another test is active.
func (w *Worker) StartTest(path, outputDir string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errs.Validationf("test encode source: %v", err)
	}
	if info.IsDir() || !media.IsVideoFile(path) {
		return errs.Validationf("test encode source %q is not a video file", path)
	}
	if outputDir == "" {
		outputDir = filepath.Dir(path)
	}
	if dirInfo, err := os.Stat(outputDir); err != nil || !dirInfo.IsDir() {
		return errs.Validationf("test encode output dir %q is not a directory", outputDir)
	}

	if !w.acquireSlot(slotTest) {
		return errs.Conflictf("an encode or test encode is already running")
	}

	outputPath := filepath.Join(outputDir, stem(filepath.Base(path))+".test.mkv")
	w.mu.Lock()
	w.test = &TestStatus{
		State:        TestStateRunning,
		Path:         path,
		OutputPath:   outputPath,
		OriginalSize: info.Size(),
	}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.releaseSlot()
		w.runTest(path, outputPath, info.Size())
	}()
	return nil
}

// TestStatus returns a copy of the latest test encode state, or nil when no
// test has run.
func (w *Worker) TestStatus() *TestStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.test == nil {
		return nil
	}
	ts := *w.test
	return &ts
}

func (w *Worker) runTest(path, outputPath string, originalSize int64) {
	start := time.Now()
	logger.Info("Test encode started", "file", path, "output", outputPath)

	meta, err := w.prober.Probe(w.ctx, path)
	if err != nil {
		w.finishTest(&TestStatus{
			State: TestStateFailed, Path: path, OutputPath: outputPath,
			OriginalSize: originalSize, Error: err.Error(),
			DurationSecs: time.Since(start).Seconds(),
		})
		return
	}

	opts := ffmpeg.EncodeSettings(w.settings.Encoding())
	onProgress := func(p ffmpeg.Progress) {
		w.mu.Lock()
		if w.test != nil && w.test.State == TestStateRunning {
			w.test.Percent = p.Percent
		}
		w.mu.Unlock()
	}

	result, err := w.transcoder.Run(w.ctx, ffmpeg.BuildPlan(meta, opts, true), path, outputPath, meta.Duration, onProgress)
	if err != nil && w.ctx.Err() == nil {
		logger.Warn("Test encode hardware attempt failed, retrying with software decode", "file", path, "error", err)
		result, err = w.transcoder.Run(w.ctx, ffmpeg.BuildPlan(meta, opts, false), path, outputPath, meta.Duration, onProgress)
	}
	if err != nil {
		logger.Error("Test encode failed", "file", path, "error", err)
		w.finishTest(&TestStatus{
			State: TestStateFailed, Path: path, OutputPath: outputPath,
			OriginalSize: originalSize, Error: err.Error(), Metadata: meta,
			DurationSecs: time.Since(start).Seconds(),
		})
		return
	}

	savings := 0.0
	if originalSize > 0 {
		savings = (1 - float64(result.OutputSize)/float64(originalSize)) * 100
	}
	logger.Info("Test encode finished", "file", path,
		"original", humanize.IBytes(uint64(originalSize)),
		"encoded", humanize.IBytes(uint64(result.OutputSize)),
		"took", time.Since(start).Round(time.Second))
	w.finishTest(&TestStatus{
		State:          TestStateComplete,
		Path:           path,
		OutputPath:     outputPath,
		Percent:        100,
		Success:        true,
		OriginalSize:   originalSize,
		NewSize:        result.OutputSize,
		SavingsPercent: savings,
		DurationSecs:   time.Since(start).Seconds(),
		Metadata:       meta,
	})
}

func (w *Worker) finishTest(ts *TestStatus) {
	w.mu.Lock()
	w.test = ts
	w.mu.Unlock()
}
