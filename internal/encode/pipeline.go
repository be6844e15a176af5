package encode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lkern/shrinkarr/internal/bus"
	"github.com/lkern/shrinkarr/internal/ffmpeg"
	"github.com/lkern/shrinkarr/internal/logger"
	"github.com/lkern/shrinkarr/internal/media"
	"github.com/lkern/shrinkarr/internal/metrics"
	"github.com/lkern/shrinkarr/internal/store"
)

// processFile runs the full pipeline for one queued file and persists a
// terminal outcome. Shutdown is the exception: the file goes back to queued.
func (w *Worker) processFile(f *media.File) {
	start := time.Now()

	fileCtx, cancel := context.WithCancel(w.ctx)
	defer cancel()

	w.mu.Lock()
	w.current = &CurrentEncode{
		FileID:    f.ID,
		FileName:  f.FileName,
		FilePath:  f.FilePath,
		LibraryID: f.LibraryID,
		StartedAt: start,
	}
	w.fileCancel = cancel
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.current = nil
		w.fileCancel = nil
		w.procRunning = false
		w.mu.Unlock()
	}()

	if err := w.store.MarkEncoding(f.ID); err != nil {
		// The file changed state between pick and claim.
		logger.Warn("Could not claim file for encoding", "file_id", f.ID, "error", err)
		return
	}

	logger.Info("Encoding started", "file_id", f.ID, "file", f.FilePath,
		"size", humanize.IBytes(uint64(f.OriginalSize)))
	_ = w.store.AppendLog(f.ID, media.LogEncodingStarted,
		fmt.Sprintf("source %s", humanize.IBytes(uint64(f.OriginalSize))))
	w.bus.Publish(bus.EventEncodingStart, StartEvent{
		FileID:       f.ID,
		FileName:     f.FileName,
		LibraryID:    f.LibraryID,
		OriginalSize: f.OriginalSize,
	})

	ev := w.encode(fileCtx, f, start)

	// Round-robin ordering advances to the library just served, whatever
	// the outcome.
	if err := w.store.SetLastLibrary(f.LibraryID); err != nil {
		logger.Warn("Failed to record last served library", "error", err)
	}

	if ev != nil {
		ev.TookSecs = time.Since(start).Seconds()
		w.bus.Publish(bus.EventEncodingComplete, *ev)
	}
}

// encode runs copy, probe, transcode and replace for one file. It returns
// the completion event, or nil when shutdown requeued the file.
func (w *Worker) encode(ctx context.Context, f *media.File, start time.Time) *CompleteEvent {
	scratchSrc := filepath.Join(w.scratchDir, fmt.Sprintf("%d-src-%s", f.ID, f.FileName))
	scratchOut := filepath.Join(w.scratchDir, fmt.Sprintf("%d-enc-%s.mkv", f.ID, stem(f.FileName)))
	defer func() {
		os.Remove(scratchSrc)
		os.Remove(scratchOut)
	}()

	// Copy to scratch so the source disk sees one sequential read instead
	// of interleaved reads and writes.
	if err := copyFile(f.FilePath, scratchSrc); err != nil {
		return w.fail(f, fmt.Sprintf("copy to scratch: %v", err), "")
	}

	// The scratch copy is what gets encoded, so it is what gets planned.
	meta, err := w.prober.Probe(ctx, scratchSrc)
	if err != nil {
		if ctx.Err() != nil {
			return w.abort(f)
		}
		return w.fail(f, fmt.Sprintf("probe scratch copy: %v", err), "")
	}

	result, err := w.transcode(ctx, f, meta, scratchSrc, scratchOut)
	if ctx.Err() != nil {
		return w.abort(f)
	}
	if err != nil {
		var tErr *ffmpeg.TranscodeError
		tail := err.Error()
		if errors.As(err, &tErr) && tErr.Stderr != "" {
			tail = tErr.Stderr
		}
		return w.fail(f, "FFmpeg encoding failed", tail)
	}

	if result.OutputSize >= f.OriginalSize {
		logger.Info("Encode rejected, output not smaller", "file_id", f.ID,
			"original", humanize.IBytes(uint64(f.OriginalSize)),
			"encoded", humanize.IBytes(uint64(result.OutputSize)))
		if err := w.store.RejectFile(f.ID, result.OutputSize); err != nil {
			logger.Error("Failed to mark file rejected", "file_id", f.ID, "error", err)
		}
		_ = w.store.AppendLog(f.ID, media.LogRejected,
			fmt.Sprintf("output %s not smaller than original %s",
				humanize.IBytes(uint64(result.OutputSize)), humanize.IBytes(uint64(f.OriginalSize))))
		w.book(store.StatsDelta{Processed: 1, Rejected: 1}, metrics.OutcomeRejected, 0)
		return &CompleteEvent{FileID: f.ID, FileName: f.FileName, Outcome: media.StatusRejected, NewSize: result.OutputSize}
	}

	newPath, err := w.replaceOriginal(f, scratchOut)
	if err != nil {
		return w.fail(f, fmt.Sprintf("replace original: %v", err), "")
	}

	saved := f.OriginalSize - result.OutputSize
	if err := w.store.CompleteFile(f.ID, newPath, filepath.Base(newPath), result.OutputSize); err != nil {
		logger.Error("Failed to mark file finished", "file_id", f.ID, "error", err)
	}
	_ = w.store.AppendLog(f.ID, media.LogCompleted,
		fmt.Sprintf("%s -> %s, saved %s",
			humanize.IBytes(uint64(f.OriginalSize)), humanize.IBytes(uint64(result.OutputSize)),
			humanize.IBytes(uint64(saved))))
	w.book(store.StatsDelta{Processed: 1, Finished: 1, SpaceSaved: saved}, metrics.OutcomeFinished, saved)

	logger.Info("Encoding finished", "file_id", f.ID, "file", filepath.Base(newPath),
		"took", time.Since(start).Round(time.Second), "saved", humanize.IBytes(uint64(saved)))
	return &CompleteEvent{FileID: f.ID, FileName: f.FileName, Outcome: media.StatusFinished,
		NewSize: result.OutputSize, SpaceSaved: saved}
}

// transcode runs the planned encode with hardware decode, then once more
// without it when the first attempt fails for any reason besides
// cancellation.
func (w *Worker) transcode(ctx context.Context, f *media.File, meta *ffmpeg.ProbeResult, src, out string) (*ffmpeg.TranscodeResult, error) {
	result, err := w.attempt(ctx, f, meta, true, src, out)
	if err == nil || ctx.Err() != nil {
		return result, err
	}

	logger.Warn("Hardware transcode failed, retrying with software decode",
		"file_id", f.ID, "error", err)
	_ = w.store.AppendLog(f.ID, media.LogFallbackCPUDecode, err.Error())

	return w.attempt(ctx, f, meta, false, src, out)
}

func (w *Worker) attempt(ctx context.Context, f *media.File, meta *ffmpeg.ProbeResult, hwDecode bool, src, out string) (*ffmpeg.TranscodeResult, error) {
	plan := ffmpeg.BuildPlan(meta, ffmpeg.EncodeSettings(w.settings.Encoding()), hwDecode)
	_ = w.store.AppendLog(f.ID, media.LogFFmpegCommand, plan.Command(src, out))

	w.setProcRunning(true)
	defer w.setProcRunning(false)

	return w.transcoder.Run(ctx, plan, src, out, meta.Duration, w.progressFunc(f))
}

// progressFunc returns a callback that tracks percent on the current encode
// and publishes at most one bus event per percent step or per second.
func (w *Worker) progressFunc(f *media.File) func(ffmpeg.Progress) {
	lastPercent := -1.0
	var lastPublish time.Time

	return func(p ffmpeg.Progress) {
		w.mu.Lock()
		if w.current != nil && w.current.FileID == f.ID {
			w.current.Percent = p.Percent
		}
		w.mu.Unlock()

		now := time.Now()
		if p.Percent-lastPercent < 1 && now.Sub(lastPublish) < time.Second {
			return
		}
		lastPercent = p.Percent
		lastPublish = now
		w.bus.Publish(bus.EventEncodingProgress, ProgressEvent{
			FileID:   f.ID,
			FileName: f.FileName,
			Percent:  p.Percent,
		})
	}
}

// abort resolves a cancelled pipeline: user cancellation lands on the
// terminal cancelled status, shutdown returns the file to the queue.
// Neither touches stats.
func (w *Worker) abort(f *media.File) *CompleteEvent {
	if w.ctx.Err() != nil {
		logger.Info("Encode interrupted by shutdown, requeueing", "file_id", f.ID)
		if err := w.store.RequeueEncoding(f.ID); err != nil {
			logger.Error("Failed to requeue interrupted file", "file_id", f.ID, "error", err)
		}
		return nil
	}

	logger.Info("Encode cancelled", "file_id", f.ID, "file", f.FileName)
	if err := w.store.CancelEncode(f.ID); err != nil {
		logger.Error("Failed to mark file cancelled", "file_id", f.ID, "error", err)
	}
	_ = w.store.AppendLog(f.ID, media.LogCancelled, "")
	return &CompleteEvent{FileID: f.ID, FileName: f.FileName, Outcome: media.StatusCancelled}
}

// fail lands the file on errored and books the failure. The stderr tail
// goes to the encoding log, not the status row.
func (w *Worker) fail(f *media.File, message, detail string) *CompleteEvent {
	logger.Error("Encoding failed", "file_id", f.ID, "file", f.FileName, "error", message)
	if err := w.store.FailEncode(f.ID, message); err != nil {
		logger.Error("Failed to mark file errored", "file_id", f.ID, "error", err)
	}
	if detail == "" {
		detail = message
	}
	_ = w.store.AppendLog(f.ID, media.LogEncodeError, detail)
	w.book(store.StatsDelta{Processed: 1, Errored: 1}, metrics.OutcomeErrored, 0)
	return &CompleteEvent{FileID: f.ID, FileName: f.FileName, Outcome: media.StatusErrored}
}

// book records stats and metrics. The file row is authoritative; a failed
// stats write is logged and swallowed.
func (w *Worker) book(delta store.StatsDelta, outcome string, saved int64) {
	if err := w.store.AddStats(delta); err != nil {
		logger.Warn("Failed to record stats", "error", err)
	}
	metrics.FilesProcessed.WithLabelValues(outcome).Inc()
	if saved > 0 {
		metrics.SpaceSaved.Add(float64(saved))
	}
}
