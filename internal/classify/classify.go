// Package classify decides the initial disposition of a discovered file:
// queued for encoding, skipped, excluded by rule, or errored.
package classify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lkern/shrinkarr/internal/ffmpeg"
	"github.com/lkern/shrinkarr/internal/logger"
	"github.com/lkern/shrinkarr/internal/media"
	"github.com/lkern/shrinkarr/internal/metrics"
	"github.com/lkern/shrinkarr/internal/rules"
	"github.com/lkern/shrinkarr/internal/settings"
	"github.com/lkern/shrinkarr/internal/store"
)

const mib = 1 << 20

// ReasonAlreadyHEVC marks files skipped because the source codec is already
// the target codec.
const ReasonAlreadyHEVC = "Already HEVC"

func sizeFloorReason(minMB int64) string {
	return fmt.Sprintf("File under %dMB minimum", minMB)
}

// Disposition summarizes what classification did with a path.
type Disposition int

const (
	DispositionUnreadable Disposition = iota // not a readable regular file, not recorded
	DispositionKnown                         // row already exists, untouched
	DispositionQueued
	DispositionSkipped
	DispositionExcluded
	DispositionErrored
)

func (d Disposition) String() string {
	switch d {
	case DispositionUnreadable:
		return "unreadable"
	case DispositionKnown:
		return "known"
	case DispositionQueued:
		return "queued"
	case DispositionSkipped:
		return "skipped"
	case DispositionExcluded:
		return "excluded"
	case DispositionErrored:
		return "errored"
	}
	return "unknown"
}

// Prober abstracts the metadata probe.
type Prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
}

// Classifier writes the initial status for discovered files.
type Classifier struct {
	store    *store.SQLiteStore
	settings *settings.Service
	prober   Prober
}

// New creates a Classifier.
func New(st *store.SQLiteStore, svc *settings.Service, prober Prober) *Classifier {
	return &Classifier{store: st, settings: svc, prober: prober}
}

// Classify runs the decision chain for one absolute path inside a library.
// The first matching rule decides: unreadable paths are not recorded, known
// paths are left untouched, then size floor, exclusion rules, probe failure,
// and the already-HEVC check, in that order. Everything else queues. A probe
// failure records the row as errored and returns its cause alongside
// DispositionErrored so callers can report it.
func (c *Classifier) Classify(ctx context.Context, path string, library *media.Library) (Disposition, error) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return DispositionUnreadable, nil
	}

	existing, err := c.store.GetFileByPath(path)
	if err != nil {
		return DispositionErrored, err
	}
	if existing != nil {
		return DispositionKnown, nil
	}

	f := &media.File{
		LibraryID:    library.ID,
		FilePath:     path,
		FileName:     filepath.Base(path),
		OriginalSize: info.Size(),
	}

	if minMB := c.settings.MinFileSizeMB(); minMB > 0 && info.Size() < minMB*mib {
		f.Status = media.StatusSkipped
		f.SkipReason = sizeFloorReason(minMB)
		if err := c.record(f, store.StatsDelta{Processed: 1, Skipped: 1}, metrics.OutcomeSkipped); err != nil {
			return DispositionErrored, err
		}
		return DispositionSkipped, nil
	}

	match, err := c.matchExclusions(path, library.ID)
	if err != nil {
		return DispositionErrored, err
	}
	if match.Excluded {
		f.Status = media.StatusExcluded
		f.SkipReason = match.Reason
		// Rule exclusions are not processed work; no stats accrue.
		if err := c.store.UpsertFile(f); err != nil {
			return DispositionErrored, err
		}
		return DispositionExcluded, nil
	}

	meta, probeErr := c.prober.Probe(ctx, path)
	if probeErr != nil {
		f.Status = media.StatusErrored
		f.ErrorMessage = probeErr.Error()
		logger.Warn("Probe failed during classification", "path", path, "error", probeErr)
		if err := c.record(f, store.StatsDelta{Processed: 1, Errored: 1}, metrics.OutcomeErrored); err != nil {
			return DispositionErrored, err
		}
		return DispositionErrored, probeErr
	}

	applyMetadata(f, meta)

	if meta.IsHEVC {
		f.Status = media.StatusSkipped
		f.SkipReason = ReasonAlreadyHEVC
		if err := c.record(f, store.StatsDelta{Processed: 1, Skipped: 1}, metrics.OutcomeSkipped); err != nil {
			return DispositionErrored, err
		}
		return DispositionSkipped, nil
	}

	f.Status = media.StatusQueued
	if err := c.store.UpsertFile(f); err != nil {
		return DispositionErrored, err
	}
	return DispositionQueued, nil
}

// ReclassifyExcluded returns a file released by rule deletion to the queue,
// then re-applies the size floor and HEVC checks. A failed re-probe leaves
// the file queued; the worker surfaces the failure when it picks the file.
func (c *Classifier) ReclassifyExcluded(ctx context.Context, f *media.File) (media.Status, error) {
	if err := c.store.RequeueExcluded(f.ID); err != nil {
		return "", err
	}

	if minMB := c.settings.MinFileSizeMB(); minMB > 0 && f.OriginalSize > 0 && f.OriginalSize < minMB*mib {
		return c.skip(f.ID, sizeFloorReason(minMB))
	}

	hevc := false
	if f.OriginalCodec != "" {
		hevc = ffmpeg.IsHEVCCodec(f.OriginalCodec)
	} else {
		meta, err := c.prober.Probe(ctx, f.FilePath)
		if err != nil {
			logger.Warn("Re-probe failed, leaving file queued", "path", f.FilePath, "error", err)
			return media.StatusQueued, nil
		}
		hevc = meta.IsHEVC
		refreshed := *f
		refreshed.Status = ""
		applyMetadata(&refreshed, meta)
		if err := c.store.UpsertFile(&refreshed); err != nil {
			logger.Warn("Failed to persist refreshed metadata", "path", f.FilePath, "error", err)
		}
	}

	if hevc {
		return c.skip(f.ID, ReasonAlreadyHEVC)
	}
	return media.StatusQueued, nil
}

func (c *Classifier) matchExclusions(path string, libraryID int64) (rules.Result, error) {
	exclusions, err := c.store.ListExclusionsForLibrary(libraryID)
	if err != nil {
		return rules.Result{}, err
	}
	return rules.Evaluate(exclusions, path, libraryID), nil
}

func (c *Classifier) skip(id int64, reason string) (media.Status, error) {
	if err := c.store.SkipFile(id, reason); err != nil {
		return "", err
	}
	c.book(store.StatsDelta{Processed: 1, Skipped: 1}, metrics.OutcomeSkipped)
	return media.StatusSkipped, nil
}

// record persists the row, then books the terminal outcome.
func (c *Classifier) record(f *media.File, delta store.StatsDelta, outcome string) error {
	if err := c.store.UpsertFile(f); err != nil {
		return err
	}
	c.book(delta, outcome)
	return nil
}

// book accumulates stats and metrics. The file row is authoritative, so a
// failed stats write is logged and swallowed.
func (c *Classifier) book(delta store.StatsDelta, outcome string) {
	if err := c.store.AddStats(delta); err != nil {
		logger.Warn("Failed to record stats", "error", err)
	}
	metrics.FilesProcessed.WithLabelValues(outcome).Inc()
}

func applyMetadata(f *media.File, meta *ffmpeg.ProbeResult) {
	f.OriginalCodec = meta.Codec
	f.OriginalBitrate = meta.Bitrate
	f.OriginalWidth = meta.Width
	f.OriginalHeight = meta.Height
	f.IsHDR = meta.IsHDR
	if meta.Size > 0 {
		f.OriginalSize = meta.Size
	}
}
