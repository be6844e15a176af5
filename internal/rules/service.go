package rules

import (
	"context"

	"github.com/lkern/shrinkarr/internal/errs"
	"github.com/lkern/shrinkarr/internal/logger"
	"github.com/lkern/shrinkarr/internal/media"
	"github.com/lkern/shrinkarr/internal/store"
)

// Reclassifier re-runs classification on a file released from exclusion, so
// the HEVC and size-floor checks still apply before it can rejoin the queue.
// Implemented by the classifier; an interface here keeps the dependency
// one-directional.
type Reclassifier interface {
	ReclassifyExcluded(ctx context.Context, f *media.File) (media.Status, error)
}

// Service owns exclusion CRUD plus the retroactive effects: creating a rule
// sweeps matching queued files out, deleting one lets formerly excluded
// files be reconsidered.
type Service struct {
	store      *store.SQLiteStore
	reclassify Reclassifier
}

func NewService(st *store.SQLiteStore, rec Reclassifier) *Service {
	return &Service{store: st, reclassify: rec}
}

// Check evaluates a path without touching any file rows. A nil libraryID
// evaluates global rules only.
func (s *Service) Check(path string, libraryID *int64) (Result, error) {
	var (
		exclusions []*media.Exclusion
		err        error
	)
	if libraryID != nil {
		exclusions, err = s.store.ListExclusionsForLibrary(*libraryID)
	} else {
		exclusions, err = s.store.ListExclusions()
	}
	if err != nil {
		return Result{}, err
	}

	if libraryID != nil {
		return Evaluate(exclusions, path, *libraryID), nil
	}
	var global []*media.Exclusion
	for _, ex := range exclusions {
		if ex.LibraryID == nil {
			global = append(global, ex)
		}
	}
	return Evaluate(global, path, 0), nil
}

// Create validates and stores the rule, then excludes every queued file it
// matches in one bulk update. Returns the number of files excluded.
func (s *Service) Create(ctx context.Context, ex *media.Exclusion) (int, error) {
	if err := s.validate(ex); err != nil {
		return 0, err
	}
	if err := s.store.CreateExclusion(ex); err != nil {
		return 0, err
	}
	return s.applyRule(ex)
}

// Update rewrites the rule and replays both reactive paths: queued files
// the new rule matches become excluded, and excluded files no rule matches
// anymore are reclassified.
func (s *Service) Update(ctx context.Context, ex *media.Exclusion) error {
	if err := s.validate(ex); err != nil {
		return err
	}
	if err := s.store.UpdateExclusion(ex); err != nil {
		return err
	}
	if _, err := s.applyRule(ex); err != nil {
		return err
	}
	_, err := s.releaseUnmatched(ctx)
	return err
}

// Delete removes the rule and reclassifies every excluded file that no
// remaining rule covers. Returns the number of files that left excluded.
func (s *Service) Delete(ctx context.Context, id int64) (int, error) {
	if err := s.store.DeleteExclusion(id); err != nil {
		return 0, err
	}
	return s.releaseUnmatched(ctx)
}

func (s *Service) validate(ex *media.Exclusion) error {
	if ex.Pattern == "" {
		return errs.Validationf("exclusion pattern is required")
	}
	if !media.ValidExclusionType(ex.Type) {
		return errs.Validationf("exclusion type must be folder or pattern: got %q", ex.Type)
	}
	if ex.LibraryID != nil {
		if _, err := s.store.GetLibrary(*ex.LibraryID); err != nil {
			return err
		}
	}
	return nil
}

// applyRule sweeps queued files matching ex into excluded.
func (s *Service) applyRule(ex *media.Exclusion) (int, error) {
	filter := store.FileFilter{Status: media.StatusQueued, Limit: -1}
	if ex.LibraryID != nil {
		filter.LibraryID = *ex.LibraryID
	}
	queued, err := s.store.ListFiles(filter)
	if err != nil {
		return 0, err
	}

	var ids []int64
	for _, f := range queued {
		if Match(ex, f.FilePath) {
			ids = append(ids, f.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	reason := ex.Reason
	if reason == "" {
		reason = DefaultReason
	}
	n, err := s.store.ExcludeFiles(ids, reason)
	if err != nil {
		return 0, err
	}
	logger.Info("Exclusion rule applied", "rule_id", ex.ID, "pattern", ex.Pattern, "files_excluded", n)
	return n, nil
}

// releaseUnmatched reconsiders every excluded file against the remaining
// rules. Files still covered stay put; the rest go back through the
// classifier.
func (s *Service) releaseUnmatched(ctx context.Context) (int, error) {
	excluded, err := s.store.ListFiles(store.FileFilter{Status: media.StatusExcluded, Limit: -1})
	if err != nil {
		return 0, err
	}
	if len(excluded) == 0 {
		return 0, nil
	}

	// One rule-list fetch per library, not per file.
	byLibrary := make(map[int64][]*media.Exclusion)
	released := 0
	for _, f := range excluded {
		exclusions, ok := byLibrary[f.LibraryID]
		if !ok {
			exclusions, err = s.store.ListExclusionsForLibrary(f.LibraryID)
			if err != nil {
				return released, err
			}
			byLibrary[f.LibraryID] = exclusions
		}

		if Evaluate(exclusions, f.FilePath, f.LibraryID).Excluded {
			continue
		}

		status, err := s.reclassify.ReclassifyExcluded(ctx, f)
		if err != nil {
			logger.Warn("Failed to reclassify released file", "path", f.FilePath, "error", err)
			continue
		}
		released++
		logger.Debug("Released file from exclusion", "path", f.FilePath, "status", string(status))
	}
	if released > 0 {
		logger.Info("Exclusion change released files", "count", released)
	}
	return released, nil
}
