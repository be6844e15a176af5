// Package rules evaluates exclusion rules against file paths and applies
// the retroactive status changes that rule edits imply.
package rules

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/lkern/shrinkarr/internal/media"
)

// DefaultReason is recorded on excluded files when the matching rule has no
// reason of its own.
const DefaultReason = "Excluded by rule"

// Result is the outcome of evaluating one path against a rule set.
type Result struct {
	Excluded bool   `json:"excluded"`
	Reason   string `json:"reason,omitempty"`
	RuleID   int64  `json:"matched_rule_id,omitempty"`
}

// Match reports whether a single rule matches path. Scope (library_id) is
// the caller's concern; Match only looks at pattern and type.
//
// Folder rules match on byte-exact path prefix. Pattern rules are globs
// where ** spans path segments and * stays within one; a pattern that does
// not match the full path is retried against the basename, so "*.sample.mkv"
// works without a leading **/.
func Match(ex *media.Exclusion, path string) bool {
	switch ex.Type {
	case media.ExclusionFolder:
		return strings.HasPrefix(path, ex.Pattern)
	case media.ExclusionPattern:
		if ok, err := doublestar.Match(ex.Pattern, path); err == nil && ok {
			return true
		}
		ok, err := doublestar.Match(ex.Pattern, filepath.Base(path))
		return err == nil && ok
	}
	return false
}

// Evaluate runs first-match-wins over exclusions for a file in libraryID.
// The slice must already be in evaluation order (global rules first, then
// by pattern), which is how the store lists them.
func Evaluate(exclusions []*media.Exclusion, path string, libraryID int64) Result {
	for _, ex := range exclusions {
		if !ex.AppliesTo(libraryID) {
			continue
		}
		if !Match(ex, path) {
			continue
		}
		reason := ex.Reason
		if reason == "" {
			reason = DefaultReason
		}
		return Result{Excluded: true, Reason: reason, RuleID: ex.ID}
	}
	return Result{}
}
