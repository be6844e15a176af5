package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/lkern/shrinkarr/internal/errs"
	"github.com/lkern/shrinkarr/internal/logger"
	"github.com/lkern/shrinkarr/internal/media"
)

// ListLibraries handles GET /api/libraries
func (h *Handler) ListLibraries(w http.ResponseWriter, r *http.Request) {
	libs, err := h.store.ListLibraries()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, libs)
}

// LibraryRequest is the request body for creating or updating a library.
// Absent fields keep their current (or default) values.
type LibraryRequest struct {
	Name         *string `json:"name,omitempty"`
	Path         *string `json:"path,omitempty"`
	Enabled      *bool   `json:"enabled,omitempty"`
	WatchEnabled *bool   `json:"watch_enabled,omitempty"`
}

func validateLibrary(lib *media.Library) error {
	if lib.Name == "" {
		return errs.Validationf("library name required")
	}
	if lib.Path == "" || !filepath.IsAbs(lib.Path) {
		return errs.Validationf("library path must be absolute: %q", lib.Path)
	}
	info, err := os.Stat(lib.Path)
	if err != nil {
		return errs.Validationf("library path %s: %v", lib.Path, err)
	}
	if !info.IsDir() {
		return errs.Validationf("library path is not a directory: %s", lib.Path)
	}
	return nil
}

// CreateLibrary handles POST /api/libraries. New libraries default to
// enabled with watching off.
func (h *Handler) CreateLibrary(w http.ResponseWriter, r *http.Request) {
	var req LibraryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	lib := &media.Library{Enabled: true}
	if req.Name != nil {
		lib.Name = *req.Name
	}
	if req.Path != nil {
		lib.Path = filepath.Clean(*req.Path)
	}
	if req.Enabled != nil {
		lib.Enabled = *req.Enabled
	}
	if req.WatchEnabled != nil {
		lib.WatchEnabled = *req.WatchEnabled
	}

	if err := validateLibrary(lib); err != nil {
		writeErr(w, err)
		return
	}
	if err := h.store.CreateLibrary(lib); err != nil {
		writeErr(w, err)
		return
	}

	if lib.Enabled && lib.WatchEnabled {
		if err := h.watcher.Start(lib); err != nil {
			logger.Warn("Failed to start watcher for new library", "library", lib.Name, "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, lib)
}

// GetLibrary handles GET /api/libraries/{id}
func (h *Handler) GetLibrary(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	lib, err := h.store.GetLibrary(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lib)
}

// UpdateLibrary handles PUT /api/libraries/{id}. Disabling a library drops
// its queued files; the watcher follows the new enabled/watch flags.
func (h *Handler) UpdateLibrary(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	lib, err := h.store.GetLibrary(id)
	if err != nil {
		writeErr(w, err)
		return
	}

	var req LibraryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Name != nil {
		lib.Name = *req.Name
	}
	if req.Path != nil {
		lib.Path = filepath.Clean(*req.Path)
	}
	if req.Enabled != nil {
		lib.Enabled = *req.Enabled
	}
	if req.WatchEnabled != nil {
		lib.WatchEnabled = *req.WatchEnabled
	}

	if err := validateLibrary(lib); err != nil {
		writeErr(w, err)
		return
	}
	if err := h.store.UpdateLibrary(lib); err != nil {
		writeErr(w, err)
		return
	}

	if err := h.watcher.Restart(lib); err != nil {
		logger.Warn("Failed to restart watcher after library update", "library", lib.Name, "error", err)
	}
	writeJSON(w, http.StatusOK, lib)
}

// DeleteLibrary handles DELETE /api/libraries/{id}. Files and exclusions
// cascade with the library.
func (h *Handler) DeleteLibrary(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	h.watcher.Stop(id)
	if err := h.store.DeleteLibrary(id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ScanLibrary handles POST /api/libraries/{id}/scan
func (h *Handler) ScanLibrary(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	lib, err := h.store.GetLibrary(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !lib.Enabled {
		writeErr(w, errs.Validationf("library %q is disabled", lib.Name))
		return
	}

	// The scan outlives this request; Stop is the cancellation path.
	runID, err := h.scanner.StartLibrary(context.Background(), lib)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// ListExclusions handles GET /api/exclusions
func (h *Handler) ListExclusions(w http.ResponseWriter, r *http.Request) {
	exclusions, err := h.store.ListExclusions()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exclusions)
}

// ExclusionRequest is the request body for creating or updating a rule.
type ExclusionRequest struct {
	LibraryID *int64 `json:"library_id,omitempty"`
	Pattern   string `json:"pattern"`
	Type      string `json:"type"`
	Reason    string `json:"reason,omitempty"`
}

// CreateExclusion handles POST /api/exclusions. Creation is retroactive:
// queued files the rule matches leave the queue immediately.
func (h *Handler) CreateExclusion(w http.ResponseWriter, r *http.Request) {
	var req ExclusionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	ex := &media.Exclusion{
		LibraryID: req.LibraryID,
		Pattern:   req.Pattern,
		Type:      media.ExclusionType(req.Type),
		Reason:    req.Reason,
	}

	// Mutations run to completion even if the client goes away.
	excluded, err := h.rules.Create(context.Background(), ex)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"exclusion":      ex,
		"files_excluded": excluded,
	})
}

// UpdateExclusion handles PUT /api/exclusions/{id}
func (h *Handler) UpdateExclusion(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req ExclusionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	ex := &media.Exclusion{
		ID:        id,
		LibraryID: req.LibraryID,
		Pattern:   req.Pattern,
		Type:      media.ExclusionType(req.Type),
		Reason:    req.Reason,
	}
	if err := h.rules.Update(context.Background(), ex); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

// DeleteExclusion handles DELETE /api/exclusions/{id}. Excluded files no
// remaining rule covers are reclassified.
func (h *Handler) DeleteExclusion(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	requeued, err := h.rules.Delete(context.Background(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "deleted",
		"files_requeued": requeued,
	})
}

// CheckExclusionRequest is the request body for a dry-run rule evaluation.
type CheckExclusionRequest struct {
	Path      string `json:"path"`
	LibraryID *int64 `json:"library_id,omitempty"`
}

// CheckExclusion handles POST /api/exclusions/check
func (h *Handler) CheckExclusion(w http.ResponseWriter, r *http.Request) {
	var req CheckExclusionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Path == "" {
		writeErr(w, errs.Validationf("path required"))
		return
	}
	result, err := h.rules.Check(req.Path, req.LibraryID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
