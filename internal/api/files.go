package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/lkern/shrinkarr/internal/errs"
	"github.com/lkern/shrinkarr/internal/logger"
	"github.com/lkern/shrinkarr/internal/media"
	"github.com/lkern/shrinkarr/internal/metrics"
	"github.com/lkern/shrinkarr/internal/store"
)

// ListFiles handles GET /api/files?status=&library_id=&limit=&offset=
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.FileFilter{
		Limit:  intQuery(r, "limit", 0),
		Offset: intQuery(r, "offset", 0),
	}
	if v := q.Get("status"); v != "" {
		status := media.Status(v)
		if !media.ValidStatus(status) {
			writeErr(w, errs.Validationf("unknown status %q", v))
			return
		}
		filter.Status = status
	}
	if v := q.Get("library_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			writeErr(w, errs.Validationf("invalid library_id %q", v))
			return
		}
		filter.LibraryID = id
	}

	files, err := h.store.ListFiles(filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	counts, err := h.store.StatusCounts()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"files":  files,
		"counts": counts,
	})
}

// GetFile handles GET /api/files/{id}
func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	f, err := h.store.GetFile(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// FileLog handles GET /api/files/{id}/log
func (h *Handler) FileLog(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if _, err := h.store.GetFile(id); err != nil {
		writeErr(w, err)
		return
	}
	entries, err := h.store.ListLog(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// RetryFile handles POST /api/files/{id}/retry. Only errored and rejected
// files can be retried; anything else is a conflict.
func (h *Handler) RetryFile(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := h.store.RetryFile(id); err != nil {
		writeErr(w, err)
		return
	}
	f, err := h.store.GetFile(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// reasonRequest is the optional body for skip and exclude operations.
type reasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

func optionalReason(r *http.Request, def string) string {
	var req reasonRequest
	if r.Body != nil {
		// A missing or empty body just means the default reason.
		_ = decodeJSON(r, &req)
	}
	if req.Reason == "" {
		return def
	}
	return req.Reason
}

// SkipFile handles POST /api/files/{id}/skip. Valid only from queued.
func (h *Handler) SkipFile(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := h.store.SkipFile(id, optionalReason(r, "Manually skipped")); err != nil {
		writeErr(w, err)
		return
	}
	// A manual skip is a processed outcome, same as a classifier skip.
	if err := h.store.AddStats(store.StatsDelta{Processed: 1, Skipped: 1}); err != nil {
		logger.Warn("Failed to record stats", "error", err)
	}
	metrics.FilesProcessed.WithLabelValues(metrics.OutcomeSkipped).Inc()
	f, err := h.store.GetFile(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// ExcludeFile handles POST /api/files/{id}/exclude. Valid only from queued.
func (h *Handler) ExcludeFile(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := h.store.ExcludeFile(id, optionalReason(r, "Manually excluded")); err != nil {
		writeErr(w, err)
		return
	}
	f, err := h.store.GetFile(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// GetQueue handles GET /api/queue: the queue snapshot in pick order plus
// the worker's current state.
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	queued, err := h.store.ListQueued(h.settings.SortOrder(), h.settings.LibraryPriority(), intQuery(r, "limit", 100))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queued":  queued,
		"current": h.worker.Current(),
		"paused":  h.worker.IsPaused(),
	})
}

// PauseQueue handles POST /api/queue/pause
func (h *Handler) PauseQueue(w http.ResponseWriter, r *http.Request) {
	h.worker.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// ResumeQueue handles POST /api/queue/resume
func (h *Handler) ResumeQueue(w http.ResponseWriter, r *http.Request) {
	h.worker.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

// CancelEncode handles POST /api/queue/cancel
func (h *Handler) CancelEncode(w http.ResponseWriter, r *http.Request) {
	if !h.worker.CancelCurrent() {
		writeErr(w, errs.Conflictf("no encode in progress"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// StartScan handles POST /api/scan: scan every enabled library.
func (h *Handler) StartScan(w http.ResponseWriter, r *http.Request) {
	runID, err := h.scanner.StartAll(context.Background())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// StopScan handles POST /api/scan/stop
func (h *Handler) StopScan(w http.ResponseWriter, r *http.Request) {
	if !h.scanner.Stop() {
		writeErr(w, errs.Conflictf("no scan in progress"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

// ScanStatus handles GET /api/scan/status
func (h *Handler) ScanStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"running": h.scanner.Running()}
	if st := h.scanner.Status(); st.RunID != "" {
		resp["progress"] = st
	}
	writeJSON(w, http.StatusOK, resp)
}
