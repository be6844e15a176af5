// Package api exposes the HTTP/JSON surface: library and exclusion CRUD,
// file and queue operations, settings, scans, stats, test encodes and the
// SSE event stream. Handlers translate between HTTP and the core services;
// policy lives in the services, not here.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/lkern/shrinkarr/internal/browse"
	"github.com/lkern/shrinkarr/internal/bus"
	"github.com/lkern/shrinkarr/internal/encode"
	"github.com/lkern/shrinkarr/internal/errs"
	"github.com/lkern/shrinkarr/internal/rules"
	"github.com/lkern/shrinkarr/internal/scan"
	"github.com/lkern/shrinkarr/internal/settings"
	"github.com/lkern/shrinkarr/internal/store"
	"github.com/lkern/shrinkarr/internal/watch"
)

// Deps are the collaborators the handlers drive.
type Deps struct {
	Store    *store.SQLiteStore
	Settings *settings.Service
	Rules    *rules.Service
	Scanner  *scan.Scanner
	Watcher  *watch.Manager
	Worker   *encode.Worker
	Bus      *bus.Bus

	Version        string
	NVENCAvailable bool
}

// Handler provides the HTTP API handlers.
type Handler struct {
	store    *store.SQLiteStore
	settings *settings.Service
	rules    *rules.Service
	scanner  *scan.Scanner
	watcher  *watch.Manager
	worker   *encode.Worker
	bus      *bus.Bus

	version string
	nvenc   bool
}

// NewHandler creates an API handler over the given collaborators.
func NewHandler(d Deps) *Handler {
	return &Handler{
		store:    d.Store,
		settings: d.Settings,
		rules:    d.Rules,
		scanner:  d.Scanner,
		watcher:  d.Watcher,
		worker:   d.Worker,
		bus:      d.Bus,
		version:  d.Version,
		nvenc:    d.NVENCAvailable,
	}
}

// response helpers

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeErr maps the service error chain onto an HTTP status.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errs.ErrConflict), errors.Is(err, errs.ErrCancelled):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errs.Validationf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Validationf("invalid request body: %v", err)
	}
	return nil
}

// Status handles GET /api/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"version":           h.version,
		"nvenc_available":   h.nvenc,
		"worker_paused":     h.worker.IsPaused(),
		"current_encode":    h.worker.Current(),
		"scan_running":      h.scanner.Running(),
		"watched_libraries": h.watcher.WatchedCount(),
	}
	if st := h.scanner.Status(); st.RunID != "" {
		resp["scan"] = st
	}
	writeJSON(w, http.StatusOK, resp)
}

// Browse handles GET /api/browse?path=...
func (h *Handler) Browse(w http.ResponseWriter, r *http.Request) {
	listing, err := browse.List(r.URL.Query().Get("path"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// GetSettings handles GET /api/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	values, err := h.settings.All()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

// UpdateSettings handles PUT /api/settings. The body is a partial map of
// setting keys; validation is all-or-nothing.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if err := decodeJSON(r, &values); err != nil {
		writeErr(w, err)
		return
	}
	if len(values) == 0 {
		writeErr(w, errs.Validationf("no settings provided"))
		return
	}
	if err := h.settings.Update(values); err != nil {
		writeErr(w, err)
		return
	}
	all, err := h.settings.All()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

// DailyStats handles GET /api/stats?days=N
func (h *Handler) DailyStats(w http.ResponseWriter, r *http.Request) {
	days := intQuery(r, "days", 30)
	daily, err := h.store.DailyStats(days)
	if err != nil {
		writeErr(w, err)
		return
	}
	totals, err := h.store.TotalStats()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"daily":  daily,
		"totals": totals,
	})
}

// HourlyStats handles GET /api/stats/hourly?hours=N
func (h *Handler) HourlyStats(w http.ResponseWriter, r *http.Request) {
	hours := intQuery(r, "hours", 24)
	hourly, err := h.store.HourlyStats(hours)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hourly": hourly})
}

func intQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// TestEncodeRequest is the request body for starting a test encode.
type TestEncodeRequest struct {
	Path      string `json:"path"`
	OutputDir string `json:"output_dir,omitempty"`
}

// StartTestEncode handles POST /api/test-encode
func (h *Handler) StartTestEncode(w http.ResponseWriter, r *http.Request) {
	var req TestEncodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Path == "" {
		writeErr(w, errs.Validationf("path required"))
		return
	}
	if err := h.worker.StartTest(req.Path, req.OutputDir); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// GetTestEncode handles GET /api/test-encode
func (h *Handler) GetTestEncode(w http.ResponseWriter, r *http.Request) {
	ts := h.worker.TestStatus()
	if ts == nil {
		writeErr(w, errs.NotFoundf("no test encode has run"))
		return
	}
	writeJSON(w, http.StatusOK, ts)
}
