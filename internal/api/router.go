package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerAPIRoutes registers all API endpoints on the given mux.
func registerAPIRoutes(mux *http.ServeMux, h *Handler) {
	// Libraries
	mux.HandleFunc("GET /api/libraries", h.ListLibraries)
	mux.HandleFunc("POST /api/libraries", h.CreateLibrary)
	mux.HandleFunc("GET /api/libraries/{id}", h.GetLibrary)
	mux.HandleFunc("PUT /api/libraries/{id}", h.UpdateLibrary)
	mux.HandleFunc("DELETE /api/libraries/{id}", h.DeleteLibrary)
	mux.HandleFunc("POST /api/libraries/{id}/scan", h.ScanLibrary)

	// Exclusion rules
	mux.HandleFunc("GET /api/exclusions", h.ListExclusions)
	mux.HandleFunc("POST /api/exclusions", h.CreateExclusion)
	mux.HandleFunc("POST /api/exclusions/check", h.CheckExclusion)
	mux.HandleFunc("PUT /api/exclusions/{id}", h.UpdateExclusion)
	mux.HandleFunc("DELETE /api/exclusions/{id}", h.DeleteExclusion)

	// Files
	mux.HandleFunc("GET /api/files", h.ListFiles)
	mux.HandleFunc("GET /api/files/{id}", h.GetFile)
	mux.HandleFunc("GET /api/files/{id}/log", h.FileLog)
	mux.HandleFunc("POST /api/files/{id}/retry", h.RetryFile)
	mux.HandleFunc("POST /api/files/{id}/skip", h.SkipFile)
	mux.HandleFunc("POST /api/files/{id}/exclude", h.ExcludeFile)

	// Queue control
	mux.HandleFunc("GET /api/queue", h.GetQueue)
	mux.HandleFunc("POST /api/queue/pause", h.PauseQueue)
	mux.HandleFunc("POST /api/queue/resume", h.ResumeQueue)
	mux.HandleFunc("POST /api/queue/cancel", h.CancelEncode)

	// Scans
	mux.HandleFunc("POST /api/scan", h.StartScan)
	mux.HandleFunc("POST /api/scan/stop", h.StopScan)
	mux.HandleFunc("GET /api/scan/status", h.ScanStatus)

	// Settings and stats
	mux.HandleFunc("GET /api/settings", h.GetSettings)
	mux.HandleFunc("PUT /api/settings", h.UpdateSettings)
	mux.HandleFunc("GET /api/stats", h.DailyStats)
	mux.HandleFunc("GET /api/stats/hourly", h.HourlyStats)

	// Test encode
	mux.HandleFunc("POST /api/test-encode", h.StartTestEncode)
	mux.HandleFunc("GET /api/test-encode", h.GetTestEncode)

	// Misc
	mux.HandleFunc("GET /api/browse", h.Browse)
	mux.HandleFunc("GET /api/events", h.Events)
	mux.HandleFunc("GET /api/status", h.Status)
}

// NewRouter creates an HTTP router with all API endpoints and the
// Prometheus metrics handler.
func NewRouter(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	registerAPIRoutes(mux, h)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"service": "shrinkarr",
			"version": h.version,
		})
	})

	return mux
}
