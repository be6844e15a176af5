package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Events handles GET /api/events (SSE endpoint). The stream opens with a
// snapshot of worker and scan state, then relays bus events until the
// client disconnects.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	eventCh := h.bus.Subscribe()
	defer h.bus.Unsubscribe(eventCh)

	initial, _ := json.Marshal(map[string]any{
		"type": "init",
		"time": time.Now().UTC(),
		"data": map[string]any{
			"worker_paused":  h.worker.IsPaused(),
			"current_encode": h.worker.Current(),
			"scan_running":   h.scanner.Running(),
		},
	})
	fmt.Fprintf(w, "data: %s\n\n", initial)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
