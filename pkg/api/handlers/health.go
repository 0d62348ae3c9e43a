package handlers

import (
	"net/http"
)

// features the server advertises on /health. Clients gate UI affordances
// on these.
var features = []string{
	"collaboration",
	"undo-redo",
	"transactions",
	"media-upload",
	"thumbnails",
	"video-transcode",
	"viewport-sync",
}

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	version  string
	sessions func() int
}

// NewHealthHandler creates a health handler. sessions reports the live
// websocket count and may be nil.
func NewHealthHandler(version string, sessions func() int) *HealthHandler {
	return &HealthHandler{version: version, sessions: sessions}
}

// Health handles GET /health.
//
// Returns 200 OK whenever the process is serving; designed for liveness
// probes and for clients checking server capabilities before joining.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"service":  "canvasd",
		"version":  h.version,
		"features": features,
	}
	if h.sessions != nil {
		data["sessions"] = h.sessions()
	}
	writeJSON(w, http.StatusOK, healthyResponse(data))
}
