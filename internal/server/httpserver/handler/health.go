// Package handler provides HTTP request handlers for PermaMesh.
package handler

import (
	"net/http"
	"time"
)

// handleHealth handles GET /health.
//
// @design DS-0301
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady handles GET /ready.
//
// A node is ready once it can admit writes, which requires a live
// quorum. Without a health source the node reports ready whenever the
// service is wired.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.health != nil && h.health.QuorumAtRisk() {
		h.writeError(w, r, http.StatusServiceUnavailable, "PM-CONS-4220",
			"quorum at risk", map[string]any{"unreachable": h.health.Unreachable()})
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
