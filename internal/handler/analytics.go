package handler

import (
	"net/http"
)

// GET /analytics
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.service.Analytics(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := h.service.Health(r.Context())
	status := http.StatusOK
	if resp.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
