package handler

import (
	"net/http"
	"time"
)

// POST /interactions
func (h *Handler) PostInteraction(w http.ResponseWriter, r *http.Request) {
	var req InteractionRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	saved, err := h.service.RecordInteraction(r.Context(), req.toInteraction(time.Now()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}
