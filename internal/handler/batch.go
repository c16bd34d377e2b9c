package handler

import (
	"net/http"
)

// GET /recommendations/batch
func (h *Handler) GetBatchRecommendations(w http.ResponseWriter, r *http.Request) {
	page, err := intQuery(r, "page", 1, 1, 10000)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "Invalid page parameter")
		return
	}
	limit, err := intQuery(r, "limit", 20, 1, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "Invalid limit parameter")
		return
	}

	result, err := h.service.GetBatchRecommendations(r.Context(), page, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
