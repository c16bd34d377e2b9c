package handler

import (
	"net/http"
)

// GET /books/{bookID}/demand?horizon=
func (h *Handler) GetDemand(w http.ResponseWriter, r *http.Request) {
	bookID, err := uuidParam(r, "bookID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "Invalid book_id parameter")
		return
	}
	horizon, err := intQuery(r, "horizon", 30, 1, 90)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "Invalid horizon parameter")
		return
	}

	forecast, err := h.service.PredictDemand(r.Context(), bookID, horizon)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, forecast)
}

// POST /demand/batch
func (h *Handler) PostDemandBatch(w http.ResponseWriter, r *http.Request) {
	var req DemandBatchRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	forecasts, partial, err := h.service.PredictDemandBatch(r.Context(), req.BookIDs, req.HorizonDays)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DemandBatchResponse{Predictions: forecasts, Partial: partial})
}
