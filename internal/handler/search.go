package handler

import (
	"net/http"

	"github.com/actuallystonmai/library-intelligence/internal/domain"
)

// GET /search?q=&limit=&genre=&available=
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intQuery(r, "limit", 10, 1, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "Invalid limit parameter")
		return
	}
	filter, err := domain.ParseFilter(map[string]string{
		domain.FilterKeyGenre:     q.Get("genre"),
		domain.FilterKeyAvailable: q.Get("available"),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	query := q.Get("q")
	results, partial, err := h.service.Search(r.Context(), query, limit, filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{
		Query:      query,
		Results:    results,
		TotalCount: len(results),
		Partial:    partial,
	})
}
