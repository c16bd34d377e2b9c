package handler

import (
	"net/http"
	"time"

	"github.com/actuallystonmai/library-intelligence/internal/domain"
)

// GET /users/{userID}/recommendations
func (h *Handler) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	userID, err := uuidParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "Invalid user_id parameter")
		return
	}
	limit, err := intQuery(r, "limit", 10, 1, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "Invalid limit parameter")
		return
	}

	result, err := h.service.GetRecommendations(r.Context(), userID, limit, r.URL.Query().Get("genre"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, RecommendationResponse{
		UserID:          userID,
		Recommendations: result.Recommendations,
		Metadata: domain.RecommendationMeta{
			CacheHit:    result.CacheHit,
			ColdStart:   result.ColdStart,
			Partial:     result.Partial,
			GeneratedAt: time.Now().UTC().Format(time.RFC3339),
			TotalCount:  len(result.Recommendations),
		},
	})
}

// GET /users/{userID}/reading-stats
func (h *Handler) GetReadingStats(w http.ResponseWriter, r *http.Request) {
	userID, err := uuidParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "Invalid user_id parameter")
		return
	}
	writeJSON(w, http.StatusOK, h.service.ReadingStats(r.Context(), userID))
}
