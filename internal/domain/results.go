package domain

import (
	"time"

	"github.com/google/uuid"
)

type MatchType string

const (
	MatchContent       MatchType = "content"
	MatchCollaborative MatchType = "collaborative"
	MatchTrending      MatchType = "trending"
	MatchHybrid        MatchType = "hybrid"
)

type SearchResult struct {
	Book            BookResponse `json:"book"`
	SimilarityScore float64      `json:"similarity_score"`
}

type BookRecommendation struct {
	Book      BookResponse `json:"book"`
	Score     float64      `json:"score"`
	Reason    string       `json:"reason"`
	MatchType MatchType    `json:"match_type"`
}

// RecommendationSet is the outcome of one recommend call.
type RecommendationSet struct {
	Items     []BookRecommendation `json:"items"`
	ColdStart bool                 `json:"cold_start"`
	Partial   bool                 `json:"partial"`
}

type RecommendationMeta struct {
	CacheHit    bool   `json:"cache_hit"`
	ColdStart   bool   `json:"cold_start"`
	Partial     bool   `json:"partial"`
	GeneratedAt string `json:"generated_at"`
	TotalCount  int    `json:"total_count"`
}

type RecommendationResult struct {
	Recommendations []BookRecommendation
	ColdStart       bool
	Partial         bool
	CacheHit        bool
}

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

type BatchUserResult struct {
	UserID          uuid.UUID            `json:"user_id"`
	Recommendations []BookRecommendation `json:"recommendations,omitempty"`
	Status          string               `json:"status"`
	Error           string               `json:"error,omitempty"`
	Message         string               `json:"message,omitempty"`
}

type BatchSummary struct {
	SuccessCount     int   `json:"success_count"`
	FailedCount      int   `json:"failed_count"`
	ProcessingTimeMs int64 `json:"processing_time_ms"`
}

type BatchMeta struct {
	GeneratedAt string `json:"generated_at"`
}

type BatchResponse struct {
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
	TotalUsers int               `json:"total_users"`
	Results    []BatchUserResult `json:"results"`
	Summary    BatchSummary      `json:"summary"`
	Metadata   BatchMeta         `json:"metadata"`
}

// Factors explains which history windows and multipliers drove a forecast.
// It serialises as the factors_considered object.
type Factors struct {
	HistoryWindowDays   int                `json:"history_window_days"`
	BucketsAvailable    int                `json:"buckets_available"`
	BucketsObserved     int                `json:"buckets_observed"`
	WeeklyCounts        []int              `json:"weekly_counts"`
	WindowWeights       []float64          `json:"window_weights"`
	WeightedWeeklyRate  float64            `json:"weighted_weekly_rate"`
	BaseDailyRate       float64            `json:"base_daily_rate"`
	SeasonalityApplied  bool               `json:"seasonality_applied"`
	SeasonalMultipliers map[string]float64 `json:"seasonal_multipliers,omitempty"`
	TotalEvents         int                `json:"total_events"`
	HorizonDays         int                `json:"horizon_days"`
}

type DemandForecast struct {
	ID                uuid.UUID `json:"id"`
	BookID            uuid.UUID `json:"book_id"`
	PredictionDate    time.Time `json:"prediction_date"`
	HorizonDays       int       `json:"horizon_days"`
	PredictedDemand   int       `json:"predicted_demand"`
	ConfidenceScore   float64   `json:"confidence_score"`
	FactorsConsidered Factors   `json:"factors_considered"`
}

type ReadingStats struct {
	TotalBooksRead   int            `json:"total_books_read"`
	TotalPagesRead   int            `json:"total_pages_read"`
	TotalReadingTime int            `json:"total_reading_time"`
	CurrentStreak    int            `json:"current_streak"`
	LongestStreak    int            `json:"longest_streak"`
	FavoriteGenre    string         `json:"favorite_genre"`
	MonthlyReading   map[string]int `json:"monthly_reading"`
}

type LibraryAnalytics struct {
	TotalBooks        int              `json:"total_books"`
	TotalUsers        int              `json:"total_users"`
	ActiveBorrowings  int              `json:"active_borrowings"`
	PopularBooks      []BookResponse   `json:"popular_books"`
	DemandPredictions []DemandForecast `json:"demand_predictions"`
}

type HealthResponse struct {
	Status   string          `json:"status"`
	Database bool            `json:"database"`
	Cache    bool            `json:"cache"`
	AIModels map[string]bool `json:"ai_models"`
}
