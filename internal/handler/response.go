package handler

import (
	"time"

	"github.com/google/uuid"

	"github.com/actuallystonmai/library-intelligence/internal/domain"
)

type RecommendationResponse struct {
	UserID          uuid.UUID                   `json:"user_id"`
	Recommendations []domain.BookRecommendation `json:"recommendations"`
	Metadata        domain.RecommendationMeta   `json:"metadata"`
}

type SearchResponse struct {
	Query      string                `json:"query"`
	Results    []domain.SearchResult `json:"results"`
	TotalCount int                   `json:"total_count"`
	Partial    bool                  `json:"partial"`
}

type DemandBatchRequest struct {
	BookIDs     []uuid.UUID `json:"book_ids" validate:"required,min=1,max=500"`
	HorizonDays int         `json:"horizon_days" validate:"min=1,max=90"`
}

type DemandBatchResponse struct {
	Predictions []domain.DemandForecast `json:"predictions"`
	Partial     bool                    `json:"partial"`
}

type BookRequest struct {
	Title           string       `json:"title" validate:"required,max=500"`
	Author          string       `json:"author" validate:"required,max=300"`
	ISBN            string       `json:"isbn" validate:"omitempty,max=20"`
	Genre           domain.Genre `json:"genre"`
	SubGenre        string       `json:"sub_genre"`
	Description     string       `json:"description"`
	PublicationYear int          `json:"publication_year" validate:"omitempty,min=0,max=3000"`
	Language        string       `json:"language" validate:"omitempty,max=10"`
	Pages           int          `json:"pages" validate:"gte=0"`
	TotalCopies     int          `json:"total_copies" validate:"gte=0"`
	AvailableCopies int          `json:"available_copies" validate:"gte=0,ltefield=TotalCopies"`
	Rating          float64      `json:"rating" validate:"gte=0,lte=5"`
	TotalRatings    int          `json:"total_ratings" validate:"gte=0"`
	CoverImageURL   string       `json:"cover_image_url" validate:"omitempty,url"`
}

func (b BookRequest) toBook(id uuid.UUID) domain.Book {
	return domain.Book{
		ID:              id,
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		Genre:           b.Genre,
		SubGenre:        b.SubGenre,
		Description:     b.Description,
		PublicationYear: b.PublicationYear,
		Language:        b.Language,
		Pages:           b.Pages,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		Rating:          b.Rating,
		TotalRatings:    b.TotalRatings,
		CoverImageURL:   b.CoverImageURL,
	}
}

type InteractionRequest struct {
	ID                 uuid.UUID  `json:"id"`
	UserID             uuid.UUID  `json:"user_id" validate:"required"`
	BookID             uuid.UUID  `json:"book_id" validate:"required"`
	EventType          string     `json:"event_type" validate:"required,oneof=borrow return reading_session review"`
	OccurredAt         *time.Time `json:"occurred_at"`
	PagesRead          int        `json:"pages_read" validate:"gte=0"`
	ProgressPercentage float64    `json:"progress_percentage" validate:"gte=0,lte=100"`
	DurationMinutes    int        `json:"duration_minutes" validate:"gte=0"`
	Rating             int        `json:"rating" validate:"required_if=EventType review,omitempty,min=1,max=5"`
	Comment            string     `json:"comment" validate:"max=5000"`
}

func (req InteractionRequest) toInteraction(now time.Time) domain.Interaction {
	at := now
	if req.OccurredAt != nil {
		at = *req.OccurredAt
	}
	return domain.Interaction{
		ID:                 req.ID,
		UserID:             req.UserID,
		BookID:             req.BookID,
		Type:               domain.EventType(req.EventType),
		OccurredAt:         at,
		PagesRead:          req.PagesRead,
		ProgressPercentage: req.ProgressPercentage,
		DurationMinutes:    req.DurationMinutes,
		Rating:             req.Rating,
		Comment:            req.Comment,
	}
}

type DeleteResponse struct {
	ID      uuid.UUID `json:"id"`
	Deleted bool      `json:"deleted"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
