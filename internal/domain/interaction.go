package domain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventBorrow         EventType = "borrow"
	EventReturn         EventType = "return"
	EventReadingSession EventType = "reading_session"
	EventReview         EventType = "review"
)

func (t EventType) Valid() bool {
	switch t {
	case EventBorrow, EventReturn, EventReadingSession, EventReview:
		return true
	}
	return false
}

// interactionNamespace seeds deterministic ids for events delivered without one.
var interactionNamespace = uuid.MustParse("6f1c8a52-35a4-4b8e-9d0e-2f7c1d9b4e61")

// Interaction is one append-only fact from the circulation system.
type Interaction struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	BookID     uuid.UUID `json:"book_id"`
	Type       EventType `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`

	// reading_session payload
	PagesRead          int     `json:"pages_read,omitempty"`
	ProgressPercentage float64 `json:"progress_percentage,omitempty"`
	DurationMinutes    int     `json:"duration_minutes,omitempty"`

	// review payload
	Rating  int    `json:"rating,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// Key returns the event id, deriving a name-based UUID from the event fields
// when the source did not assign one. Redelivered copies map to the same key.
func (i *Interaction) Key() uuid.UUID {
	if i.ID != uuid.Nil {
		return i.ID
	}
	name := i.UserID.String() + "|" + i.BookID.String() + "|" + string(i.Type) + "|" +
		strconv.FormatInt(i.OccurredAt.UTC().UnixNano(), 10)
	return uuid.NewSHA1(interactionNamespace, []byte(name))
}

func (i *Interaction) Validate() error {
	if i.UserID == uuid.Nil || i.BookID == uuid.Nil {
		return fmt.Errorf("%w: interaction requires user_id and book_id", ErrInvalidParameter)
	}
	if !i.Type.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidParameter, i.Type)
	}
	if i.OccurredAt.IsZero() {
		return fmt.Errorf("%w: interaction timestamp is required", ErrInvalidParameter)
	}
	switch i.Type {
	case EventReview:
		if i.Rating < 1 || i.Rating > 5 {
			return fmt.Errorf("%w: review rating %d outside [1,5]", ErrInvalidParameter, i.Rating)
		}
	case EventReadingSession:
		if i.PagesRead < 0 || i.DurationMinutes < 0 || i.ProgressPercentage < 0 || i.ProgressPercentage > 100 {
			return fmt.Errorf("%w: reading session payload out of range", ErrInvalidParameter)
		}
	}
	return nil
}
