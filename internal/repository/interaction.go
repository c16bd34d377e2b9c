package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/actuallystonmai/library-intelligence/internal/domain"
)

// Return events have no row of their own, so their id is NULL and the
// consumer derives one from the event fields.
const interactionsSince = `
	SELECT id, user_id, book_id, 'borrow', borrowed_date, 0, 0::float8, 0, 0, ''
	FROM borrowings WHERE borrowed_date >= $1
	UNION ALL
	SELECT NULL::uuid, user_id, book_id, 'return', returned_date, 0, 0::float8, 0, 0, ''
	FROM borrowings WHERE returned_date IS NOT NULL AND returned_date >= $1
	UNION ALL
	SELECT id, user_id, book_id, 'reading_session', start_time, COALESCE(pages_read, 0),
		COALESCE(progress_percentage, 0)::float8, COALESCE(duration_minutes, 0), 0, ''
	FROM reading_sessions WHERE start_time >= $1
	UNION ALL
	SELECT id, user_id, book_id, 'review', created_at, 0, 0::float8, 0, rating, COALESCE(comment, '')
	FROM reviews WHERE created_at >= $1
	ORDER BY 5`

// LoadInteractions returns every fact that occurred at or after since, oldest
// first. Callers dedupe by event key, so overlapping windows are harmless.
func (r *Repository) LoadInteractions(ctx context.Context, since time.Time) ([]domain.Interaction, error) {
	rows, err := r.pool.Query(ctx, interactionsSince, since)
	if err != nil {
		return nil, fmt.Errorf("query interactions since %s: %w", since.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var out []domain.Interaction
	for rows.Next() {
		var (
			ev  domain.Interaction
			id  uuid.NullUUID
			typ string
		)
		if err := rows.Scan(&id, &ev.UserID, &ev.BookID, &typ, &ev.OccurredAt,
			&ev.PagesRead, &ev.ProgressPercentage, &ev.DurationMinutes, &ev.Rating, &ev.Comment,
		); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		if id.Valid {
			ev.ID = id.UUID
		}
		ev.Type = domain.EventType(typ)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate over interactions: %w", err)
	}
	return out, nil
}

// Normalize prepares an event so that the copy stored in Postgres and the
// copy applied in memory share a key: timestamps are cut to the database's
// microsecond precision and returns always use a derived id.
func Normalize(ev domain.Interaction) domain.Interaction {
	ev.OccurredAt = ev.OccurredAt.UTC().Truncate(time.Microsecond)
	if ev.Type == domain.EventReturn {
		ev.ID = uuid.Nil
	}
	ev.ID = ev.Key()
	return ev
}

// SaveInteraction persists one fact and keeps available copies in step with
// borrows and returns. It returns the normalised event.
func (r *Repository) SaveInteraction(ctx context.Context, ev domain.Interaction) (domain.Interaction, error) {
	ev = Normalize(ev)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		switch ev.Type {
		case domain.EventBorrow:
			tag, err := tx.Exec(ctx,
				`INSERT INTO borrowings (id, user_id, book_id, borrowed_date) VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO NOTHING`,
				ev.ID, ev.UserID, ev.BookID, ev.OccurredAt,
			)
			if err != nil {
				return fmt.Errorf("insert borrowing: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			_, err = tx.Exec(ctx,
				`UPDATE books SET available_copies = available_copies - 1 WHERE id = $1 AND available_copies > 0`,
				ev.BookID)
			return err
		case domain.EventReturn:
			tag, err := tx.Exec(ctx,
				`UPDATE borrowings SET returned_date = $3
				WHERE id = (SELECT id FROM borrowings WHERE user_id = $1 AND book_id = $2 AND returned_date IS NULL
					ORDER BY borrowed_date DESC LIMIT 1)`,
				ev.UserID, ev.BookID, ev.OccurredAt)
			if err != nil {
				return fmt.Errorf("close borrowing: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: no open borrowing for user %s and book %s", domain.ErrInvalidParameter, ev.UserID, ev.BookID)
			}
			_, err = tx.Exec(ctx,
				`UPDATE books SET available_copies = available_copies + 1 WHERE id = $1 AND available_copies < total_copies`,
				ev.BookID)
			return err
		case domain.EventReadingSession:
			_, err := tx.Exec(ctx,
				`INSERT INTO reading_sessions (id, user_id, book_id, start_time, duration_minutes, pages_read, progress_percentage)
				VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING`,
				ev.ID, ev.UserID, ev.BookID, ev.OccurredAt, ev.DurationMinutes, ev.PagesRead, ev.ProgressPercentage)
			if err != nil {
				return fmt.Errorf("insert reading session: %w", err)
			}
			return nil
		case domain.EventReview:
			_, err := tx.Exec(ctx,
				`INSERT INTO reviews (id, user_id, book_id, rating, comment, created_at)
				VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6) ON CONFLICT (id) DO NOTHING`,
				ev.ID, ev.UserID, ev.BookID, ev.Rating, ev.Comment, ev.OccurredAt)
			if err != nil {
				return fmt.Errorf("insert review: %w", err)
			}
			return nil
		}
		return fmt.Errorf("%w: unknown event type %q", domain.ErrInvalidParameter, ev.Type)
	})
	if err != nil {
		return ev, fmt.Errorf("save %s for user %s: %w", ev.Type, ev.UserID, err)
	}
	return ev, nil
}
