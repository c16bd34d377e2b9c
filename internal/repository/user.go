package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/actuallystonmai/library-intelligence/internal/domain"
)

// UserProfile builds a profile from a user's stored preferences. It backs
// readers who have no interaction history yet; unknown users return nil, nil.
func (r *Repository) UserProfile(ctx context.Context, userID uuid.UUID) (*domain.UserProfile, error) {
	var (
		ageGroup string
		raw      map[string]any
	)
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(age_group, ''), COALESCE(preferences, '{}'::jsonb) FROM users WHERE id = $1`,
		userID,
	).Scan(&ageGroup, &raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user id=%s: %w", userID, err)
	}

	prefs, err := domain.ParsePreferences(raw)
	if err != nil {
		return nil, fmt.Errorf("user %s preferences: %w", userID, err)
	}
	p := domain.NewProfile(userID)
	for g, w := range prefs.Genres {
		p.GenreAffinity[g] = w
	}
	p.AgeGroup = prefs.AgeGroup
	if p.AgeGroup == "" {
		p.AgeGroup = domain.AgeGroup(ageGroup)
	}
	return p, nil
}

// Get user ids for page
func (r *Repository) GetUserIDsPaginated(ctx context.Context, page, limit int) ([]uuid.UUID, error) {
	offset := (page - 1) * limit
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM users ORDER BY created_at, id LIMIT $1 OFFSET $2`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query user ids for page %d: %w", page, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user ids: %w", err)
	}
	return ids, nil
}

// Count total users
func (r *Repository) CountUsers(ctx context.Context) (int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return total, nil
}
