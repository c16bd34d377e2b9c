package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/actuallystonmai/library-intelligence/internal/domain"
)

const bookColumns = `id, title, author, COALESCE(isbn, ''), COALESCE(genre, ''), COALESCE(sub_genre, ''),
	COALESCE(description, ''), COALESCE(publication_year, 0), COALESCE(language, ''), COALESCE(pages, 0),
	total_copies, available_copies, views, rating, total_ratings, COALESCE(cover_image_url, ''), created_at`

// LoadBooks returns the full catalog snapshot.
func (r *Repository) LoadBooks(ctx context.Context) ([]domain.Book, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+bookColumns+` FROM books ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query books: %w", err)
	}
	defer rows.Close()

	var books []domain.Book
	for rows.Next() {
		var b domain.Book
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Genre, &b.SubGenre,
			&b.Description, &b.PublicationYear, &b.Language, &b.Pages,
			&b.TotalCopies, &b.AvailableCopies, &b.Views, &b.Rating, &b.TotalRatings, &b.CoverImageURL, &b.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate over books: %w", err)
	}
	return books, nil
}

// UpsertBook inserts or replaces a catalog row.
func (r *Repository) UpsertBook(ctx context.Context, b domain.Book) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO books (id, title, author, isbn, genre, sub_genre, description, publication_year,
			language, pages, total_copies, available_copies, views, rating, total_ratings, cover_image_url)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, 0),
			NULLIF($9, ''), NULLIF($10, 0), $11, $12, $13, $14, $15, NULLIF($16, ''))
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, author = EXCLUDED.author, isbn = EXCLUDED.isbn, genre = EXCLUDED.genre,
			sub_genre = EXCLUDED.sub_genre, description = EXCLUDED.description,
			publication_year = EXCLUDED.publication_year, language = EXCLUDED.language, pages = EXCLUDED.pages,
			total_copies = EXCLUDED.total_copies, available_copies = EXCLUDED.available_copies,
			views = EXCLUDED.views, rating = EXCLUDED.rating, total_ratings = EXCLUDED.total_ratings,
			cover_image_url = EXCLUDED.cover_image_url`,
		b.ID, b.Title, b.Author, b.ISBN, string(b.Genre), b.SubGenre, b.Description, b.PublicationYear,
		b.Language, b.Pages, b.TotalCopies, b.AvailableCopies, b.Views, b.Rating, b.TotalRatings, b.CoverImageURL,
	)
	if err != nil {
		return fmt.Errorf("upsert book %s: %w", b.ID, err)
	}
	return nil
}

// DeleteBook removes a catalog row; it reports whether one existed.
func (r *Repository) DeleteBook(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM books WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete book %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountBooks counts catalog rows.
func (r *Repository) CountBooks(ctx context.Context) (int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM books`).Scan(&total); err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return total, nil
}
