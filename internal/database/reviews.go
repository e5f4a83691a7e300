package database

import (
	"context"
	"fmt"
	"time"

	"tourbook/internal/models"

	"github.com/google/uuid"
)

// CreateReview stores rating and comment in a single row.
func (db *DB) CreateReview(ctx context.Context, review *models.Review) error {
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	if review.CreatedAt.IsZero() {
		review.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO reviews (id, subject_type, subject_id, user_id, user_name, rating, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		review.ID, review.SubjectType, review.SubjectID, review.UserID, review.UserName,
		review.Rating, review.Comment, review.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create review: %w", err)
	}
	return nil
}

// ListReviews returns reviews of one subject, newest first.
func (db *DB) ListReviews(ctx context.Context, subjectType, subjectID string) ([]models.Review, error) {
	query := `SELECT id, subject_type, subject_id, user_id, user_name, rating, comment, created_at
		FROM reviews WHERE subject_type = ? AND subject_id = ?
		ORDER BY created_at DESC, id`
	rows, err := db.QueryContext(ctx, query, subjectType, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	reviews := []models.Review{}
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.SubjectType, &r.SubjectID, &r.UserID, &r.UserName, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}
