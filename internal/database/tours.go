package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tourbook/internal/models"
)

const tourColumns = `id, title, description, price, original_price, duration, category, capacity,
	highlights, includes, status, created_at, updated_at`

func scanTour(row rowScanner) (*models.Tour, error) {
	var (
		t                    models.Tour
		highlights, includes string
	)
	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.Price, &t.OriginalPrice, &t.Duration, &t.Category, &t.Capacity,
		&highlights, &includes, &t.Status, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(highlights), &t.Highlights); err != nil {
		return nil, fmt.Errorf("decode highlights of tour %s: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(includes), &t.Includes); err != nil {
		return nil, fmt.Errorf("decode includes of tour %s: %w", t.ID, err)
	}
	return &t, nil
}

func encodeList(list []string) string {
	if list == nil {
		list = []string{}
	}
	data, _ := json.Marshal(list)
	return string(data)
}

func (db *DB) GetTour(ctx context.Context, id string) (*models.Tour, error) {
	t, err := scanTour(db.QueryRowContext(ctx, `SELECT `+tourColumns+` FROM tours WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get tour: %w", notFound(err, ErrTourNotFound))
	}
	return t, nil
}

func (db *DB) ListTours(ctx context.Context, includeDrafts bool) ([]models.Tour, error) {
	query := `SELECT ` + tourColumns + ` FROM tours WHERE (? OR status = ?) ORDER BY title`
	rows, err := db.QueryContext(ctx, query, includeDrafts, models.TourStatusPublished)
	if err != nil {
		return nil, fmt.Errorf("failed to list tours: %w", err)
	}
	defer rows.Close()

	tours := []models.Tour{}
	for rows.Next() {
		t, err := scanTour(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tour: %w", err)
		}
		tours = append(tours, *t)
	}
	return tours, rows.Err()
}

func (db *DB) CreateTour(ctx context.Context, tour *models.Tour) error {
	now := time.Now().UTC()
	query := `INSERT INTO tours (` + tourColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		tour.ID, tour.Title, tour.Description, tour.Price, tour.OriginalPrice, tour.Duration, tour.Category,
		tour.Capacity, encodeList(tour.Highlights), encodeList(tour.Includes), tour.Status, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("tour %s already exists: %w", tour.ID, ErrDuplicateTour)
		}
		return fmt.Errorf("failed to create tour: %w", err)
	}
	tour.CreatedAt = now
	tour.UpdatedAt = now
	return nil
}

func (db *DB) UpdateTour(ctx context.Context, tour *models.Tour) error {
	now := time.Now().UTC()
	query := `UPDATE tours SET title = ?, description = ?, price = ?, original_price = ?, duration = ?,
		category = ?, capacity = ?, highlights = ?, includes = ?, status = ?, updated_at = ?
		WHERE id = ?`
	result, err := db.ExecContext(ctx, query,
		tour.Title, tour.Description, tour.Price, tour.OriginalPrice, tour.Duration, tour.Category,
		tour.Capacity, encodeList(tour.Highlights), encodeList(tour.Includes), tour.Status, now, tour.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update tour: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrTourNotFound
	}
	tour.UpdatedAt = now
	return nil
}

// SeedTours inserts catalogue entries that do not exist yet. Existing rows
// keep whatever staff changed through the API.
func (db *DB) SeedTours(ctx context.Context, tours []models.Tour) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	query := `INSERT OR IGNORE INTO tours (` + tourColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	inserted := 0
	for i := range tours {
		t := &tours[i]
		status := t.Status
		if status == "" {
			status = models.TourStatusPublished
		}
		res, err := tx.ExecContext(ctx, query,
			t.ID, t.Title, t.Description, t.Price, t.OriginalPrice, t.Duration, t.Category,
			t.Capacity, encodeList(t.Highlights), encodeList(t.Includes), status, now, now,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to seed tour %s: %w", t.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit tours: %w", err)
	}
	return inserted, nil
}
