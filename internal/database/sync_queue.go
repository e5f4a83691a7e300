package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tourbook/internal/models"
)

const syncTaskColumns = `id, task_type, booking_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

func scanSyncTask(row rowScanner) (models.SyncTask, error) {
	var t models.SyncTask
	err := row.Scan(&t.ID, &t.TaskType, &t.BookingID, &t.Payload, &t.Status,
		&t.RetryCount, &t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt)
	return t, err
}

// EnqueueSyncTask stores task. If a task of the same type for the same booking
// is still waiting to be picked up, its payload is replaced with the new one
// and task receives that row's id; coalesced reports that case.
func (db *DB) EnqueueSyncTask(ctx context.Context, task *models.SyncTask) (coalesced bool, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var existingID int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM sync_queue WHERE booking_id = ? AND task_type = ? AND status = ? ORDER BY id DESC LIMIT 1`,
		task.BookingID, task.TaskType, models.SyncStatusPending,
	).Scan(&existingID)

	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `UPDATE sync_queue SET payload = ? WHERE id = ?`, task.Payload, existingID); err != nil {
			return false, fmt.Errorf("failed to coalesce sync task: %w", err)
		}
		task.ID = existingID
		task.Status = models.SyncStatusPending
		coalesced = true
	case errors.Is(err, sql.ErrNoRows):
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO sync_queue (task_type, booking_id, payload, status, retry_count, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
			task.TaskType, task.BookingID, task.Payload, models.SyncStatusPending, now)
		if err != nil {
			return false, fmt.Errorf("failed to create sync task: %w", err)
		}
		if task.ID, err = res.LastInsertId(); err != nil {
			return false, fmt.Errorf("failed to get last insert id: %w", err)
		}
		task.Status = models.SyncStatusPending
		task.CreatedAt = now
	default:
		return false, fmt.Errorf("failed to look up pending sync task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit sync task: %w", err)
	}
	return coalesced, nil
}

// DueSyncTasks returns waiting tasks whose retry time has come, oldest first.
func (db *DB) DueSyncTasks(ctx context.Context, now time.Time, limit int) ([]models.SyncTask, error) {
	query := `SELECT ` + syncTaskColumns + ` FROM sync_queue
              WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC, id ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, models.SyncStatusPending, models.SyncStatusRetry, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get due sync tasks: %w", err)
	}
	defer rows.Close()

	tasks := []models.SyncTask{}
	for rows.Next() {
		t, err := scanSyncTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ClaimSyncTask moves a waiting task to processing and returns its current
// row. It returns nil when another consumer got there first or the task is
// already done.
func (db *DB) ClaimSyncTask(ctx context.Context, id int64) (*models.SyncTask, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ? WHERE id = ? AND status IN (?, ?)`,
		models.SyncStatusProcessing, id, models.SyncStatusPending, models.SyncStatusRetry)
	if err != nil {
		return nil, fmt.Errorf("failed to claim sync task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}

	t, err := scanSyncTask(db.QueryRowContext(ctx, `SELECT `+syncTaskColumns+` FROM sync_queue WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to load claimed sync task: %w", err)
	}
	return &t, nil
}

func (db *DB) CompleteSyncTask(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, last_error = NULL, next_retry_at = NULL, processed_at = ? WHERE id = ?`,
		models.SyncStatusCompleted, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to complete sync task: %w", err)
	}
	return nil
}

// RetrySyncTask records a failed attempt and schedules the next one.
func (db *DB) RetrySyncTask(ctx context.Context, id int64, errMsg string, next time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`,
		models.SyncStatusRetry, errMsg, next.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to schedule sync task retry: %w", err)
	}
	return nil
}

func (db *DB) FailSyncTask(ctx context.Context, id int64, errMsg string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, last_error = ?, next_retry_at = NULL, processed_at = ? WHERE id = ?`,
		models.SyncStatusFailed, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark sync task failed: %w", err)
	}
	return nil
}

// RequeueSyncTasks puts every task in one of statuses back to pending with a
// fresh retry budget. It is used to replay failed tasks and to release tasks
// left in processing by a crashed worker.
func (db *DB) RequeueSyncTasks(ctx context.Context, statuses ...string) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	args := []any{models.SyncStatusPending}
	for _, s := range statuses {
		args = append(args, s)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")

	res, err := db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, retry_count = 0, last_error = NULL, next_retry_at = NULL, processed_at = NULL
         WHERE status IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue sync tasks: %w", err)
	}
	return res.RowsAffected()
}

// PurgeSyncTasks deletes completed tasks processed before cutoff.
func (db *DB) PurgeSyncTasks(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE status = ? AND processed_at < ?`,
		models.SyncStatusCompleted, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge sync tasks: %w", err)
	}
	return res.RowsAffected()
}

// CountSyncTasks reports queue depth per status.
func (db *DB) CountSyncTasks(ctx context.Context) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count sync tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan sync task count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
