package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tourbook/internal/database"
	"tourbook/internal/metrics"
	"tourbook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	TaskUpsert       = "upsert"
	TaskUpdateStatus = "update_status"
)

// sheetTaskPayload is persisted in SyncTask.Payload as JSON.
type sheetTaskPayload struct {
	BookingID string          `json:"booking_id"`
	Booking   *models.Booking `json:"booking,omitempty"`
	Status    string          `json:"status,omitempty"`
}

// SheetsClient mirrors bookings into the operations spreadsheet.
type SheetsClient interface {
	UpsertBooking(ctx context.Context, booking *models.Booking) error
	UpdateBookingStatus(ctx context.Context, bookingID, status string) error
}

// SheetsWorker mirrors booking changes into the operations spreadsheet.
//
// Every change is written to sync_queue before anything else, then announced
// through redis (or an in-memory channel without redis). The announcement is
// only a hint: a task is applied by whoever claims its row, and the table is
// polled so tasks survive restarts and lost announcements.
type SheetsWorker struct {
	db            *database.DB
	sheets        SheetsClient
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.SyncTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int

	housekeepEvery time.Duration
	retention      time.Duration
	lastHousekeep  time.Time

	logger zerolog.Logger
}

func NewSheetsWorker(db *database.DB, sheets SheetsClient, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *SheetsWorker {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "sheets_worker").Logger()
	}

	return &SheetsWorker{
		db:             db,
		sheets:         sheets,
		redis:          redisClient,
		retryPolicy:    retry.withDefaults(),
		queue:          make(chan models.SyncTask, 128),
		redisQueueKey:  "tourbook:sheets:queue",
		deadLetterKey:  "tourbook:sheets:deadletter",
		pollInterval:   2 * time.Second,
		batchSize:      20,
		housekeepEvery: time.Minute,
		retention:      7 * 24 * time.Hour,
		logger:         l,
	}
}

// SetRetention sets how long completed tasks are kept. Zero or negative
// values are ignored.
func (w *SheetsWorker) SetRetention(d time.Duration) {
	if d > 0 {
		w.retention = d
	}
}

// EnqueueTask persists a sheet change for bookingID. When the same kind of
// change is already waiting for that booking, the waiting task is updated to
// carry the newer data instead of queueing a second write.
func (w *SheetsWorker) EnqueueTask(ctx context.Context, taskType, bookingID string, booking *models.Booking, status string) error {
	if taskType == "" {
		return errors.New("task type is required")
	}
	if bookingID == "" && booking != nil {
		bookingID = booking.ID
	}
	if bookingID == "" {
		return errors.New("booking id is required")
	}

	payloadBytes, err := json.Marshal(sheetTaskPayload{
		BookingID: bookingID,
		Booking:   booking,
		Status:    status,
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.SyncTask{
		TaskType:  taskType,
		BookingID: bookingID,
		Payload:   string(payloadBytes),
		Status:    models.SyncStatusPending,
	}
	coalesced, err := w.db.EnqueueSyncTask(ctx, &task)
	if err != nil {
		return fmt.Errorf("persist sync task: %w", err)
	}
	if coalesced {
		w.logger.Debug().Int64("task_id", task.ID).Str("booking_id", bookingID).Str("type", taskType).Msg("sync task coalesced")
		return nil
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, w.redisQueueKey, &task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, falling back to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("memory queue full, task left for polling")
	}
	return nil
}

// Start runs the main loop until ctx is done.
func (w *SheetsWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("sheets worker started")
	defer w.logger.Info().Msg("sheets worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.maybeHousekeep(ctx)

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.db.DueSyncTasks(ctx, time.Now(), w.batchSize)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("fetch due sync tasks")
			}
			w.sleep(ctx)
			continue
		}
		if len(tasks) == 0 {
			w.sleep(ctx)
			continue
		}

		for i := range tasks {
			w.processTask(ctx, &tasks[i])
		}
	}
}

func (w *SheetsWorker) sleep(ctx context.Context) {
	t := time.NewTimer(w.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *SheetsWorker) tryLocalQueue() (models.SyncTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.SyncTask{}, false
	}
}

func (w *SheetsWorker) tryRedis(ctx context.Context) (models.SyncTask, bool) {
	if w.redis == nil {
		return models.SyncTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.logger.Warn().Err(err).Msg("redis BRPOP failed")
		}
		return models.SyncTask{}, false
	}
	if len(res) != 2 {
		return models.SyncTask{}, false
	}
	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Warn().Err(err).Msg("decode redis task")
		return models.SyncTask{}, false
	}
	return task, true
}

// processTask applies the task announced as queued. The row is claimed first
// and its stored payload is used, so a task picked up twice (redis and the
// poller) or coalesced after it was announced is still written once with the
// latest data.
func (w *SheetsWorker) processTask(ctx context.Context, queued *models.SyncTask) {
	task, err := w.db.ClaimSyncTask(ctx, queued.ID)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", queued.ID).Msg("claim sync task")
		return
	}
	if task == nil {
		w.logger.Debug().Int64("task_id", queued.ID).Msg("sync task already handled")
		return
	}

	payload, err := w.decodePayload(task.Payload)
	if err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := w.handleSheetTask(ctx, task.TaskType, payload); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.db.CompleteSyncTask(ctx, task.ID); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark sync task completed")
	}
	metrics.IncSyncTask(models.SyncStatusCompleted)
	w.logger.Debug().Int64("task_id", task.ID).Str("type", task.TaskType).Str("booking_id", task.BookingID).Msg("sync task completed")
}

func (w *SheetsWorker) handleSheetTask(ctx context.Context, taskType string, payload sheetTaskPayload) error {
	switch taskType {
	case TaskUpsert:
		if payload.Booking == nil {
			return errors.New("booking payload missing")
		}
		return w.sheets.UpsertBooking(ctx, payload.Booking)
	case TaskUpdateStatus:
		if payload.BookingID == "" || payload.Status == "" {
			return errors.New("booking id or status missing")
		}
		return w.sheets.UpdateBookingStatus(ctx, payload.BookingID, payload.Status)
	default:
		return fmt.Errorf("unknown task type: %s", taskType)
	}
}

func (w *SheetsWorker) retryOrFail(ctx context.Context, task *models.SyncTask, cause error) {
	attempt := task.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.failTask(ctx, task, cause)
		return
	}

	nextTime := time.Now().UTC().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.db.RetrySyncTask(ctx, task.ID, cause.Error(), nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark sync task for retry")
	}
	metrics.IncSyncTask(models.SyncStatusRetry)
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Int("attempt", attempt).Time("next_retry_at", nextTime).Msg("sync task will be retried")
}

func (w *SheetsWorker) failTask(ctx context.Context, task *models.SyncTask, cause error) {
	if err := w.db.FailSyncTask(ctx, task.ID, cause.Error()); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark sync task failed")
	}
	metrics.IncSyncTask(models.SyncStatusFailed)
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("booking_id", task.BookingID).Msg("sync task failed")

	if w.redis != nil {
		if err := w.pushRedis(ctx, w.deadLetterKey, task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("dead letter push failed")
		}
	}
}

// ReplayFailed requeues failed tasks and tasks a previous process left in
// processing. It must run before Start; the poller picks them up afterwards.
func (w *SheetsWorker) ReplayFailed(ctx context.Context) (int, error) {
	n, err := w.db.RequeueSyncTasks(ctx, models.SyncStatusFailed, models.SyncStatusProcessing)
	if err != nil {
		return 0, err
	}
	if w.redis != nil && n > 0 {
		if err := w.redis.Del(ctx, w.deadLetterKey).Err(); err != nil {
			w.logger.Warn().Err(err).Msg("clear dead letter list")
		}
	}
	return int(n), nil
}

func (w *SheetsWorker) maybeHousekeep(ctx context.Context) {
	if time.Since(w.lastHousekeep) < w.housekeepEvery {
		return
	}
	w.lastHousekeep = time.Now()
	w.housekeep(ctx)
}

// housekeep drops old completed tasks and refreshes the queue depth gauge.
func (w *SheetsWorker) housekeep(ctx context.Context) {
	purged, err := w.db.PurgeSyncTasks(ctx, time.Now().Add(-w.retention))
	if err != nil {
		w.logger.Warn().Err(err).Msg("purge completed sync tasks")
	} else if purged > 0 {
		w.logger.Info().Int64("purged", purged).Msg("completed sync tasks purged")
	}

	counts, err := w.db.CountSyncTasks(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("count sync tasks")
		return
	}
	metrics.SetSyncQueueDepth(counts)
	if counts[models.SyncStatusFailed] > 0 {
		w.logger.Warn().Int("failed", counts[models.SyncStatusFailed]).Msg("sync tasks waiting for replay")
	}
}

func (w *SheetsWorker) decodePayload(raw string) (sheetTaskPayload, error) {
	var payload sheetTaskPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return payload, err
	}
	return payload, nil
}

func (w *SheetsWorker) pushRedis(ctx context.Context, key string, task *models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}
