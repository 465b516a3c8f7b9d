package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-guard/internal/config"
	"github.com/stemsi/exstem-guard/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// ViolationStore is the audit log the worker writes to.
type ViolationStore interface {
	InsertViolations(ctx context.Context, batch []model.ViolationRecord) error
	InsertViolation(ctx context.Context, v model.ViolationRecord) error
}

// ViolationWorker drains persist_violations_queue into the exam_violations audit log.
type ViolationWorker struct {
	store ViolationStore
	rdb   *redis.Client
	log   zerolog.Logger
}

func NewViolationWorker(store ViolationStore, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "violation_worker").Logger(),
	}
}

// Start runs the worker loop until ctx is canceled. Call in a goroutine.
func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")

	buffer := make([]model.ViolationRecord, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Check Flush Conditions (Time or Size)
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		// 2. Check Context (Graceful Shutdown)
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch from Redis
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistViolationsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // queue empty, loop back to check the flush timer
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		// 4. Process Data
		if len(result) < 2 {
			continue
		}

		var record model.ViolationRecord
		if err := json.Unmarshal([]byte(result[1]), &record); err != nil {
			// Malformed JSON can never succeed. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}

		buffer = append(buffer, record)
	}
}

// flushSafe attempts a bulk insert, then row-by-row, then requeues what failed.
func (w *ViolationWorker) flushSafe(ctx context.Context, batch []model.ViolationRecord) {
	if failed := w.persist(ctx, batch); len(failed) > 0 {
		w.requeue(ctx, failed)
	}
}

// persist returns the records that could not be stored and are worth retrying.
func (w *ViolationWorker) persist(ctx context.Context, batch []model.ViolationRecord) []model.ViolationRecord {
	if len(batch) == 0 {
		return nil
	}

	// Fast path: bulk insert
	err := w.store.InsertViolations(ctx, batch)
	if err == nil {
		return nil
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	// Fallback path: insert one by one
	var failed []model.ViolationRecord
	for _, v := range batch {
		if !validRecord(v) {
			w.log.Error().Str("exam_id", v.ExamID).Msg("Dropping violation with invalid exam ID")
			continue
		}
		if err := w.store.InsertViolation(ctx, v); err != nil {
			w.log.Error().Err(err).Int("student_id", v.StudentID).Msg("Insert failed, requeueing")
			failed = append(failed, v)
		}
	}
	return failed
}

func (w *ViolationWorker) requeue(ctx context.Context, items []model.ViolationRecord) {
	pipe := w.rdb.Pipeline()
	for _, v := range items {
		data, _ := json.Marshal(v)
		pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue violations to Redis. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed violations back to Redis")
	// Back off so a database outage does not spin the loop
	time.Sleep(2 * time.Second)
}

func (w *ViolationWorker) shutdown(buffer []model.ViolationRecord) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}

func validRecord(v model.ViolationRecord) bool {
	_, err := uuid.Parse(v.ExamID)
	return err == nil
}
