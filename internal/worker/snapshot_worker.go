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
	"github.com/stemsi/exstem-guard/internal/repository"
)

// SnapshotStore persists autosaved answer snapshots onto their sessions.
type SnapshotStore interface {
	SaveSnapshots(ctx context.Context, updates []repository.SnapshotUpdate) error
	SaveSnapshot(ctx context.Context, u repository.SnapshotUpdate) error
}

// SnapshotWorker drains persist_snapshots_queue into exam_sessions.answers_snapshot.
// Only the newest snapshot of each session in a batch is written.
type SnapshotWorker struct {
	store SnapshotStore
	rdb   *redis.Client
	log   zerolog.Logger
}

// NewSnapshotWorker creates a new SnapshotWorker.
func NewSnapshotWorker(store SnapshotStore, rdb *redis.Client, log zerolog.Logger) *SnapshotWorker {
	return &SnapshotWorker{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "snapshot_worker").Logger(),
	}
}

// Start runs the worker loop until ctx is canceled. Call in a goroutine.
func (w *SnapshotWorker) Start(ctx context.Context) {
	w.log.Info().Msg("SnapshotWorker started")

	batch := make([]model.AutosavePayload, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.flushSafe(shutdownCtx, batch)
			cancel()
			return

		default:
			item, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistSnapshotsQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
					time.Sleep(time.Second)
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var p model.AutosavePayload
			if err := json.Unmarshal([]byte(item[1]), &p); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, p)
		}
	}
}

func (w *SnapshotWorker) flushSafe(ctx context.Context, batch []model.AutosavePayload) {
	if failed := w.persist(ctx, batch); len(failed) > 0 {
		pipe := w.rdb.Pipeline()
		for _, p := range failed {
			raw, _ := json.Marshal(p)
			pipe.RPush(ctx, config.WorkerKey.PersistSnapshotsQueue, raw)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			w.log.Error().Err(err).Int("count", len(failed)).Msg("CRITICAL: Failed to requeue snapshots")
			return
		}
		time.Sleep(2 * time.Second)
	}
}

// persist writes the batch and returns the payloads to retry.
func (w *SnapshotWorker) persist(ctx context.Context, batch []model.AutosavePayload) []model.AutosavePayload {
	latest := latestPerSession(batch)
	if len(latest) == 0 {
		return nil
	}

	updates := make([]repository.SnapshotUpdate, 0, len(latest))
	for _, p := range latest {
		id, _ := uuid.Parse(p.SessionID)
		updates = append(updates, repository.SnapshotUpdate{SessionID: id, Answers: p.Answers})
	}

	err := w.store.SaveSnapshots(ctx, updates)
	if err == nil {
		return nil
	}
	w.log.Warn().Err(err).Int("count", len(updates)).Msg("Bulk snapshot update failed, using fallback")

	var failed []model.AutosavePayload
	for i, u := range updates {
		if err := w.store.SaveSnapshot(ctx, u); err != nil {
			w.log.Error().Err(err).Str("session_id", latest[i].SessionID).Msg("Snapshot save failed, requeueing")
			failed = append(failed, latest[i])
		}
	}
	return failed
}

// latestPerSession keeps the newest payload of every session, in first-seen
// order. Payloads without a valid session ID are dropped.
func latestPerSession(batch []model.AutosavePayload) []model.AutosavePayload {
	index := make(map[string]int, len(batch))
	out := make([]model.AutosavePayload, 0, len(batch))
	for _, p := range batch {
		if _, err := uuid.Parse(p.SessionID); err != nil {
			continue
		}
		if i, ok := index[p.SessionID]; ok {
			if p.Timestamp >= out[i].Timestamp {
				out[i] = p
			}
			continue
		}
		index[p.SessionID] = len(out)
		out = append(out, p)
	}
	return out
}
