package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-guard/internal/config"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/service"
)

// Regrader runs one queued regrade.
type Regrader interface {
	Run(ctx context.Context, job model.RegradeJob) (service.RegradeResult, error)
}

// RegradeWorker consumes regrade_exam_queue one job at a time.
type RegradeWorker struct {
	regrader Regrader
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewRegradeWorker creates a new RegradeWorker.
func NewRegradeWorker(regrader Regrader, rdb *redis.Client, log zerolog.Logger) *RegradeWorker {
	return &RegradeWorker{
		regrader: regrader,
		rdb:      rdb,
		log:      log.With().Str("component", "regrade_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *RegradeWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *RegradeWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.RegradeQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
			time.Sleep(time.Second)
		}
		return
	}

	if len(result) < 2 {
		return
	}

	var job model.RegradeJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return
	}

	w.handle(ctx, job)
}

func (w *RegradeWorker) handle(ctx context.Context, job model.RegradeJob) {
	l := w.log.With().Str("exam_id", job.ExamID).Int("requested_by", job.RequestedBy).Logger()

	started := time.Now()
	res, err := w.regrader.Run(ctx, job)
	if err != nil {
		l.Error().Err(err).Msg("Regrade failed")
		return
	}
	l.Info().
		Int("total", res.Total).
		Int("changed", res.Changed).
		Dur("took", time.Since(started)).
		Msg("Regrade finished")
}
