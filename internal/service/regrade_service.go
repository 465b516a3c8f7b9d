package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exstem-guard/internal/config"
	"github.com/stemsi/exstem-guard/internal/model"
)

// ErrRegradeInProgress is returned when a regrade of the exam is already queued or running.
var ErrRegradeInProgress = errors.New("regrade already in progress")

const regradeLockTTL = 15 * time.Minute

// RegradeService queues exam-wide regrades and runs them for the RegradeWorker.
// A Redis lock keeps one regrade per exam in flight.
type RegradeService struct {
	rdb         *redis.Client
	submissions *SubmissionService
}

// NewRegradeService creates a new RegradeService.
func NewRegradeService(rdb *redis.Client, submissions *SubmissionService) *RegradeService {
	return &RegradeService{rdb: rdb, submissions: submissions}
}

// Enqueue queues a regrade of examID requested by an admin.
func (s *RegradeService) Enqueue(ctx context.Context, examID uuid.UUID, adminID int) error {
	lockKey := config.CacheKey.ExamRegradeLockKey(examID.String())
	ok, err := s.rdb.SetNX(ctx, lockKey, adminID, regradeLockTTL).Result()
	if err != nil {
		return fmt.Errorf("acquire regrade lock: %w", err)
	}
	if !ok {
		return ErrRegradeInProgress
	}

	job, err := json.Marshal(model.RegradeJob{
		ExamID:      examID.String(),
		RequestedBy: adminID,
		Timestamp:   time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal regrade job: %w", err)
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.RegradeQueue, job).Err(); err != nil {
		s.rdb.Del(ctx, lockKey)
		return fmt.Errorf("queue regrade: %w", err)
	}
	return nil
}

// Run executes a queued regrade, then releases the exam's lock and drops
// its cached leaderboard so the new scores show at once.
func (s *RegradeService) Run(ctx context.Context, job model.RegradeJob) (RegradeResult, error) {
	examID, err := uuid.Parse(job.ExamID)
	if err != nil {
		return RegradeResult{}, fmt.Errorf("regrade job exam id: %w", err)
	}
	defer s.rdb.Del(context.WithoutCancel(ctx),
		config.CacheKey.ExamRegradeLockKey(job.ExamID),
		config.CacheKey.ExamLeaderboardKey(job.ExamID),
	)

	return s.submissions.RegradeExam(ctx, examID)
}
