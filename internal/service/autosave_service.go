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

const autosaveTTL = 24 * time.Hour

// AutosaveService buffers in-progress answers in Redis. Each save also
// queues the snapshot for the SnapshotWorker to persist.
type AutosaveService struct {
	rdb *redis.Client
}

// NewAutosaveService creates a new AutosaveService.
func NewAutosaveService(rdb *redis.Client) *AutosaveService {
	return &AutosaveService{rdb: rdb}
}

// Save replaces the buffered answers of a student and queues them for persistence.
func (s *AutosaveService) Save(ctx context.Context, p model.AutosavePayload) error {
	if p.Timestamp == 0 {
		p.Timestamp = time.Now().UnixMilli()
	}
	answers, err := json.Marshal(p.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	queued, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.StudentAnswersKey(p.ExamID, p.StudentID), answers, autosaveTTL)
	if p.SessionID != "" {
		pipe.RPush(ctx, config.WorkerKey.PersistSnapshotsQueue, queued)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("autosave: %w", err)
	}
	return nil
}

// Load returns the buffered answers, or nil when nothing was saved.
func (s *AutosaveService) Load(ctx context.Context, examID uuid.UUID, studentID int) (*model.Answers, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.StudentAnswersKey(examID.String(), studentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load autosave: %w", err)
	}
	var answers model.Answers
	if err := json.Unmarshal(data, &answers); err != nil {
		return nil, fmt.Errorf("decode autosave: %w", err)
	}
	return &answers, nil
}

// Clear drops the buffered answers of a student.
func (s *AutosaveService) Clear(ctx context.Context, examID uuid.UUID, studentID int) error {
	return s.rdb.Del(ctx, config.CacheKey.StudentAnswersKey(examID.String(), studentID)).Err()
}
