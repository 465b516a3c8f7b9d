package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-guard/internal/config"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/repository"
)

// ErrExamNotFound is returned when no exam has the requested ID.
var ErrExamNotFound = errors.New("exam not found")

// ExamService serves answer keys, cached in Redis in front of the exam store.
// The cache is optional: with a nil Redis client every read hits the store.
type ExamService struct {
	store ExamStore
	rdb   *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(store ExamStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *ExamService {
	return &ExamService{
		store: store,
		rdb:   rdb,
		ttl:   ttl,
		log:   log.With().Str("component", "exam_service").Logger(),
	}
}

// GetExam retrieves an exam from the store.
func (s *ExamService) GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	exam, err := s.store.GetExam(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrExamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return exam, nil
}

// AnswerKey returns the grading key of an exam, from the cache when possible.
// A cache failure falls back to the store.
func (s *ExamService) AnswerKey(ctx context.Context, examID uuid.UUID) (*model.AnswerKey, error) {
	if s.rdb != nil {
		data, err := s.rdb.Get(ctx, config.CacheKey.ExamAnswerKey(examID.String())).Bytes()
		switch {
		case err == nil:
			var key model.AnswerKey
			if err := json.Unmarshal(data, &key); err == nil {
				return &key, nil
			}
			s.log.Warn().Str("exam_id", examID.String()).Msg("Corrupt cached answer key, reloading")
		case !errors.Is(err, redis.Nil):
			s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Answer key cache unavailable")
		}
	}
	return s.RefreshKey(ctx, examID)
}

// RefreshKey reloads an exam's key from the store and re-caches it.
func (s *ExamService) RefreshKey(ctx context.Context, examID uuid.UUID) (*model.AnswerKey, error) {
	exam, err := s.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	key := s.gradingKey(exam)
	if err := s.cacheKey(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to cache answer key")
	}
	return key, nil
}

// gradingKey builds an exam's key and reports entries that will never earn
// credit, so authors can fix them before students are graded against them.
func (s *ExamService) gradingKey(exam *model.Exam) *model.AnswerKey {
	key, err := exam.AnswerKey()
	if err != nil {
		s.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Msg("Answer key has unreadable entries")
	}
	return key
}

func (s *ExamService) cacheKey(ctx context.Context, key *model.AnswerKey) error {
	if s.rdb == nil {
		return nil
	}
	data, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("marshal answer key: %w", err)
	}
	if err := s.rdb.Set(ctx, config.CacheKey.ExamAnswerKey(key.ExamID.String()), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}
	return nil
}

// PrewarmAllCaches loads the keys of all published exams into Redis on
// startup so the first submissions of an exam do not all miss the cache.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	exams, err := s.store.ListPublishedExams(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}

	if len(exams) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(exams)).Msg("Prewarming published exams...")

	warmed := 0
	for i := range exams {
		if err := s.cacheKey(ctx, s.gradingKey(&exams[i])); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}
