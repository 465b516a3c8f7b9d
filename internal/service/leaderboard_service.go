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
)

// LeaderboardLimit caps the entries of an exam leaderboard.
const LeaderboardLimit = 100

// LeaderboardService serves exam leaderboards, cached in Redis for a short
// TTL in front of the submission store. Only ranked submissions appear.
type LeaderboardService struct {
	store LeaderboardStore
	rdb   *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
}

// NewLeaderboardService creates a new LeaderboardService. A nil Redis client
// disables the cache.
func NewLeaderboardService(store LeaderboardStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *LeaderboardService {
	return &LeaderboardService{
		store: store,
		rdb:   rdb,
		ttl:   ttl,
		log:   log.With().Str("component", "leaderboard_service").Logger(),
	}
}

// TTL is how long a leaderboard may be served from the cache.
func (s *LeaderboardService) TTL() time.Duration { return s.ttl }

// Leaderboard returns the ranked entries of an exam and whether they were
// served from the cache.
func (s *LeaderboardService) Leaderboard(ctx context.Context, examID uuid.UUID) ([]model.LeaderboardEntry, bool, error) {
	cacheKey := config.CacheKey.ExamLeaderboardKey(examID.String())

	if s.rdb != nil {
		data, err := s.rdb.Get(ctx, cacheKey).Bytes()
		switch {
		case err == nil:
			var entries []model.LeaderboardEntry
			if err := json.Unmarshal(data, &entries); err == nil {
				return entries, true, nil
			}
			s.log.Warn().Str("exam_id", examID.String()).Msg("Corrupt cached leaderboard, reloading")
		case !errors.Is(err, redis.Nil):
			s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Leaderboard cache unavailable")
		}
	}

	subs, err := s.store.ListRankedSubmissions(ctx, examID, LeaderboardLimit)
	if err != nil {
		return nil, false, fmt.Errorf("list ranked submissions: %w", err)
	}
	entries := model.NewLeaderboard(subs)

	if s.rdb != nil && s.ttl > 0 {
		data, err := json.Marshal(entries)
		if err == nil {
			err = s.rdb.Set(ctx, cacheKey, data, s.ttl).Err()
		}
		if err != nil {
			s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to cache leaderboard")
		}
	}
	return entries, false, nil
}
