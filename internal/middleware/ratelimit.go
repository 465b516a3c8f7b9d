package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-guard/internal/config"
	"github.com/stemsi/exstem-guard/internal/response"
)

// RateLimiter allows a fixed number of requests per subject per minute.
// Counters live in Redis so every server instance shares them; without
// Redis, or when it fails, an in-process window is used instead.
type RateLimiter struct {
	rdb   *redis.Client
	limit int
	now   func() time.Time
	log   zerolog.Logger

	mu        sync.Mutex
	windows   map[string]*window
	lastSwept int64
}

type window struct {
	minute int64
	count  int
}

// NewRateLimiter creates a RateLimiter allowing limit requests per minute.
func NewRateLimiter(rdb *redis.Client, limit int, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:     rdb,
		limit:   limit,
		now:     time.Now,
		log:     log.With().Str("component", "rate_limiter").Logger(),
		windows: make(map[string]*window),
	}
}

// Middleware returns a Gin middleware that rate-limits by JWT subject,
// falling back to the client IP for anonymous requests.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limit <= 0 {
			c.Next()
			return
		}

		subject := "ip:" + c.ClientIP()
		if claims := GetClaims(c); claims != nil {
			subject = string(claims.TokenType) + ":" + strconv.Itoa(claims.UserID)
		}

		if !rl.Allow(c.Request.Context(), subject) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

// Allow counts one request for subject and reports whether it is within the limit.
func (rl *RateLimiter) Allow(ctx context.Context, subject string) bool {
	minute := rl.now().Unix() / 60

	if rl.rdb != nil {
		key := config.CacheKey.SubmitRateKey(subject, minute)
		pipe := rl.rdb.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, 2*time.Minute)
		_, err := pipe.Exec(ctx)
		if err == nil {
			return incr.Val() <= int64(rl.limit)
		}
		rl.log.Warn().Err(err).Msg("Redis rate limit failed, using local window")
	}

	return rl.allowLocal(subject, minute)
}

func (rl *RateLimiter) allowLocal(subject string, minute int64) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if minute != rl.lastSwept {
		for k, w := range rl.windows {
			if w.minute < minute {
				delete(rl.windows, k)
			}
		}
		rl.lastSwept = minute
	}

	w, ok := rl.windows[subject]
	if !ok || w.minute != minute {
		w = &window{minute: minute}
		rl.windows[subject] = w
	}
	w.count++
	return w.count <= rl.limit
}
