package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// connectAttempts and connectDelay let the server ride out dependencies that
// start alongside it, as in docker compose.
const (
	connectAttempts = 5
	connectDelay    = 2 * time.Second
)

// retry calls fn until it succeeds, attempts run out or ctx is done.
// The delay doubles after every failure.
func retry(ctx context.Context, log zerolog.Logger, what string, attempts int, delay time.Duration, fn func(context.Context) error) error {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		log.Warn().Err(err).
			Str("target", what).
			Int("attempt", i).
			Dur("retry_in", delay).
			Msg("Connection failed, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("%s after %d attempts: %w", what, attempts, err)
}
