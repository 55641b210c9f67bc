package abuse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/signet-id/signet/internal/cache"
	"github.com/signet-id/signet/internal/config"
	apperrors "github.com/signet-id/signet/internal/errors"
)

// RateLimiter enforces fixed-window request limits keyed by caller identity.
// The counter for a window is created with its TTL on first increment and
// only ever resets by expiring; requests over the limit do not extend it.
type RateLimiter struct {
	counters cache.CounterStore
	cfg      config.RateLimit
	logger   *slog.Logger
}

func NewRateLimiter(counters cache.CounterStore, cfg config.RateLimit, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		counters: counters,
		cfg:      cfg,
		logger:   logger,
	}
}

// Allow counts one request against the key's current window. When the limit
// is exceeded it returns a rate-limited error carrying the time until the
// window expires.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int) error {
	if !r.cfg.Enabled {
		return nil
	}

	counterKey := fmt.Sprintf("ratelimit:%s", key)

	count, err := r.counters.Increment(ctx, counterKey, r.cfg.WindowDuration)
	if err != nil {
		return r.storeFailure("rate limit counter unavailable", err)
	}

	if count <= int64(limit) {
		return nil
	}

	retryAfter, err := r.counters.TTL(ctx, counterKey)
	if err != nil || retryAfter <= 0 {
		retryAfter = r.cfg.WindowDuration
	}

	r.logger.Warn("rate limit exceeded",
		slog.String("key", key),
		slog.Int64("count", count),
		slog.Int("limit", limit),
	)

	return apperrors.RateLimitedError("too many requests", retryAfter)
}

// Remaining reports how many requests are left in the key's current window
func (r *RateLimiter) Remaining(ctx context.Context, key string, limit int) (int, error) {
	if !r.cfg.Enabled {
		return limit, nil
	}

	var count int64
	err := r.counters.Get(ctx, fmt.Sprintf("ratelimit:%s", key), &count)
	if err != nil {
		if err == cache.ErrCacheMiss {
			return limit, nil
		}
		return 0, apperrors.CacheError("failed to read rate limit counter", err)
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears the key's window, for administrative unblocking
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	return r.counters.Delete(ctx, fmt.Sprintf("ratelimit:%s", key))
}

// storeFailure applies the configured degraded-mode policy when the counter
// store cannot be reached.
func (r *RateLimiter) storeFailure(message string, err error) error {
	if r.cfg.FailOpen {
		r.logger.Error("abuse control degraded, allowing request",
			slog.String("reason", message),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return apperrors.CacheUnavailableError(message, err)
}

// Window exposes the configured window length, for Retry-After fallbacks
func (r *RateLimiter) Window() time.Duration {
	return r.cfg.WindowDuration
}
