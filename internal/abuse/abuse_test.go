package abuse

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/signet-id/signet/internal/cache"
	"github.com/signet-id/signet/internal/config"
	apperrors "github.com/signet-id/signet/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCounters(t *testing.T) (*cache.Service, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return cache.NewServiceWithClient(client, "test:", testLogger()), mr
}

func TestRateLimiterAllow(t *testing.T) {
	counters, mr := testCounters(t)
	limiter := NewRateLimiter(counters, config.RateLimit{
		Enabled:        true,
		WindowDuration: time.Minute,
	}, testLogger())

	ctx := context.Background()

	t.Run("allows up to the limit", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			if err := limiter.Allow(ctx, "ip:1.2.3.4", 3); err != nil {
				t.Fatalf("request %d unexpectedly limited: %v", i+1, err)
			}
		}
	})

	t.Run("rejects over the limit with retry hint", func(t *testing.T) {
		err := limiter.Allow(ctx, "ip:1.2.3.4", 3)
		if !apperrors.IsType(err, apperrors.CodeRateLimited) {
			t.Fatalf("expected rate limited error, got %v", err)
		}

		retryAfter, ok := apperrors.RetryAfter(err)
		if !ok {
			t.Fatal("expected a retry-after duration")
		}
		if retryAfter <= 0 || retryAfter > time.Minute {
			t.Fatalf("retry-after %v outside window", retryAfter)
		}
	})

	t.Run("rejections do not extend the window", func(t *testing.T) {
		before := mr.TTL("test:ratelimit:ip:1.2.3.4")
		if err := limiter.Allow(ctx, "ip:1.2.3.4", 3); err == nil {
			t.Fatal("expected rejection")
		}
		after := mr.TTL("test:ratelimit:ip:1.2.3.4")
		if after > before {
			t.Fatalf("window extended from %v to %v by rejected request", before, after)
		}
	})

	t.Run("window expiry resets the counter", func(t *testing.T) {
		mr.FastForward(2 * time.Minute)
		if err := limiter.Allow(ctx, "ip:1.2.3.4", 3); err != nil {
			t.Fatalf("expected fresh window to allow, got %v", err)
		}
	})

	t.Run("keys are independent", func(t *testing.T) {
		if err := limiter.Allow(ctx, "ip:5.6.7.8", 3); err != nil {
			t.Fatalf("unrelated key unexpectedly limited: %v", err)
		}
	})
}

func TestRateLimiterDisabled(t *testing.T) {
	counters, _ := testCounters(t)
	limiter := NewRateLimiter(counters, config.RateLimit{Enabled: false}, testLogger())

	for i := 0; i < 100; i++ {
		if err := limiter.Allow(context.Background(), "ip:1.2.3.4", 1); err != nil {
			t.Fatalf("disabled limiter rejected request: %v", err)
		}
	}
}

func TestRateLimiterStoreDown(t *testing.T) {
	t.Run("fail closed by default", func(t *testing.T) {
		counters, mr := testCounters(t)
		limiter := NewRateLimiter(counters, config.RateLimit{
			Enabled:        true,
			WindowDuration: time.Minute,
		}, testLogger())

		mr.Close()

		err := limiter.Allow(context.Background(), "ip:1.2.3.4", 3)
		if !apperrors.IsType(err, apperrors.CodeCacheUnavailable) {
			t.Fatalf("expected cache unavailable error, got %v", err)
		}
	})

	t.Run("fail open when configured", func(t *testing.T) {
		counters, mr := testCounters(t)
		limiter := NewRateLimiter(counters, config.RateLimit{
			Enabled:        true,
			WindowDuration: time.Minute,
			FailOpen:       true,
		}, testLogger())

		mr.Close()

		if err := limiter.Allow(context.Background(), "ip:1.2.3.4", 3); err != nil {
			t.Fatalf("expected fail-open to allow, got %v", err)
		}
	})
}

func TestLockout(t *testing.T) {
	cfg := config.Lockout{
		MaxFailures: 5,
		Duration:    15 * time.Minute,
		FailureTTL:  15 * time.Minute,
	}

	ctx := context.Background()

	t.Run("stays unlocked below the cap", func(t *testing.T) {
		counters, _ := testCounters(t)
		lockout := NewLockout(counters, cfg, testLogger())

		for i := 0; i < 4; i++ {
			if err := lockout.RecordFailure(ctx, "user@example.com"); err != nil {
				t.Fatalf("failure %d unexpectedly locked: %v", i+1, err)
			}
		}
		if err := lockout.Check(ctx, "user@example.com"); err != nil {
			t.Fatalf("expected identity still unlocked, got %v", err)
		}
	})

	t.Run("locks on the fifth failure", func(t *testing.T) {
		counters, _ := testCounters(t)
		lockout := NewLockout(counters, cfg, testLogger())

		for i := 0; i < 4; i++ {
			if err := lockout.RecordFailure(ctx, "user@example.com"); err != nil {
				t.Fatalf("failure %d unexpectedly locked: %v", i+1, err)
			}
		}

		err := lockout.RecordFailure(ctx, "user@example.com")
		if !apperrors.IsType(err, apperrors.CodeLockedOut) {
			t.Fatalf("expected lockout on fifth failure, got %v", err)
		}

		err = lockout.Check(ctx, "user@example.com")
		if !apperrors.IsType(err, apperrors.CodeLockedOut) {
			t.Fatalf("expected check to report lock, got %v", err)
		}

		retryAfter, ok := apperrors.RetryAfter(err)
		if !ok || retryAfter <= 0 {
			t.Fatalf("expected positive retry-after, got %v ok=%v", retryAfter, ok)
		}
	})

	t.Run("lock expires after the duration", func(t *testing.T) {
		counters, mr := testCounters(t)
		lockout := NewLockout(counters, cfg, testLogger())

		for i := 0; i < 5; i++ {
			_ = lockout.RecordFailure(ctx, "user@example.com")
		}
		if err := lockout.Check(ctx, "user@example.com"); err == nil {
			t.Fatal("expected locked state")
		}

		mr.FastForward(16 * time.Minute)

		if err := lockout.Check(ctx, "user@example.com"); err != nil {
			t.Fatalf("expected lock to have expired, got %v", err)
		}
	})

	t.Run("success clears failures and lock", func(t *testing.T) {
		counters, _ := testCounters(t)
		lockout := NewLockout(counters, cfg, testLogger())

		for i := 0; i < 3; i++ {
			_ = lockout.RecordFailure(ctx, "user@example.com")
		}
		if err := lockout.RecordSuccess(ctx, "user@example.com"); err != nil {
			t.Fatalf("unexpected error clearing state: %v", err)
		}

		// Counter starts over, so four more failures stay unlocked
		for i := 0; i < 4; i++ {
			if err := lockout.RecordFailure(ctx, "user@example.com"); err != nil {
				t.Fatalf("failure %d after reset unexpectedly locked: %v", i+1, err)
			}
		}
	})
}
