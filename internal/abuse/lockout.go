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

// Lockout tracks consecutive verification failures per identity and applies
// a hard lock once the failure cap is hit. The failure counter and the lock
// itself live under separate keys so a lock outlives the counter that
// triggered it.
type Lockout struct {
	counters cache.CounterStore
	cfg      config.Lockout
	logger   *slog.Logger
}

func NewLockout(counters cache.CounterStore, cfg config.Lockout, logger *slog.Logger) *Lockout {
	return &Lockout{
		counters: counters,
		cfg:      cfg,
		logger:   logger,
	}
}

func failureKey(identity string) string {
	return fmt.Sprintf("lockout:failures:%s", identity)
}

func lockKey(identity string) string {
	return fmt.Sprintf("lockout:lock:%s", identity)
}

// Check refuses the attempt while the identity is locked. Called before any
// code comparison so a locked identity learns nothing about code validity.
func (l *Lockout) Check(ctx context.Context, identity string) error {
	locked, err := l.counters.Exists(ctx, lockKey(identity))
	if err != nil {
		return l.storeFailure("lockout state unavailable", err)
	}
	if !locked {
		return nil
	}

	retryAfter, err := l.counters.TTL(ctx, lockKey(identity))
	if err != nil || retryAfter <= 0 {
		retryAfter = l.cfg.Duration
	}

	return apperrors.LockedOutError("verification temporarily locked", retryAfter)
}

// RecordFailure counts one failed attempt and locks the identity when the
// cap is reached. Returns the lockout error if this failure tripped the lock.
func (l *Lockout) RecordFailure(ctx context.Context, identity string) error {
	failures, err := l.counters.Increment(ctx, failureKey(identity), l.cfg.FailureTTL)
	if err != nil {
		return l.storeFailure("failure counter unavailable", err)
	}

	if failures < int64(l.cfg.MaxFailures) {
		return nil
	}

	if err := l.counters.SetWithTTL(ctx, lockKey(identity), time.Now().Unix(), l.cfg.Duration); err != nil {
		return l.storeFailure("failed to set lock", err)
	}

	l.logger.Warn("identity locked out",
		slog.String("identity", identity),
		slog.Int64("failures", failures),
	)

	return apperrors.LockedOutError("verification temporarily locked", l.cfg.Duration)
}

// RecordSuccess clears both the failure counter and any lock
func (l *Lockout) RecordSuccess(ctx context.Context, identity string) error {
	if err := l.counters.Delete(ctx, failureKey(identity)); err != nil {
		return l.storeFailure("failed to clear failure counter", err)
	}
	if err := l.counters.Delete(ctx, lockKey(identity)); err != nil {
		return l.storeFailure("failed to clear lock", err)
	}
	return nil
}

func (l *Lockout) storeFailure(message string, err error) error {
	if l.cfg.FailOpen {
		l.logger.Error("lockout degraded, allowing attempt",
			slog.String("reason", message),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return apperrors.CacheUnavailableError(message, err)
}
