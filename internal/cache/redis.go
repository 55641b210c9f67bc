package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/signet-id/signet/internal/config"
	apperrors "github.com/signet-id/signet/internal/errors"
)

// Cache errors
var (
	ErrCacheMiss = errors.New("cache miss")
)

// CounterStore is the shared counter/value store consumed by abuse control
// and verification-code storage. Increments are single atomic operations;
// read-then-write counter races are not acceptable.
type CounterStore interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string, dest any) error
	SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// clientInterface abstracts the redis operations we actually use
type clientInterface interface {
	set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	get(ctx context.Context, key string) ([]byte, error)
	del(ctx context.Context, key string) error
	exists(ctx context.Context, key string) (bool, error)
	increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	ttl(ctx context.Context, key string) (time.Duration, error)
	ping(ctx context.Context) error
}

// Service provides the counter store backed by redis
type Service struct {
	client clientInterface
	logger *slog.Logger
	prefix string
}

// NewService creates a new redis-backed counter store. With caching disabled
// it degrades to a no-op client; callers decide fail-open vs fail-closed.
func NewService(cfg config.Cache, logger *slog.Logger) (*Service, error) {
	if !cfg.Enabled {
		return &Service{
			client: &noOpClient{},
			logger: logger,
			prefix: cfg.KeyPrefix,
		}, nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     cfg.RedisPoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("Failed to connect to redis", "error", err, "addr", cfg.RedisAddr)
		return nil, apperrors.CacheUnavailableError("failed to connect to redis", err)
	}

	logger.Info("Connected to redis counter store", "addr", cfg.RedisAddr, "db", cfg.RedisDB)

	return &Service{
		client: &redisClientWrapper{client: redisClient},
		logger: logger,
		prefix: cfg.KeyPrefix,
	}, nil
}

// NewServiceWithClient wires an existing redis client, used by tests
func NewServiceWithClient(client *redis.Client, prefix string, logger *slog.Logger) *Service {
	return &Service{
		client: &redisClientWrapper{client: client},
		logger: logger,
		prefix: prefix,
	}
}

// buildKey creates a prefixed key
func (s *Service) buildKey(key string) string {
	return s.prefix + key
}

// Increment atomically increments a counter, setting the TTL alongside
func (s *Service) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := s.client.increment(ctx, s.buildKey(key), ttl)
	if err != nil {
		s.logger.Warn("Counter increment failed", "key", key, "error", err)
		return 0, err
	}
	return count, nil
}

// SetWithTTL stores a value with expiration
func (s *Service) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	if err := s.client.set(ctx, s.buildKey(key), data, ttl); err != nil {
		s.logger.Warn("Cache set failed", "key", key, "error", err)
		return err
	}
	return nil
}

// Get retrieves a value, returning ErrCacheMiss when absent or expired
func (s *Service) Get(ctx context.Context, key string, dest any) error {
	val, err := s.client.get(ctx, s.buildKey(key))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return ErrCacheMiss
		}
		s.logger.Warn("Cache get failed", "key", key, "error", err)
		return err
	}

	if err := json.Unmarshal(val, dest); err != nil {
		s.logger.Warn("Cache unmarshal failed", "key", key, "error", err)
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

// TTL returns the remaining lifetime of a key. Zero means the key is absent
// or carries no expiry.
func (s *Service) TTL(ctx context.Context, key string) (time.Duration, error) {
	remaining, err := s.client.ttl(ctx, s.buildKey(key))
	if err != nil {
		s.logger.Warn("Cache TTL lookup failed", "key", key, "error", err)
		return 0, err
	}
	return remaining, nil
}

// Exists checks if a key is present
func (s *Service) Exists(ctx context.Context, key string) (bool, error) {
	present, err := s.client.exists(ctx, s.buildKey(key))
	if err != nil {
		s.logger.Warn("Cache exists check failed", "key", key, "error", err)
		return false, err
	}
	return present, nil
}

// Delete removes a key
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.client.del(ctx, s.buildKey(key)); err != nil {
		s.logger.Warn("Cache delete failed", "key", key, "error", err)
		return err
	}
	return nil
}

// Ping checks counter store health
func (s *Service) Ping(ctx context.Context) error {
	return s.client.ping(ctx)
}

// Close releases the underlying client
func (s *Service) Close() error {
	if wrapper, ok := s.client.(*redisClientWrapper); ok {
		return wrapper.close()
	}
	return nil
}

// redisClientWrapper wraps redis.Client to implement our interface
type redisClientWrapper struct {
	client *redis.Client
}

func (r *redisClientWrapper) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisClientWrapper) get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return []byte(val), nil
}

func (r *redisClientWrapper) del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *redisClientWrapper) exists(ctx context.Context, key string) (bool, error) {
	result, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

func (r *redisClientWrapper) increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipeline := r.client.Pipeline()
	incrCmd := pipeline.Incr(ctx, key)
	pipeline.ExpireNX(ctx, key, ttl)

	if _, err := pipeline.Exec(ctx); err != nil {
		return 0, err
	}

	return incrCmd.Val(), nil
}

func (r *redisClientWrapper) ttl(ctx context.Context, key string) (time.Duration, error) {
	remaining, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// -2 means no key, -1 means no expiry; both report as zero remaining
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

func (r *redisClientWrapper) ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisClientWrapper) close() error {
	return r.client.Close()
}

// noOpClient backs the store when redis is disabled
type noOpClient struct{}

func (n *noOpClient) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (n *noOpClient) get(ctx context.Context, key string) ([]byte, error) {
	return nil, ErrCacheMiss
}

func (n *noOpClient) del(ctx context.Context, key string) error {
	return nil
}

func (n *noOpClient) exists(ctx context.Context, key string) (bool, error) {
	return false, nil
}

func (n *noOpClient) increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, nil
}

func (n *noOpClient) ttl(ctx context.Context, key string) (time.Duration, error) {
	return 0, nil
}

func (n *noOpClient) ping(ctx context.Context) error {
	return nil
}
