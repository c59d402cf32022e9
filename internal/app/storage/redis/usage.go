// Package redis implements the daily-usage counter on Redis. Counters are
// keyed by wallet and day and expire on their own, so stale days never need
// sweeping.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/noospace-net/noospace/internal/app/storage"
)

// counterTTL keeps a day's counter long enough to cover timezone drift and
// then lets Redis reclaim it.
const counterTTL = 48 * time.Hour

// UsageStore counts posts per wallet per day in Redis.
type UsageStore struct {
	client *redis.Client
}

var _ storage.UsageStore = (*UsageStore)(nil)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*UsageStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &UsageStore{client: client}, nil
}

// NewWithClient wraps an existing client, for tests.
func NewWithClient(client *redis.Client) *UsageStore {
	return &UsageStore{client: client}
}

// Close releases the connection pool.
func (s *UsageStore) Close() error { return s.client.Close() }

func key(wallet, day string) string {
	return "noo:used:" + wallet + ":" + day
}

func (s *UsageStore) Used(ctx context.Context, wallet, day string) (int, error) {
	count, err := s.client.Get(ctx, key(wallet, day)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read usage counter: %w", err)
	}
	return count, nil
}

func (s *UsageStore) IncrementUsage(ctx context.Context, wallet, day string) (int, error) {
	k := key(wallet, day)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment usage counter: %w", err)
	}
	return int(incr.Val()), nil
}

func (s *UsageStore) DecrementUsage(ctx context.Context, wallet, day string) (int, error) {
	k := key(wallet, day)
	count, err := s.client.Decr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("decrement usage counter: %w", err)
	}
	if count < 0 {
		// The counter had expired or was never set; floor it back at zero.
		if err := s.client.Set(ctx, k, 0, counterTTL).Err(); err != nil {
			return 0, fmt.Errorf("floor usage counter: %w", err)
		}
		return 0, nil
	}
	return int(count), nil
}

// ResetUsage clears every counter for the wallet, regardless of day.
func (s *UsageStore) ResetUsage(ctx context.Context, wallet string) error {
	var cursor uint64
	pattern := "noo:used:" + wallet + ":*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scan usage counters: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete usage counters: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
