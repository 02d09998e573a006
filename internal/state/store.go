// SPDX-License-Identifier: MIT

// Package state wraps the Redis-backed State Store: the sole coordination
// substrate for cross-process invariants (livestream slot, quotas, leases)
// and the pub/sub transport under the event bus.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Store is a thin, typed facade over a Redis client.
type Store struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

// New connects to the State Store at the given URL (redis://host:port/db).
func New(url string, logger zerolog.Logger) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("state: parse url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("state: connect: %w", err)
	}

	logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("connected to state store")
	return &Store{rdb: client, logger: logger}, nil
}

// NewFromClient wraps an existing client. Used by tests with miniredis.
func NewFromClient(client *redis.Client, logger zerolog.Logger) *Store {
	return &Store{rdb: client, logger: logger}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.rdb.Close() }

// Ping checks availability.
func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

// Get returns the string value for key, reporting existence separately.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// GetInt returns the integer value for key, or 0 if absent.
func (s *Store) GetInt(ctx context.Context, key string) (int64, error) {
	val, err := s.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return val, err
}

// Set stores a value. A zero ttl means no expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

// SetNX stores a value only if the key is absent. This is the atomic
// primitive under slot reservation and the per-session ledger guard.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, value, ttl).Result()
}

// Del removes keys.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	return s.rdb.Del(ctx, keys...).Err()
}

// Expire sets a ttl on an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.rdb.Expire(ctx, key, ttl).Err()
}

// IncrBy adds delta to an integer counter and returns the new value.
func (s *Store) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return s.rdb.IncrBy(ctx, key, delta).Result()
}

// Publish sends payload to every current subscriber of channel. Missed
// publishes are lost by contract; there is no persistence.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a pub/sub subscription on the given channels. The caller
// owns the returned subscription and must Close it.
func (s *Store) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return s.rdb.Subscribe(ctx, channels...)
}

// LogPush prepends an entry to a bounded list, trimming to maxLen entries
// and refreshing the retention ttl. Used for webhook delivery history.
func (s *Store) LogPush(ctx context.Context, key, entry string, maxLen int64, ttl time.Duration) error {
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, key, entry)
	pipe.LTrim(ctx, key, 0, maxLen-1)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// LogRange returns up to n entries of a bounded list, newest first.
func (s *Store) LogRange(ctx context.Context, key string, n int64) ([]string, error) {
	return s.rdb.LRange(ctx, key, 0, n-1).Result()
}
