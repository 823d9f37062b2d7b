package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/evetabi/invest/internal/config"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each key as a plain Redis string under a common prefix.
// Batches run inside MULTI/EXEC.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore dials Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("store.NewRedisStore: ping %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("redis store connected", "addr", cfg.RedisAddr, "db", cfg.RedisDB, "prefix", cfg.RedisPrefix)
	return NewRedisStoreFromClient(rdb, cfg.RedisPrefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis_store.Get %q: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) Apply(ctx context.Context, b Batch) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range b {
			if m.Delete {
				pipe.Del(ctx, s.key(m.Key))
				continue
			}
			pipe.Set(ctx, s.key(m.Key), m.Value, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis_store.Apply: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
