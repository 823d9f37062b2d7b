// Package store defines the string key-value persistence used by the invest
// engine. Implementations include in-memory (tests, local runs), SQLite and
// PostgreSQL (through sqlx), and Redis.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/evetabi/invest/internal/config"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Store is a string-keyed, string-valued store that survives restarts.
type Store interface {
	// Get returns the value for key; ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Apply writes every mutation in b atomically: after a crash either all
	// of them are visible or none are.
	Apply(ctx context.Context, b Batch) error

	// Close releases the underlying connection.
	Close() error
}

// Mutation is one write in a Batch.
type Mutation struct {
	Key    string
	Value  string
	Delete bool
}

// Batch is an ordered list of mutations applied together.
type Batch []Mutation

// Set appends a put.
func (b *Batch) Set(key, value string) {
	*b = append(*b, Mutation{Key: key, Value: value})
}

// Delete appends a removal.
func (b *Batch) Delete(key string) {
	*b = append(*b, Mutation{Key: key, Delete: true})
}

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("using in-memory store; state will not survive restarts")
		return NewMemoryStore(), nil
	case "sqlite", "postgres":
		return NewSQLStore(ctx, cfg, logger)
	case "redis":
		return NewRedisStore(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("store.Open: unknown driver %q", cfg.Driver)
	}
}
