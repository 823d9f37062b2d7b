package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/invest/internal/config"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite driver
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLStore keeps keys in the kv_store table of a SQLite or PostgreSQL database.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore connects, tunes and migrates the database named by cfg.
func NewSQLStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*SQLStore, error) {
	driver, dialect := "postgres", "postgres"
	if cfg.Driver == "sqlite" {
		driver, dialect = "sqlite3", "sqlite3"
	}

	logger.Info("connecting to store", "driver", cfg.Driver)
	db, err := sqlx.ConnectContext(ctx, driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store.NewSQLStore: connect: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// one writer; also keeps ":memory:" databases on a single connection
		db.SetMaxOpenConns(1)
		if err = optimizeSQLite(ctx, db, logger); err != nil {
			db.Close()
			return nil, err
		}
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err = runMigrations(db.DB, dialect); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("store migrations applied", "driver", cfg.Driver)

	return &SQLStore{db: db}, nil
}

func runMigrations(db *sql.DB, dialect string) error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("store.runMigrations: dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("store.runMigrations: up: %w", err)
	}
	return nil
}

func optimizeSQLite(ctx context.Context, db *sqlx.DB, logger *slog.Logger) error {
	pragmas := []struct {
		name  string
		value string
	}{
		{"journal_mode", "WAL"},
		{"synchronous", "NORMAL"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "ON"},
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("store.optimizeSQLite: PRAGMA %s: %w", p.name, err)
		}
		logger.Debug("sqlite pragma set", "pragma", p.name, "value", p.value)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, s.db.Rebind(`SELECT value FROM kv_store WHERE name = ?`), key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("sql_store.Get %q: %w", key, err)
	}
	return value, true, nil
}

// Apply runs the whole batch in one transaction.
func (s *SQLStore) Apply(ctx context.Context, b Batch) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sql_store.Apply: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	upsert := tx.Rebind(`
		INSERT INTO kv_store (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	remove := tx.Rebind(`DELETE FROM kv_store WHERE name = ?`)
	now := time.Now().UnixMilli()

	for _, m := range b {
		if m.Delete {
			_, err = tx.ExecContext(ctx, remove, m.Key)
		} else {
			_, err = tx.ExecContext(ctx, upsert, m.Key, m.Value, now)
		}
		if err != nil {
			return fmt.Errorf("sql_store.Apply %q: %w", m.Key, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sql_store.Apply: commit: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
