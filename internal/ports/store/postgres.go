package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const schema = `CREATE TABLE IF NOT EXISTS agent_kv (
    key        TEXT PRIMARY KEY,
    value      BYTEA NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore is the Store implementation for a PostgreSQL database. It
// lets agents on different hosts (or a device and its companion worker)
// share one dedup lock and one daily marker.
type PostgresStore struct {
	DB *sql.DB
}

// NewPostgresStore ensures the table exists and returns the store.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create agent_kv table: %w", err)
	}
	return &PostgresStore{DB: db}, nil
}

func (s *PostgresStore) Close() error {
	return s.DB.Close()
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("app.store_key", key))

	var value []byte
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM agent_kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, value []byte) error {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("app.store_key", key))

	query := `INSERT INTO agent_kv (key, value, updated_at) VALUES ($1, $2, now())
              ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	_, err := s.DB.ExecContext(ctx, query, key, value)
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM agent_kv WHERE key = $1`, key)
	return err
}

// Update serializes writers of the same key with a transaction-scoped
// advisory lock, which also covers the case where the row does not exist yet.
func (s *PostgresStore) Update(ctx context.Context, key string, fn Mutator) (bool, error) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("app.store_key", key))

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return false, fmt.Errorf("failed to take advisory lock: %w", err)
	}

	var current []byte
	exists := true
	err = tx.QueryRowContext(ctx, `SELECT value FROM agent_kv WHERE key = $1`, key).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return false, err
	}

	next, m, err := fn(current, exists)
	if err != nil {
		return false, err
	}

	changed := false
	switch m {
	case Write:
		query := `INSERT INTO agent_kv (key, value, updated_at) VALUES ($1, $2, now())
                  ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
		if _, err := tx.ExecContext(ctx, query, key, next); err != nil {
			return false, err
		}
		changed = true
	case Remove:
		if exists {
			if _, err := tx.ExecContext(ctx, `DELETE FROM agent_kv WHERE key = $1`, key); err != nil {
				return false, err
			}
			changed = true
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return changed, nil
}
