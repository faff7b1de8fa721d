package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/caseguard/internal/store"
)

// DefaultNamespace scopes rows when no namespace is configured.
const DefaultNamespace = "default"

var _ store.Store = (*Store)(nil)

// Store implements store.Store using a PostgreSQL table keyed by
// (namespace, key). Each Set is a single-row upsert.
type Store struct {
	pool      *pgxpool.Pool
	namespace string
}

// NewStore creates a new PostgreSQL-backed store on an existing pool.
func NewStore(pool *pgxpool.Pool, namespace string) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Store{
		pool:      pool,
		namespace: namespace,
	}
}

// Open creates a pool, runs migrations and returns a store using it.
func Open(ctx context.Context, cfg *PoolConfig, namespace string) (*Store, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return NewStore(pool, namespace), nil
}

// Get retrieves the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM kv_state WHERE namespace = $1 AND key = $2`,
		s.namespace, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("failed to get %s: %w", key, mapPostgresError(err))
	}

	return value, nil
}

// Set upserts value under key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_state (namespace, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (namespace, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, s.namespace, key, value)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, mapPostgresError(err))
	}

	return nil
}

// Delete removes keys in one statement.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	result, err := s.pool.Exec(ctx,
		`DELETE FROM kv_state WHERE namespace = $1 AND key = ANY($2)`,
		s.namespace, keys,
	)
	if err != nil {
		return fmt.Errorf("failed to delete keys: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("namespace", s.namespace).
		Int64("deleted", result.RowsAffected()).
		Msg("deleted state keys")

	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
