//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/wolfeidau/caseguard/internal/store"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) string {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
}

func TestIntegration_Store(t *testing.T) {
	ctx := context.Background()
	connString := setupPostgresContainer(t, ctx)

	s, err := Open(ctx, &PoolConfig{ConnString: connString}, "alice")
	require.NoError(t, err)
	defer s.Close()

	t.Run("migrations are idempotent", func(t *testing.T) {
		require.NoError(t, Migrate(ctx, s.pool))
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get(ctx, store.KeyLastActivity)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("set overwrites", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, store.KeyLastActivity, "1000"))
		require.NoError(t, s.Set(ctx, store.KeyLastActivity, "2000"))

		value, err := s.Get(ctx, store.KeyLastActivity)
		require.NoError(t, err)
		assert.Equal(t, "2000", value)
	})

	t.Run("namespaces are isolated", func(t *testing.T) {
		bob := NewStore(s.pool, "bob")
		_, err := bob.Get(ctx, store.KeyLastActivity)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, store.KeySessionStart, "1000"))
		require.NoError(t, s.Delete(ctx, store.KeyLastActivity, store.KeySessionStart, "absent"))

		_, err := s.Get(ctx, store.KeySessionStart)
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}
