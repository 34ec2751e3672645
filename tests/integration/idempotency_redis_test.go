//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vetclinic/backend/internal/domain/shared"
	"github.com/vetclinic/backend/internal/infrastructure/cache"
)

func startRedis(t *testing.T) cache.RedisConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start Redis container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return cache.RedisConfig{Host: host, Port: port.Int()}
}

func TestRedisIdempotencyStore(t *testing.T) {
	store, err := cache.NewRedisIdempotencyStore(startRedis(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	ok, err := store.Reserve(ctx, "payment-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Reserve(ctx, "payment-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second reservation must lose")

	_, err = store.Lookup(ctx, "payment-1")
	assert.ErrorIs(t, err, shared.ErrIdempotencyKeyInFlight)

	stored := shared.StoredResponse{StatusCode: 201, ContentType: "application/json", Body: []byte(`{"success":true}`)}
	require.NoError(t, store.Complete(ctx, "payment-1", stored, time.Minute))

	got, err := store.Lookup(ctx, "payment-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, stored, *got)

	require.NoError(t, store.Release(ctx, "payment-1"))
	got, err = store.Lookup(ctx, "payment-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisIdempotencyStore_Expiry(t *testing.T) {
	store, err := cache.NewRedisIdempotencyStore(startRedis(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	ok, err := store.Reserve(ctx, "sale-7", 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		ok, err := store.Reserve(ctx, "sale-7", time.Minute)
		return err == nil && ok
	}, 5*time.Second, 100*time.Millisecond)
}
