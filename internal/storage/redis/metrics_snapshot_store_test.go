package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/storage"
)

// setupTestRedis starts a Redis container and returns a connected store.
func setupTestRedis(t *testing.T) (*MetricsSnapshotStore, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := NewClient(ctx, fmt.Sprintf("%s:%s", host, port.Port()), "", 0)
	require.NoError(t, err)

	cleanup := func() {
		client.Close()
		_ = container.Terminate(ctx)
	}
	return NewMetricsSnapshotStore(client, "test"), cleanup
}

func TestMetricsSnapshotStore_SaveLoad(t *testing.T) {
	store, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()

	_, err := store.Load(ctx, "threat")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Save(ctx, "threat", domain.MetricsSnapshot{"accuracy": 0.9, "recall": 0.8}))
	require.NoError(t, store.Save(ctx, "threat", domain.MetricsSnapshot{"accuracy": 0.95}))
	require.NoError(t, store.Save(ctx, "anomaly", domain.MetricsSnapshot{}))

	got, err := store.Load(ctx, "threat")
	require.NoError(t, err)
	assert.Equal(t, domain.MetricsSnapshot{"accuracy": 0.95}, got)

	empty, err := store.Load(ctx, "anomaly")
	require.NoError(t, err)
	assert.Empty(t, empty)

	all, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assert.ErrorIs(t, store.Save(ctx, "", nil), storage.ErrInvalidInput)
}

func TestParseSnapshot_RejectsGarbage(t *testing.T) {
	_, err := parseSnapshot(map[string]string{"accuracy": "high"})
	assert.Error(t, err)

	snap, err := parseSnapshot(map[string]string{"accuracy": "0.5"})
	require.NoError(t, err)
	assert.Equal(t, 0.5, snap["accuracy"])
}
