package app

import (
	"Go_Drop/config"
	"Go_Drop/internal/metrics"
	"Go_Drop/internal/mq"
	"Go_Drop/internal/storage"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	return config.Config{
		DBDriver:    "sqlite",
		DBPath:      filepath.Join(t.TempDir(), "app.db"),
		BlobBackend: "memory",
	}
}

func TestOpenWithEmbeddedBackends(t *testing.T) {
	deps, err := Open(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer deps.Close()

	require.NotNil(t, deps.Records)
	require.IsType(t, &storage.MemoryStore{}, deps.Blobs)
	require.Equal(t, mq.Noop{}, deps.Events)
	require.Nil(t, deps.Rabbit)
	require.Nil(t, deps.Lock)

	s, err := StartScheduler(context.Background(), testConfig(t), deps, metrics.Noop{})
	require.NoError(t, err)
	s.Stop()
}

func TestOpenBlobStoreUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.BlobBackend = "tape"
	_, err := OpenBlobStore(context.Background(), cfg)
	require.Error(t, err)
}

func TestOpenUnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBDriver = "oracle"
	_, err := Open(context.Background(), cfg)
	require.Error(t, err)
}
