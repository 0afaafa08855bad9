package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/errdefs"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/location"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/lock"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/retry"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/cassandra", cfg.CassandraDir)
	assert.Equal(t, lock.DefaultPath, cfg.LockFile)
	assert.True(t, cfg.WaitForLock)
	assert.Equal(t, 10, cfg.Concurrency)
	assert.Equal(t, "env", cfg.SecretStore)
	assert.Equal(t, location.StorageLocation{}, cfg.Location)
	assert.Equal(t, retry.Default.MaxAttempts, cfg.RetryOptions().MaxAttempts)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORAGE_LOCATION", "s3://bucket/cluster/dc1/node-0")
	t.Setenv("KEYSPACES", "ks1, ks2,")
	t.Setenv("CONCURRENT_CONNECTIONS", "4")
	t.Setenv("WAIT_FOR_LOCK", "no")
	t.Setenv("COMMITLOG_SINCE", "2024-01-02T03:04:05Z")
	t.Setenv("RETRY_INITIAL_DELAY", "50ms")
	t.Setenv("MINIO_USE_SSL", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, location.StorageLocation{
		Provider: "s3", Bucket: "bucket", ClusterID: "cluster", DatacenterID: "dc1", NodeID: "node-0",
	}, cfg.Location)
	assert.Equal(t, []string{"ks1", "ks2"}, cfg.Keyspaces)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.False(t, cfg.WaitForLock)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), cfg.CommitLogSince)
	assert.Equal(t, 50*time.Millisecond, cfg.RetryOptions().InitialDelay)
	assert.False(t, cfg.Minio.UseSSL)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"table without keyspace": {"TABLE": "tbl"},
		"zero concurrency":       {"CONCURRENT_CONNECTIONS": "0"},
		"bad since":              {"COMMITLOG_SINCE": "yesterday"},
		"until before since":     {"COMMITLOG_SINCE": "2024-01-02T00:00:00Z", "COMMITLOG_UNTIL": "2024-01-01T00:00:00Z"},
		"bad secret store":       {"SECRET_STORE": "vault"},
		"bad location":           {"STORAGE_LOCATION": "azure://bucket/only-cluster"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.ErrorIs(t, err, errdefs.ErrConfiguration)
		})
	}
}
