package request

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/config"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/errdefs"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/location"
)

func validCommon() Common {
	return Common{
		Location:     location.StorageLocation{Provider: "memory", Bucket: "b", ClusterID: "c", DatacenterID: "dc", NodeID: "n"},
		LockFile:     "/tmp/lock",
		Concurrency:  4,
		CassandraDir: "/var/lib/cassandra",
	}
}

func TestValidate(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name    string
		req     interface{ Validate() error }
		wantErr bool
	}{
		{"backup ok", Backup{Common: validCommon(), SnapshotTag: "t"}, false},
		{"backup without tag", Backup{Common: validCommon()}, true},
		{"backup table one keyspace", Backup{Common: validCommon(), SnapshotTag: "t", Keyspaces: []string{"ks"}, Table: "tbl"}, false},
		{"backup table two keyspaces", Backup{Common: validCommon(), SnapshotTag: "t", Keyspaces: []string{"a", "b"}, Table: "tbl"}, true},
		{"backup bad location", Backup{Common: Common{LockFile: "l", Concurrency: 1, CassandraDir: "d"}, SnapshotTag: "t"}, true},
		{"backup zero concurrency", Backup{Common: func() Common { c := validCommon(); c.Concurrency = 0; return c }(), SnapshotTag: "t"}, true},
		{"restore ok", Restore{Common: validCommon(), SnapshotTag: "t"}, false},
		{"restore yaml without config dir", Restore{Common: validCommon(), SnapshotTag: "t", UpdateCassandraYaml: true}, true},
		{"commitlog backup ok", CommitLogBackup{Common: validCommon()}, false},
		{"commitlog restore ok", CommitLogRestore{Common: validCommon(), DownloadDir: "/d"}, false},
		{"commitlog restore no dir", CommitLogRestore{Common: validCommon()}, true},
		{"commitlog restore inverted window", CommitLogRestore{Common: validCommon(), DownloadDir: "/d", Since: now, Until: now.Add(-time.Hour)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if !tc.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, errdefs.ErrConfiguration), "got %v", err)
		})
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Config{
		Location:            validCommon().Location,
		CassandraDir:        "/cass",
		CassandraConfigDir:  "/etc/cass",
		SharedContainerPath: "/shared",
		SnapshotTag:         "nightly",
		Keyspaces:           []string{"ks"},
		Table:               "tbl",
		LockFile:            "/tmp/l",
		WaitForLock:         true,
		Concurrency:         3,
		CommitLogArchiveDir: "/archive",
		UpdateCassandraYaml: true,
	}

	b := BackupFromConfig(cfg)
	assert.Equal(t, "nightly", b.SnapshotTag)
	assert.Equal(t, 3, b.Concurrency)
	assert.Equal(t, "/shared", b.SharedContainerPath)
	require.NoError(t, b.Validate())

	r := RestoreFromConfig(cfg)
	assert.True(t, r.UpdateCassandraYaml)
	assert.Equal(t, "/etc/cass", r.CassandraConfigDir)
	require.NoError(t, r.Validate())

	assert.Equal(t, "/archive", CommitLogBackupFromConfig(cfg).ArchiveDir)
}
