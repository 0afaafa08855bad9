// Package request holds the immutable inputs of each operation.
package request

import (
	"time"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/config"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/errdefs"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/location"
)

// Common is shared by every request.
type Common struct {
	Location            location.StorageLocation
	LockFile            string
	WaitForLock         bool
	Concurrency         int
	SharedContainerPath string
	CassandraDir        string
}

func (c Common) validate() error {
	if err := c.Location.Validate(); err != nil {
		return err
	}
	if c.LockFile == "" {
		return errdefs.Configurationf("lock file is required")
	}
	if c.Concurrency <= 0 {
		return errdefs.Configurationf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.CassandraDir == "" {
		return errdefs.Configurationf("cassandra directory is required")
	}
	return nil
}

// Backup snapshots the node and uploads the result.
type Backup struct {
	Common
	SnapshotTag     string
	Keyspaces       []string
	Table           string
	OfflineSnapshot bool
}

func (r Backup) Validate() error {
	if err := r.Common.validate(); err != nil {
		return err
	}
	if r.SnapshotTag == "" {
		return errdefs.Configurationf("snapshot tag is required")
	}
	return validateTable(r.Keyspaces, r.Table)
}

// Restore downloads a tagged backup into the data directory.
type Restore struct {
	Common
	SnapshotTag         string
	Keyspaces           []string
	Table               string
	CassandraConfigDir  string
	UpdateCassandraYaml bool
}

func (r Restore) Validate() error {
	if err := r.Common.validate(); err != nil {
		return err
	}
	if r.SnapshotTag == "" {
		return errdefs.Configurationf("snapshot tag is required")
	}
	if r.UpdateCassandraYaml && r.CassandraConfigDir == "" {
		return errdefs.Configurationf("cassandra config directory is required to update cassandra.yaml")
	}
	return validateTable(r.Keyspaces, r.Table)
}

// CommitLogBackup uploads archived commit logs.
type CommitLogBackup struct {
	Common
	// ArchiveDir defaults to <CassandraDir>/commitlog_archive.
	ArchiveDir string
}

func (r CommitLogBackup) Validate() error { return r.Common.validate() }

// CommitLogRestore downloads commit logs archived within [Since, Until].
// A zero bound is open.
type CommitLogRestore struct {
	Common
	DownloadDir string
	Since       time.Time
	Until       time.Time
}

func (r CommitLogRestore) Validate() error {
	if err := r.Common.validate(); err != nil {
		return err
	}
	if r.DownloadDir == "" {
		return errdefs.Configurationf("commit log download directory is required")
	}
	if !r.Since.IsZero() && !r.Until.IsZero() && r.Until.Before(r.Since) {
		return errdefs.Configurationf("commit log window ends (%s) before it starts (%s)", r.Until, r.Since)
	}
	return nil
}

func validateTable(keyspaces []string, table string) error {
	if table != "" && len(keyspaces) != 1 {
		return errdefs.Configurationf("table %q requires exactly one keyspace, got %d", table, len(keyspaces))
	}
	return nil
}

// CommonFromConfig builds the shared part of a request.
func CommonFromConfig(cfg config.Config) Common {
	return Common{
		Location:            cfg.Location,
		LockFile:            cfg.LockFile,
		WaitForLock:         cfg.WaitForLock,
		Concurrency:         cfg.Concurrency,
		SharedContainerPath: cfg.SharedContainerPath,
		CassandraDir:        cfg.CassandraDir,
	}
}

func BackupFromConfig(cfg config.Config) Backup {
	return Backup{
		Common:          CommonFromConfig(cfg),
		SnapshotTag:     cfg.SnapshotTag,
		Keyspaces:       cfg.Keyspaces,
		Table:           cfg.Table,
		OfflineSnapshot: cfg.OfflineSnapshot,
	}
}

func RestoreFromConfig(cfg config.Config) Restore {
	return Restore{
		Common:              CommonFromConfig(cfg),
		SnapshotTag:         cfg.SnapshotTag,
		Keyspaces:           cfg.Keyspaces,
		Table:               cfg.Table,
		CassandraConfigDir:  cfg.CassandraConfigDir,
		UpdateCassandraYaml: cfg.UpdateCassandraYaml,
	}
}

func CommitLogBackupFromConfig(cfg config.Config) CommitLogBackup {
	return CommitLogBackup{Common: CommonFromConfig(cfg), ArchiveDir: cfg.CommitLogArchiveDir}
}

func CommitLogRestoreFromConfig(cfg config.Config) CommitLogRestore {
	return CommitLogRestore{
		Common:      CommonFromConfig(cfg),
		DownloadDir: cfg.CommitLogDownloadDir,
		Since:       cfg.CommitLogSince,
		Until:       cfg.CommitLogUntil,
	}
}
