// Package backup runs the node backup operations: snapshot, manifest and
// differential upload, and the archived commit log upload.
package backup

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/lock"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/management"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/manifest"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/progress"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/request"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/snapshot"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/storage"
)

// Deps are the collaborators of a backup.
type Deps struct {
	Management management.Service
	Open       storage.OpenFunc
	// Sink receives upload progress; may be nil.
	Sink progress.Sink
}

// Result summarizes a finished upload.
type Result struct {
	Entries int
	Bytes   int64
	storage.Stats
}

// Run backs up the node: lock, snapshot, manifest, upload. The snapshot is
// cleared and the lock released on every path.
func Run(ctx context.Context, req request.Backup, deps Deps) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	release, err := lock.Acquire(ctx, req.LockFile, req.WaitForLock)
	if err != nil {
		return Result{}, err
	}
	defer release()

	staging, err := manifest.NewStaging(req.SharedContainerPath)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = staging.Cleanup() }()

	// An offline backup ships a snapshot taken before the node stopped, so
	// there is nothing to take or clear and no ring to ask for tokens.
	var tokens []string
	if !req.OfflineSnapshot {
		coord := snapshot.New(deps.Management)
		defer coord.Clear(ctx)
		if _, err := coord.Take(ctx, req.Keyspaces, req.SnapshotTag, req.Table); err != nil {
			return Result{}, fmt.Errorf("take snapshot: %w", err)
		}
		if tokens, err = deps.Management.RingTokens(ctx); err != nil {
			return Result{}, fmt.Errorf("read ring tokens: %w", err)
		}
	}

	b := manifest.Builder{DataDir: filepath.Join(req.CassandraDir, "data"), Staging: staging}
	m, err := b.Build(manifest.Options{
		Tag:       req.SnapshotTag,
		Keyspaces: req.Keyspaces,
		Tokens:    tokens,
	})
	if err != nil {
		return Result{}, err
	}
	if m.Len() == 0 {
		return Result{}, nil
	}

	stats, err := upload(ctx, req.Common, deps, m)
	if err != nil {
		return Result{}, err
	}
	return Result{Entries: m.Len(), Bytes: m.TotalSize(), Stats: stats}, nil
}

// RunCommitLogs uploads the archived commit logs under stable keys, so files
// already sent are only freshened.
func RunCommitLogs(ctx context.Context, req request.CommitLogBackup, deps Deps) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	release, err := lock.Acquire(ctx, req.LockFile, req.WaitForLock)
	if err != nil {
		return Result{}, err
	}
	defer release()

	dir := req.ArchiveDir
	if dir == "" {
		dir = filepath.Join(req.CassandraDir, "commitlog_archive")
	}
	m, err := manifest.BuildCommitLogs(dir)
	if err != nil {
		return Result{}, err
	}
	if m.Len() == 0 {
		log.Info().Str("action", "commitlog_backup").Str("dir", dir).Msg("no archived commit logs")
		return Result{}, nil
	}
	stats, err := upload(ctx, req.Common, deps, m)
	if err != nil {
		return Result{}, err
	}
	return Result{Entries: m.Len(), Bytes: m.TotalSize(), Stats: stats}, nil
}

func upload(ctx context.Context, c request.Common, deps Deps, m *manifest.Manifest) (storage.Stats, error) {
	gw, err := deps.Open(ctx, c.Location, c.Concurrency)
	if err != nil {
		return storage.Stats{}, err
	}
	defer func() {
		if cerr := gw.Close(); cerr != nil {
			log.Warn().Err(cerr).Str("action", "storage_close").Msg("failed to close storage gateway")
		}
	}()

	if err := gw.CreateIfMissing(ctx, c.Location.Bucket); err != nil {
		return storage.Stats{}, err
	}
	return gw.UploadOrFreshenFiles(ctx, m, progress.NewTracker(m.Len(), deps.Sink))
}
