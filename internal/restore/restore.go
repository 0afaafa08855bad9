// Package restore brings a node's data back from a tagged backup and
// replays archived commit logs into a download directory.
package restore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/errdefs"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/lock"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/manifest"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/progress"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/request"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/storage"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/util"
)

// TokenSink receives the ring tokens of a restored node.
type TokenSink interface {
	ApplyTokens(ctx context.Context, tokens []string) error
}

// Deps are the collaborators of a restore.
type Deps struct {
	Open storage.OpenFunc
	// Tokens is required when the request updates cassandra.yaml.
	Tokens TokenSink
	Sink   progress.Sink
}

// Result summarizes a finished restore.
type Result struct {
	Files int
	Bytes int64
}

// Run lists the node root and downloads the data files listed in the tag's
// manifest into <CassandraDir>/<key>. Every selected manifest entry must
// exist remotely.
func Run(ctx context.Context, req request.Restore, deps Deps) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	if req.UpdateCassandraYaml && deps.Tokens == nil {
		return Result{}, errdefs.Configurationf("updating cassandra.yaml needs a token sink")
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

	gw, err := deps.Open(ctx, req.Location, req.Concurrency)
	if err != nil {
		return Result{}, err
	}
	defer closeGateway(gw)

	start := time.Now()
	lines, err := fetchManifest(ctx, gw, staging, req.SnapshotTag)
	if err != nil {
		return Result{}, err
	}
	wanted := map[string]int64{}
	for _, l := range lines {
		if selected(l.ObjectKey, req.Keyspaces, req.Table) {
			wanted[l.ObjectKey] = l.Size
		}
	}

	var downloads []storage.Download
	err = gw.ConsumeFiles(ctx, gw.RootReference(), func(ref storage.RemoteObjectReference) error {
		if _, ok := wanted[ref.LocalRelativeKey]; !ok {
			return nil
		}
		downloads = append(downloads, storage.Download{
			Ref:       ref,
			LocalPath: filepath.Join(req.CassandraDir, filepath.FromSlash(ref.LocalRelativeKey)),
		})
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if missing := missingKeys(wanted, downloads); len(missing) > 0 {
		return Result{}, errdefs.Storage("restore", missing[0],
			fmt.Errorf("%d manifest entries of %q are missing remotely", len(missing), req.SnapshotTag))
	}

	if err := gw.DownloadFiles(ctx, downloads, progress.NewTracker(len(downloads), deps.Sink)); err != nil {
		return Result{}, err
	}
	res := Result{Files: len(downloads)}
	for _, d := range downloads {
		want := wanted[d.Ref.LocalRelativeKey]
		ok, err := util.Matches(d.LocalPath, util.Digest{Size: want})
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{}, errdefs.Storage("restore", d.Ref.LocalRelativeKey,
				fmt.Errorf("downloaded size differs from manifest size %d", want))
		}
		res.Bytes += want
	}

	if req.UpdateCassandraYaml {
		tokens, err := fetchTokens(ctx, gw, staging, req.SnapshotTag)
		if err != nil {
			return Result{}, err
		}
		if err := deps.Tokens.ApplyTokens(ctx, tokens); err != nil {
			return Result{}, fmt.Errorf("apply tokens: %w", err)
		}
	}

	log.Info().
		Str("action", "restore").
		Str("tag", req.SnapshotTag).
		Int("files", res.Files).
		Int64("bytes", res.Bytes).
		Dur("elapsed_ms", time.Since(start)).
		Msg("restore OK")
	return res, nil
}

// RunCommitLogs downloads the archived commit logs whose archive time lies in
// [Since, Until]. A segment archived several times is fetched once, at its
// latest archive time.
func RunCommitLogs(ctx context.Context, req request.CommitLogRestore, deps Deps) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	release, err := lock.Acquire(ctx, req.LockFile, req.WaitForLock)
	if err != nil {
		return Result{}, err
	}
	defer release()

	gw, err := deps.Open(ctx, req.Location, req.Concurrency)
	if err != nil {
		return Result{}, err
	}
	defer closeGateway(gw)

	start := time.Now()
	prefix, err := gw.ObjectKeyToRemoteReference(manifest.CommitLogDir)
	if err != nil {
		return Result{}, err
	}
	type segment struct {
		at  time.Time
		ref storage.RemoteObjectReference
	}
	latest := map[string]segment{}
	err = gw.ConsumeFiles(ctx, prefix, func(ref storage.RemoteObjectReference) error {
		at, name, ok := manifest.SplitCommitLogKey(ref.LocalRelativeKey)
		if !ok {
			log.Warn().Str("action", "commitlog_restore").Str("key", ref.LocalRelativeKey).Msg("skipping unexpected key")
			return nil
		}
		if !req.Since.IsZero() && at.Before(req.Since) {
			return nil
		}
		if !req.Until.IsZero() && at.After(req.Until) {
			return nil
		}
		if cur, ok := latest[name]; !ok || at.After(cur.at) {
			latest[name] = segment{at: at, ref: ref}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	names := make([]string, 0, len(latest))
	for name := range latest {
		names = append(names, name)
	}
	slices.Sort(names)
	downloads := make([]storage.Download, 0, len(names))
	for _, name := range names {
		downloads = append(downloads, storage.Download{Ref: latest[name].ref, LocalPath: filepath.Join(req.DownloadDir, name)})
	}
	if err := gw.DownloadFiles(ctx, downloads, progress.NewTracker(len(downloads), deps.Sink)); err != nil {
		return Result{}, err
	}

	res := Result{Files: len(downloads)}
	for _, d := range downloads {
		size, err := fileSize(d.LocalPath)
		if err != nil {
			return Result{}, err
		}
		res.Bytes += size
	}
	log.Info().
		Str("action", "commitlog_restore").
		Str("dir", req.DownloadDir).
		Int("files", res.Files).
		Dur("elapsed_ms", time.Since(start)).
		Msg("commit log restore OK")
	return res, nil
}

func fetchManifest(ctx context.Context, gw *storage.Gateway, staging *manifest.Staging, tag string) ([]manifest.Line, error) {
	key := manifest.ManifestKey(tag)
	f, err := fetch(ctx, gw, staging, key)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest of %q: %w", tag, err)
	}
	defer func() { _ = f.Close() }()
	return manifest.ParseManifestFile(f)
}

func fetchTokens(ctx context.Context, gw *storage.Gateway, staging *manifest.Staging, tag string) ([]string, error) {
	f, err := fetch(ctx, gw, staging, manifest.TokensKey(tag))
	if err != nil {
		return nil, fmt.Errorf("fetch tokens of %q: %w", tag, err)
	}
	defer func() { _ = f.Close() }()
	return manifest.ParseTokenFile(f)
}

func fetch(ctx context.Context, gw *storage.Gateway, staging *manifest.Staging, key string) (*os.File, error) {
	ref, err := gw.ObjectKeyToRemoteReference(key)
	if err != nil {
		return nil, err
	}
	p, err := staging.Reserve(key)
	if err != nil {
		return nil, err
	}
	if err := gw.DownloadFile(ctx, p, ref); err != nil {
		return nil, err
	}
	return os.Open(p)
}

// selected applies the keyspace/table filter to a data key. Token and
// manifest entries are never restored as data.
func selected(key string, keyspaces []string, table string) bool {
	ks, tbl, _, ok := manifest.SplitDataKey(key)
	if !ok {
		return false
	}
	if len(keyspaces) > 0 && !slices.Contains(keyspaces, ks) {
		return false
	}
	return table == "" || tbl == table || manifest.TableName(tbl) == table
}

func missingKeys(wanted map[string]int64, downloads []storage.Download) []string {
	found := make(map[string]bool, len(downloads))
	for _, d := range downloads {
		found[d.Ref.LocalRelativeKey] = true
	}
	var out []string
	for k := range wanted {
		if !found[k] {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

func fileSize(p string) (int64, error) {
	fi, err := os.Stat(p)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func closeGateway(gw *storage.Gateway) {
	if err := gw.Close(); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Str("action", "storage_close").Msg("failed to close storage gateway")
	}
}
