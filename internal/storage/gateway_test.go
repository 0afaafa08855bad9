package storage_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/errdefs"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/location"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/manifest"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/progress"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/retry"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/storage"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/storage/memory"
)

var (
	testLoc = location.StorageLocation{
		Provider: "memory", Bucket: "bkt", ClusterID: "c1", DatacenterID: "dc1", NodeID: "n1",
	}
	fastRetry = retry.Options{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
)

func newGateway(p storage.Provider) *storage.Gateway {
	return storage.NewGateway(p, testLoc, storage.Options{Concurrency: 4, Retry: fastRetry})
}

func buildManifest(t *testing.T, n int) *manifest.Manifest {
	t.Helper()
	dir := t.TempDir()
	m := manifest.New()
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("nb-%d-big-Data.db", i)
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(strings.Repeat("x", 10+i)), 0o644))
		require.NoError(t, m.Add(manifest.Entry{
			ObjectKey: manifest.DataKey("ks", "tbl", name),
			LocalFile: p,
			Size:      int64(10 + i),
			Type:      manifest.DataFile,
		}))
	}
	return m
}

func TestUploadOrFreshenFiles_Idempotent(t *testing.T) {
	mem := memory.New("bkt")
	g := newGateway(mem)
	m := buildManifest(t, 20)

	tr := progress.NewTracker(m.Len(), nil)
	stats, err := g.UploadOrFreshenFiles(context.Background(), m, tr)
	require.NoError(t, err)
	assert.Equal(t, storage.Stats{Uploaded: 20}, stats)
	assert.Equal(t, int64(m.Len()), tr.Completed())

	tr = progress.NewTracker(m.Len(), nil)
	stats, err = g.UploadOrFreshenFiles(context.Background(), m, tr)
	require.NoError(t, err)
	assert.Equal(t, storage.Stats{Freshened: 20}, stats)
	assert.Equal(t, int64(m.Len()), tr.Completed())

	assert.Equal(t, int64(20), mem.Uploads())
	assert.Equal(t, int64(20), mem.Freshens())

	data, meta, ok := mem.Get("c1/dc1/n1/data/ks/tbl/nb-0-big-Data.db")
	require.True(t, ok)
	assert.Equal(t, "xxxxxxxxxx", string(data))
	assert.Len(t, meta[storage.MetadataSHA256], 64)
}

func TestUploadOrFreshenFiles_SizeMismatchReuploads(t *testing.T) {
	mem := memory.New("bkt")
	mem.Put("c1/dc1/n1/data/ks/tbl/nb-0-big-Data.db", []byte("stale"))
	g := newGateway(mem)

	stats, err := g.UploadOrFreshenFiles(context.Background(), buildManifest(t, 1), nil)
	require.NoError(t, err)
	assert.Equal(t, storage.Stats{Uploaded: 1}, stats)
}

func TestUploadOrFreshenFiles_FailureAfterRetries(t *testing.T) {
	mem := memory.New("bkt")
	var attempts atomic.Int32
	boom := errors.New("503 slow down")
	mem.FailOn = func(op, key string) error {
		if op == "upload" && strings.HasSuffix(key, "nb-3-big-Data.db") {
			attempts.Add(1)
			return boom
		}
		return nil
	}
	g := storage.NewGateway(mem, testLoc, storage.Options{Concurrency: 1, Retry: fastRetry})
	m := buildManifest(t, 10)

	tr := progress.NewTracker(m.Len(), nil)
	_, err := g.UploadOrFreshenFiles(context.Background(), m, tr)
	require.ErrorIs(t, err, errdefs.ErrStorage)
	require.ErrorIs(t, err, boom)
	var se *errdefs.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "upload", se.Op)
	assert.Equal(t, int32(fastRetry.MaxAttempts), attempts.Load())
	// Serial pool: nothing after the failing entry is scheduled.
	assert.Less(t, tr.Completed(), int64(m.Len()))
	assert.LessOrEqual(t, mem.Uploads(), int64(4))
}

func TestObjectKeyToRemoteReference(t *testing.T) {
	g := newGateway(memory.New("bkt"))

	ref, err := g.ObjectKeyToRemoteReference("data/ks/tbl/f")
	require.NoError(t, err)
	assert.Equal(t, "data/ks/tbl/f", ref.LocalRelativeKey)
	assert.Equal(t, "c1/dc1/n1/data/ks/tbl/f", ref.CanonicalPath)
	assert.Equal(t, "c1/dc1/n1/data/ks/tbl/f", ref.Handle)

	for _, bad := range []string{"", "/abs", "../x", `a\b`} {
		_, err := g.ObjectKeyToRemoteReference(bad)
		assert.ErrorIs(t, err, errdefs.ErrStorage, bad)
		assert.ErrorIs(t, err, errdefs.ErrResolution, bad)
	}
}

func TestConsumeFiles_VisitsEveryObject(t *testing.T) {
	mem := memory.New("bkt")
	const n = 25
	for i := 0; i < n; i++ {
		mem.Put(fmt.Sprintf("c1/dc1/n1/data/ks/tbl/f%02d", i), []byte("x"))
	}
	mem.Put("c1/dc1/n1/manifests/snap1", []byte("x"))
	mem.Put("c1/dc1/n2/data/ks/tbl/other-node", []byte("x"))
	g := newGateway(mem)

	prefix, err := g.ObjectKeyToRemoteReference("data")
	require.NoError(t, err)

	var keys []string
	err = g.ConsumeFiles(context.Background(), prefix, func(ref storage.RemoteObjectReference) error {
		again, err := g.ObjectKeyToRemoteReference(ref.LocalRelativeKey)
		require.NoError(t, err)
		assert.Equal(t, again.CanonicalPath, ref.CanonicalPath)
		keys = append(keys, ref.LocalRelativeKey)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, keys, n)
	assert.Equal(t, "data/ks/tbl/f00", keys[0])
}

func TestConsumeFiles_RootVisitsWholeNode(t *testing.T) {
	mem := memory.New("bkt")
	nodeKeys := []string{
		"data/ks/tbl/nb-1-big-Data.db",
		"data/ks/tbl/nb-1-big-Index.db",
		"data/ks2/tbl/nb-3-big-Data.db",
		"tokens/snap1-tokens.yaml",
		"manifests/snap1",
		"commitlog/1700000000123/CommitLog-7-1.log",
	}
	for _, k := range nodeKeys {
		mem.Put("c1/dc1/n1/"+k, []byte("x"))
	}
	mem.Put("c1/dc1/n2/data/ks/tbl/nb-1-big-Data.db", []byte("x"))
	mem.Put("c1/dc1/n10/manifests/snap1", []byte("x"))
	mem.Put("c1/dc2/n1/manifests/snap1", []byte("x"))
	g := newGateway(mem)

	root := g.RootReference()
	assert.Equal(t, "c1/dc1/n1", root.CanonicalPath)
	assert.Empty(t, root.LocalRelativeKey)

	var keys []string
	err := g.ConsumeFiles(context.Background(), root, func(ref storage.RemoteObjectReference) error {
		keys = append(keys, ref.LocalRelativeKey)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, nodeKeys, keys)
}

// foreignLister reports a path outside the node prefix.
type foreignLister struct {
	*memory.Provider
	visited int
}

func (f *foreignLister) List(_ context.Context, _ string, fn func(string) error) error {
	for _, p := range []string{"/bkt/c1/dc1/n1/data/a", "/elsewhere/c1/dc1/n1/data/b", "/bkt/c1/dc1/n1/data/c"} {
		if err := fn(p); err != nil {
			return err
		}
		f.visited++
	}
	return nil
}

func TestConsumeFiles_ResolutionFailureAborts(t *testing.T) {
	p := &foreignLister{Provider: memory.New("bkt")}
	g := newGateway(p)
	prefix, err := g.ObjectKeyToRemoteReference("data")
	require.NoError(t, err)

	calls := 0
	err = g.ConsumeFiles(context.Background(), prefix, func(storage.RemoteObjectReference) error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, errdefs.ErrResolution)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, p.visited)
}

func TestConsumeFiles_ListFailure(t *testing.T) {
	mem := memory.New("bkt")
	mem.FailOn = func(op, _ string) error {
		if op == "list" {
			return errors.New("denied")
		}
		return nil
	}
	g := newGateway(mem)
	prefix, err := g.ObjectKeyToRemoteReference("data")
	require.NoError(t, err)

	err = g.ConsumeFiles(context.Background(), prefix, func(storage.RemoteObjectReference) error { return nil })
	require.ErrorIs(t, err, errdefs.ErrStorage)
}

func TestDownloadFile_CreatesParentsAndOverwrites(t *testing.T) {
	mem := memory.New("bkt")
	mem.Put("c1/dc1/n1/data/ks/tbl/f", []byte("fresh"))
	g := newGateway(mem)
	ref, err := g.ObjectKeyToRemoteReference("data/ks/tbl/f")
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "a", "b", "f")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte("old content that is longer"), 0o644))

	require.NoError(t, g.DownloadFile(context.Background(), target, ref))
	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(got))
	_, err = os.Stat(target + ".part")
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadFile_ParentIsAFile(t *testing.T) {
	mem := memory.New("bkt")
	mem.Put("c1/dc1/n1/data/ks/tbl/f", []byte("fresh"))
	g := newGateway(mem)
	ref, err := g.ObjectKeyToRemoteReference("data/ks/tbl/f")
	require.NoError(t, err)

	blocker := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(blocker, []byte("not a dir"), 0o644))

	err = g.DownloadFile(context.Background(), filepath.Join(blocker, "ks", "f"), ref)
	require.ErrorIs(t, err, errdefs.ErrStorage)
	var se *errdefs.StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "download", se.Op)
	assert.Equal(t, "c1/dc1/n1/data/ks/tbl/f", se.Key)
}

func TestDownloadFiles_MissingObject(t *testing.T) {
	mem := memory.New("bkt")
	mem.Put("c1/dc1/n1/data/ks/tbl/a", []byte("a"))
	g := newGateway(mem)
	dir := t.TempDir()

	var downloads []storage.Download
	for _, k := range []string{"data/ks/tbl/a", "data/ks/tbl/missing"} {
		ref, err := g.ObjectKeyToRemoteReference(k)
		require.NoError(t, err)
		downloads = append(downloads, storage.Download{Ref: ref, LocalPath: filepath.Join(dir, filepath.Base(k))})
	}
	err := g.DownloadFiles(context.Background(), downloads, nil)
	require.ErrorIs(t, err, errdefs.ErrStorage)
	require.ErrorIs(t, err, memory.ErrNotFound)
}

func TestOpen_UsesRegistry(t *testing.T) {
	loc := testLoc
	loc.Bucket = "open-test"
	g, err := storage.Open(context.Background(), storage.Settings{Location: loc}, storage.Options{})
	require.NoError(t, err)
	defer func() { require.NoError(t, g.Close()) }()

	require.NoError(t, g.CreateIfMissing(context.Background(), loc.Bucket))
	assert.True(t, memory.Shared("open-test").HasBucket("open-test"))
	assert.Equal(t, "memory", g.Provider().Name())
	assert.Contains(t, storage.Names(), "memory")

	loc.Provider = "nope"
	_, err = storage.Open(context.Background(), storage.Settings{Location: loc}, storage.Options{})
	require.ErrorIs(t, err, errdefs.ErrStorage)
}
