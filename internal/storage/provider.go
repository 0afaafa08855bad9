// Package storage moves manifest entries between the node and object storage.
// Each backend implements the small Provider driver; the Gateway adds key
// resolution, bounded parallelism, retries and progress on top of it.
package storage

import (
	"context"
	"io"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/config"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/location"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/manifest"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/progress"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/secret"
)

// RemoteObjectReference ties a node-relative key to its in-bucket path and the
// provider's handle for it.
type RemoteObjectReference struct {
	// LocalRelativeKey is the key below the node prefix, e.g. "data/ks/tbl/f".
	LocalRelativeKey string
	// CanonicalPath is "<cluster>/<dc>/<node>/<LocalRelativeKey>".
	CanonicalPath string
	// Handle is provider specific and may be nil.
	Handle any
}

// Provider is the per-backend driver. Paths are in-bucket canonical paths;
// the bucket is fixed when the provider is built.
type Provider interface {
	Name() string
	CreateBucketIfMissing(ctx context.Context, bucket string) error
	// Handle builds the provider's object handle without network I/O.
	Handle(canonicalPath string) (any, error)
	// Stat reports the remote size; exists is false for a missing object.
	Stat(ctx context.Context, ref RemoteObjectReference) (size int64, exists bool, err error)
	Upload(ctx context.Context, ref RemoteObjectReference, localPath string, metadata map[string]string) error
	// Freshen refreshes an existing object's modification time or metadata
	// without sending its content again.
	Freshen(ctx context.Context, ref RemoteObjectReference) error
	Download(ctx context.Context, ref RemoteObjectReference, w io.Writer) error
	// List calls fn with the native path "/<bucket>/<key>" of every object
	// whose key starts with prefix.
	List(ctx context.Context, prefix string, fn func(nativePath string) error) error
	Close() error
}

// Retryable is implemented by providers that can classify their errors.
// Providers without it get every non-permanent error retried.
type Retryable interface {
	IsRetryable(err error) bool
}

// BucketService creates the backup bucket.
type BucketService interface {
	CreateIfMissing(ctx context.Context, bucket string) error
}

// Backuper uploads a manifest.
type Backuper interface {
	UploadOrFreshenFiles(ctx context.Context, m *manifest.Manifest, tracker *progress.Tracker) (Stats, error)
}

// Restorer enumerates and downloads a node's objects.
type Restorer interface {
	RootReference() RemoteObjectReference
	ObjectKeyToRemoteReference(key string) (RemoteObjectReference, error)
	ConsumeFiles(ctx context.Context, prefix RemoteObjectReference, visitor func(RemoteObjectReference) error) error
	DownloadFile(ctx context.Context, localPath string, ref RemoteObjectReference) error
	DownloadFiles(ctx context.Context, downloads []Download, tracker *progress.Tracker) error
}

// Stats counts what an upload batch did.
type Stats struct {
	Uploaded  int64
	Freshened int64
}

// Download is one object to fetch into LocalPath.
type Download struct {
	Ref       RemoteObjectReference
	LocalPath string
}

// Settings is what a provider factory receives.
type Settings struct {
	Location location.StorageLocation
	Config   config.Config
	Secrets  secret.Store
}

// NativePath formats "/<bucket>/<key>", the form List reports.
func NativePath(bucket, key string) string {
	return "/" + bucket + "/" + key
}
