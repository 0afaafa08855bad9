// Package local stores objects as files below a root directory, one
// sub-directory per bucket. Useful for NFS-mounted backup targets.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/storage"
)

const (
	dirPerm    = 0o755
	partSuffix = ".uploading"
)

type Provider struct {
	root   string
	bucket string
}

var _ storage.Provider = (*Provider)(nil)

// New returns a provider rooted at root serving bucket.
func New(root, bucket string) (*Provider, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("local: LOCAL_ROOT is required")
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, err
	}
	return &Provider{root: root, bucket: bucket}, nil
}

func init() {
	storage.Register("local", func(_ context.Context, s storage.Settings) (storage.Provider, error) {
		return New(s.Config.Local.Root, s.Location.Bucket)
	})
}

func (p *Provider) Name() string { return "local" }

func (p *Provider) CreateBucketIfMissing(_ context.Context, bucket string) error {
	return os.MkdirAll(filepath.Join(p.root, bucket), dirPerm)
}

// Handle is the absolute file path of the object.
func (p *Provider) Handle(canonicalPath string) (any, error) {
	return p.path(canonicalPath), nil
}

func (p *Provider) path(canonicalPath string) string {
	return filepath.Join(p.root, p.bucket, filepath.FromSlash(canonicalPath))
}

func (p *Provider) Stat(_ context.Context, ref storage.RemoteObjectReference) (int64, bool, error) {
	fi, err := os.Stat(p.path(ref.CanonicalPath))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return fi.Size(), true, nil
}

// Upload copies localPath next to the target and renames it into place.
// Files carry no metadata.
func (p *Provider) Upload(_ context.Context, ref storage.RemoteObjectReference, localPath string, _ map[string]string) error {
	dst := p.path(ref.CanonicalPath)
	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return err
	}
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*"+partSuffix)
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (p *Provider) Freshen(_ context.Context, ref storage.RemoteObjectReference) error {
	now := time.Now()
	return os.Chtimes(p.path(ref.CanonicalPath), now, now)
}

func (p *Provider) Download(_ context.Context, ref storage.RemoteObjectReference, w io.Writer) error {
	f, err := os.Open(p.path(ref.CanonicalPath))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = io.Copy(w, f)
	return err
}

func (p *Provider) List(ctx context.Context, prefix string, fn func(string) error) error {
	bucketDir := filepath.Join(p.root, p.bucket)
	start := filepath.Join(bucketDir, filepath.FromSlash(prefix))
	if !strings.HasSuffix(prefix, "/") {
		start = filepath.Dir(start)
	}
	if _, err := os.Stat(start); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("local list %s: %w", prefix, err)
	}
	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), partSuffix) {
			return nil
		}
		rel, err := filepath.Rel(bucketDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		return fn(storage.NativePath(p.bucket, key))
	})
	if err != nil {
		return fmt.Errorf("local list %s: %w", prefix, err)
	}
	return nil
}

func (p *Provider) Close() error { return nil }

// IsRetryable: local I/O failures are not transient.
func (p *Provider) IsRetryable(error) bool { return false }
