// Package memory is an in-process storage provider for tests and dry runs.
// It counts uploads and freshens so callers can assert transfer behaviour.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/storage"
)

// ErrNotFound is returned for a missing object.
var ErrNotFound = errors.New("object not found")

type object struct {
	data     []byte
	metadata map[string]string
	modified time.Time
}

// Provider keeps objects in memory, keyed by canonical path.
type Provider struct {
	bucket string

	mu      sync.Mutex
	buckets map[string]bool
	objects map[string]object

	uploads  atomic.Int64
	freshens atomic.Int64

	// FailOn, when set, is consulted before each operation ("stat", "upload",
	// "freshen", "download", "list") and may return an injected error.
	FailOn func(op, key string) error
}

var _ storage.Provider = (*Provider)(nil)

// New returns an empty provider for bucket.
func New(bucket string) *Provider {
	return &Provider{bucket: bucket, buckets: map[string]bool{}, objects: map[string]object{}}
}

var (
	sharedMu sync.Mutex
	shared   = map[string]*Provider{}
)

// Shared returns the process-wide provider for bucket; the registered
// "memory" factory hands it out so data survives Close.
func Shared(bucket string) *Provider {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	p, ok := shared[bucket]
	if !ok {
		p = New(bucket)
		shared[bucket] = p
	}
	return p
}

func init() {
	storage.Register("memory", func(_ context.Context, s storage.Settings) (storage.Provider, error) {
		return Shared(s.Location.Bucket), nil
	})
}

func (p *Provider) Name() string { return "memory" }

func (p *Provider) CreateBucketIfMissing(_ context.Context, bucket string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buckets[bucket] = true
	return nil
}

// Handle is the canonical path itself.
func (p *Provider) Handle(canonicalPath string) (any, error) {
	if canonicalPath == "" {
		return nil, errors.New("empty object path")
	}
	return canonicalPath, nil
}

func (p *Provider) Stat(_ context.Context, ref storage.RemoteObjectReference) (int64, bool, error) {
	if err := p.fail("stat", ref.CanonicalPath); err != nil {
		return 0, false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.objects[ref.CanonicalPath]
	if !ok {
		return 0, false, nil
	}
	return int64(len(o.data)), true, nil
}

func (p *Provider) Upload(_ context.Context, ref storage.RemoteObjectReference, localPath string, metadata map[string]string) error {
	if err := p.fail("upload", ref.CanonicalPath); err != nil {
		return err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	p.mu.Lock()
	p.objects[ref.CanonicalPath] = object{data: data, metadata: meta, modified: time.Now()}
	p.mu.Unlock()
	p.uploads.Add(1)
	return nil
}

func (p *Provider) Freshen(_ context.Context, ref storage.RemoteObjectReference) error {
	if err := p.fail("freshen", ref.CanonicalPath); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.objects[ref.CanonicalPath]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, ref.CanonicalPath)
	}
	o.modified = time.Now()
	p.objects[ref.CanonicalPath] = o
	p.freshens.Add(1)
	return nil
}

func (p *Provider) Download(_ context.Context, ref storage.RemoteObjectReference, w io.Writer) error {
	if err := p.fail("download", ref.CanonicalPath); err != nil {
		return err
	}
	p.mu.Lock()
	o, ok := p.objects[ref.CanonicalPath]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, ref.CanonicalPath)
	}
	_, err := io.Copy(w, bytes.NewReader(o.data))
	return err
}

// List visits matching keys in lexical order.
func (p *Provider) List(ctx context.Context, prefix string, fn func(string) error) error {
	if err := p.fail("list", prefix); err != nil {
		return err
	}
	for _, k := range p.Keys(prefix) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(storage.NativePath(p.bucket, k)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) Close() error { return nil }

// IsRetryable treats a missing object as final.
func (p *Provider) IsRetryable(err error) bool { return !errors.Is(err, ErrNotFound) }

// Put stores data under a canonical path without counting an upload.
func (p *Provider) Put(canonicalPath string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[canonicalPath] = object{data: append([]byte(nil), data...), modified: time.Now()}
}

// Get returns the stored bytes and metadata of a canonical path.
func (p *Provider) Get(canonicalPath string) ([]byte, map[string]string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.objects[canonicalPath]
	return o.data, o.metadata, ok
}

// Keys returns the stored canonical paths starting with prefix, sorted.
func (p *Provider) Keys(prefix string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for k := range p.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// HasBucket reports whether CreateBucketIfMissing ran for bucket.
func (p *Provider) HasBucket(bucket string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buckets[bucket]
}

// Uploads counts content uploads.
func (p *Provider) Uploads() int64 { return p.uploads.Load() }

// Freshens counts freshen calls.
func (p *Provider) Freshens() int64 { return p.freshens.Load() }

func (p *Provider) fail(op, key string) error {
	if p.FailOn == nil {
		return nil
	}
	return p.FailOn(op, key)
}
