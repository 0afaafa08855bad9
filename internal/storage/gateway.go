package storage

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/errdefs"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/location"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/retry"
)

// Options tunes a Gateway.
type Options struct {
	// Concurrency bounds the transfers of one batch.
	Concurrency int
	Retry       retry.Options
}

// OpenFunc opens a gateway for loc; operations take one so tests can inject
// an in-memory provider. The caller closes the gateway.
type OpenFunc func(ctx context.Context, loc location.StorageLocation, concurrency int) (*Gateway, error)

// Gateway is the provider-agnostic BucketService, Backuper and Restorer for
// one storage location.
type Gateway struct {
	provider Provider
	loc      location.StorageLocation
	opts     Options
	anchor   *regexp.Regexp
	closed   bool
}

var (
	_ BucketService = (*Gateway)(nil)
	_ Backuper      = (*Gateway)(nil)
	_ Restorer      = (*Gateway)(nil)
)

// Open builds the provider named by s.Location.Provider and wraps it.
// Callers must Close the gateway on every path.
func Open(ctx context.Context, s Settings, opts Options) (*Gateway, error) {
	if err := s.Location.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	p, err := New(ctx, s.Location.Provider, s)
	if err != nil {
		return nil, errdefs.Storage("open", s.Location.String(), err)
	}
	log.Debug().
		Str("action", "storage_open").
		Str("provider", p.Name()).
		Str("location", s.Location.String()).
		Dur("elapsed_ms", time.Since(start)).
		Msg("provider ready")
	return NewGateway(p, s.Location, opts), nil
}

// NewGateway wraps an already built provider.
func NewGateway(p Provider, loc location.StorageLocation, opts Options) *Gateway {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}
	anchor := regexp.MustCompile("^/" + strings.Join([]string{
		regexp.QuoteMeta(loc.Bucket),
		regexp.QuoteMeta(loc.ClusterID),
		regexp.QuoteMeta(loc.DatacenterID),
		regexp.QuoteMeta(loc.NodeID),
	}, "/") + "/")
	return &Gateway{provider: p, loc: loc, opts: opts, anchor: anchor}
}

// Provider exposes the underlying driver.
func (g *Gateway) Provider() Provider { return g.provider }

// Close releases provider resources. Safe to call more than once.
func (g *Gateway) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true
	var errs error
	if err := g.provider.Close(); err != nil {
		errs = multierr.Append(errs, errdefs.Storage("close", "", err))
	}
	log.Debug().Str("action", "storage_close").Str("provider", g.provider.Name()).Msg("provider closed")
	return errs
}

func (g *Gateway) CreateIfMissing(ctx context.Context, bucket string) error {
	start := time.Now()
	attempt := 0
	err := retry.Do(ctx, g.opts.Retry, g.isRetryable, func(ctx context.Context) error {
		attempt++
		return g.provider.CreateBucketIfMissing(ctx, bucket)
	})
	if err != nil {
		log.Error().Err(err).Str("action", "bucket_create").Str("bucket", bucket).
			Int("attempts", attempt).Msg("bucket create failed")
		return errdefs.Storage("create bucket", bucket, err)
	}
	log.Info().Str("action", "bucket_create").Str("provider", g.provider.Name()).Str("bucket", bucket).
		Int("attempts", attempt).Dur("elapsed_ms", time.Since(start)).Msg("bucket OK")
	return nil
}

// ObjectKeyToRemoteReference maps a node-relative key to its canonical path
// and provider handle. It performs no network I/O.
func (g *Gateway) ObjectKeyToRemoteReference(key string) (RemoteObjectReference, error) {
	clean, err := cleanRelativeKey(key)
	if err != nil {
		return RemoteObjectReference{}, errdefs.Storage("resolve", key, err)
	}
	canonical := g.loc.NodePath(clean)
	h, err := g.provider.Handle(canonical)
	if err != nil {
		return RemoteObjectReference{}, errdefs.Storage("resolve", key, fmt.Errorf("%w: %v", errdefs.ErrResolution, err))
	}
	return RemoteObjectReference{LocalRelativeKey: clean, CanonicalPath: canonical, Handle: h}, nil
}

// RootReference is the node prefix itself, cluster/dc/node. It is only valid
// as a ConsumeFiles prefix and carries no provider handle.
func (g *Gateway) RootReference() RemoteObjectReference {
	return RemoteObjectReference{CanonicalPath: g.loc.NodePath("")}
}

func cleanRelativeKey(key string) (string, error) {
	k := strings.TrimSpace(key)
	if k == "" || strings.HasPrefix(k, "/") || strings.Contains(k, "\\") {
		return "", fmt.Errorf("%w: malformed key %q", errdefs.ErrResolution, key)
	}
	c := path.Clean(k)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("%w: key %q escapes the node prefix", errdefs.ErrResolution, key)
	}
	return c, nil
}

func (g *Gateway) isRetryable(err error) bool {
	if r, ok := g.provider.(Retryable); ok {
		return r.IsRetryable(err)
	}
	return true
}
