// Package gcs stores backups in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/storage"
)

const metaFreshened = "freshened"

type Provider struct {
	client  *gcs.Client
	bucket  string
	project string
}

var _ storage.Provider = (*Provider)(nil)

func init() {
	storage.Register("gcs", func(ctx context.Context, s storage.Settings) (storage.Provider, error) {
		client, err := gcs.NewClient(ctx, clientOptions(s)...)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		log.Debug().
			Str("action", "gcs_client").
			Str("endpoint", s.Config.GCS.Endpoint).
			Msg("gcs provider selected")
		return &Provider{client: client, bucket: s.Location.Bucket, project: s.Config.GCS.Project}, nil
	})
}

func clientOptions(s storage.Settings) []option.ClientOption {
	c := s.Config.GCS
	var opts []option.ClientOption
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint))
	}
	switch {
	case c.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(c.CredentialsFile))
	case os.Getenv("STORAGE_EMULATOR_HOST") != "" || c.Endpoint != "":
		opts = append(opts, option.WithoutAuthentication())
	}
	return opts
}

func (p *Provider) Name() string { return "gcs" }

func (p *Provider) CreateBucketIfMissing(ctx context.Context, bucket string) error {
	bh := p.client.Bucket(bucket)
	_, err := bh.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gcs.ErrBucketNotExist) {
		return err
	}
	if p.project == "" {
		return fmt.Errorf("bucket %q does not exist and GCS_PROJECT is not set", bucket)
	}
	err = bh.Create(ctx, p.project, nil)
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusConflict {
		return nil
	}
	return err
}

func (p *Provider) Handle(canonicalPath string) (any, error) {
	key := strings.TrimPrefix(canonicalPath, "/")
	if key == "" {
		return nil, errors.New("gcs: empty object name")
	}
	return p.client.Bucket(p.bucket).Object(key), nil
}

func (p *Provider) object(ref storage.RemoteObjectReference) (*gcs.ObjectHandle, error) {
	if oh, ok := ref.Handle.(*gcs.ObjectHandle); ok {
		return oh, nil
	}
	h, err := p.Handle(ref.CanonicalPath)
	if err != nil {
		return nil, err
	}
	return h.(*gcs.ObjectHandle), nil
}

func (p *Provider) Stat(ctx context.Context, ref storage.RemoteObjectReference) (int64, bool, error) {
	oh, err := p.object(ref)
	if err != nil {
		return 0, false, err
	}
	attrs, err := oh.Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return attrs.Size, true, nil
}

func (p *Provider) Upload(ctx context.Context, ref storage.RemoteObjectReference, localPath string, metadata map[string]string) error {
	oh, err := p.object(ref)
	if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	w := oh.NewWriter(ctx)
	w.Metadata = metadata
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (p *Provider) Freshen(ctx context.Context, ref storage.RemoteObjectReference) error {
	oh, err := p.object(ref)
	if err != nil {
		return err
	}
	_, err = oh.Update(ctx, gcs.ObjectAttrsToUpdate{
		Metadata: map[string]string{metaFreshened: time.Now().UTC().Format(time.RFC3339)},
	})
	return err
}

func (p *Provider) Download(ctx context.Context, ref storage.RemoteObjectReference, w io.Writer) error {
	oh, err := p.object(ref)
	if err != nil {
		return err
	}
	r, err := oh.NewReader(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	_, err = io.Copy(w, r)
	return err
}

func (p *Provider) List(ctx context.Context, prefix string, fn func(string) error) error {
	it := p.client.Bucket(p.bucket).Objects(ctx, &gcs.Query{Prefix: strings.TrimPrefix(prefix, "/")})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(storage.NativePath(p.bucket, attrs.Name)); err != nil {
			return err
		}
	}
}

func (p *Provider) Close() error { return p.client.Close() }

func (p *Provider) IsRetryable(err error) bool {
	if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests ||
			gerr.Code == http.StatusRequestTimeout ||
			gerr.Code >= 500
	}
	return false
}
