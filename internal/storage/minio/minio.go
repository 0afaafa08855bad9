// Package minio stores backups in a MinIO (or other S3-compatible) server.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/secret"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/storage"
)

const (
	secretAccessKey = "minio-access-key"
	secretSecretKey = "minio-secret-key"

	metaFreshened = "Freshened"

	// Server-side copy limit.
	maxCopySize = 5 << 30
)

type Provider struct {
	client *minio.Client
	bucket string
	region string
}

var _ storage.Provider = (*Provider)(nil)

func init() {
	storage.Register("minio", func(ctx context.Context, s storage.Settings) (storage.Provider, error) {
		c := s.Config.Minio
		access, secretKey := c.AccessKey, c.SecretKey
		var err error
		if access == "" {
			if access, err = secret.Lookup(ctx, s.Secrets, secretAccessKey); err != nil {
				return nil, err
			}
		}
		if secretKey == "" {
			if secretKey, err = secret.Lookup(ctx, s.Secrets, secretSecretKey); err != nil {
				return nil, err
			}
		}
		client, err := newClient(c.Endpoint, access, secretKey, c.Region, c.UseSSL)
		if err != nil {
			return nil, err
		}
		log.Debug().
			Str("action", "minio_client").
			Str("endpoint", client.EndpointURL().String()).
			Msg("minio provider selected")
		return &Provider{client: client, bucket: s.Location.Bucket, region: c.Region}, nil
	})
}

// newClient accepts either host:port or a full URL, the URL scheme
// overriding useSSL.
func newClient(endpoint, accessKey, secretKey, region string, useSSL bool) (*minio.Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("minio: MINIO_ENDPOINT is required")
	}
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("minio: parse endpoint: %w", err)
		}
		endpoint, useSSL = u.Host, u.Scheme == "https"
	}
	return minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
}

func (p *Provider) Name() string { return "minio" }

func (p *Provider) CreateBucketIfMissing(ctx context.Context, bucket string) error {
	ok, err := p.client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	err = p.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: p.region})
	if err != nil {
		switch minio.ToErrorResponse(err).Code {
		case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
			return nil
		}
	}
	return err
}

// Handle is the object name.
func (p *Provider) Handle(canonicalPath string) (any, error) {
	key := strings.TrimPrefix(canonicalPath, "/")
	if key == "" {
		return nil, errors.New("minio: empty object name")
	}
	return key, nil
}

func (p *Provider) Stat(ctx context.Context, ref storage.RemoteObjectReference) (int64, bool, error) {
	info, err := p.client.StatObject(ctx, p.bucket, ref.CanonicalPath, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return info.Size, true, nil
}

func (p *Provider) Upload(ctx context.Context, ref storage.RemoteObjectReference, localPath string, metadata map[string]string) error {
	_, err := p.client.FPutObject(ctx, p.bucket, ref.CanonicalPath, localPath, minio.PutObjectOptions{
		UserMetadata: metadata,
		ContentType:  "application/octet-stream",
	})
	return err
}

func (p *Provider) Freshen(ctx context.Context, ref storage.RemoteObjectReference) error {
	info, err := p.client.StatObject(ctx, p.bucket, ref.CanonicalPath, minio.StatObjectOptions{})
	if err != nil {
		return err
	}
	if info.Size > maxCopySize {
		log.Debug().Str("action", "minio_freshen").Str("key", ref.CanonicalPath).
			Msg("object too large for copy, skipping freshen")
		return nil
	}
	meta := make(map[string]string, len(info.UserMetadata)+1)
	for k, v := range info.UserMetadata {
		meta[k] = v
	}
	meta[metaFreshened] = time.Now().UTC().Format(time.RFC3339)
	_, err = p.client.CopyObject(ctx,
		minio.CopyDestOptions{
			Bucket:          p.bucket,
			Object:          ref.CanonicalPath,
			ReplaceMetadata: true,
			UserMetadata:    meta,
		},
		minio.CopySrcOptions{Bucket: p.bucket, Object: ref.CanonicalPath},
	)
	return err
}

func (p *Provider) Download(ctx context.Context, ref storage.RemoteObjectReference, w io.Writer) error {
	obj, err := p.client.GetObject(ctx, p.bucket, ref.CanonicalPath, minio.GetObjectOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = obj.Close() }()
	_, err = io.Copy(w, obj)
	return err
}

func (p *Provider) List(ctx context.Context, prefix string, fn func(string) error) error {
	// Cancelling stops the listing goroutine when fn aborts early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for obj := range p.client.ListObjects(ctx, p.bucket, minio.ListObjectsOptions{
		Prefix:    strings.TrimPrefix(prefix, "/"),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return obj.Err
		}
		if err := fn(storage.NativePath(p.bucket, obj.Key)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) Close() error { return nil }

func (p *Provider) IsRetryable(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "SlowDown", "SlowDownRead", "SlowDownWrite", "InternalError", "RequestTimeout", "ServiceUnavailable", "XMinioServerNotInitialized":
		return true
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
