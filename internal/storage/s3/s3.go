// Package s3 stores backups in Amazon S3 or an S3-compatible endpoint.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/secret"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/storage"
)

const (
	// Single PUT and server-side copy are limited to 5 GiB.
	maxSinglePart = 5 << 30
	partSize      = 256 << 20

	metaFreshened = "freshened"
)

const (
	secretAccessKeyID     = "aws-access-key-id"
	secretSecretAccessKey = "aws-secret-access-key"
)

type Provider struct {
	client *s3.Client
	bucket string
	region string
}

var _ storage.Provider = (*Provider)(nil)

func init() {
	storage.Register("s3", func(ctx context.Context, s storage.Settings) (storage.Provider, error) {
		client, region, err := newClient(ctx, s)
		if err != nil {
			return nil, err
		}
		return &Provider{client: client, bucket: s.Location.Bucket, region: region}, nil
	})
}

func newClient(ctx context.Context, s storage.Settings) (*s3.Client, string, error) {
	c := s.Config.S3
	opts := []func(*config.LoadOptions) error{
		config.WithClientLogMode(aws.LogRetries),
	}
	if c.Region != "" {
		opts = append(opts, config.WithRegion(c.Region))
	}
	if c.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(c.Profile))
	}

	id := strings.TrimSpace(c.AccessKeyID)
	key := strings.TrimSpace(c.SecretAccessKey)
	var err error
	if id == "" {
		if id, err = secret.Lookup(ctx, s.Secrets, secretAccessKeyID); err != nil {
			return nil, "", err
		}
	}
	if key == "" {
		if key, err = secret.Lookup(ctx, s.Secrets, secretSecretAccessKey); err != nil {
			return nil, "", err
		}
	}
	if id != "" && key != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(id, key, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			// S3-compatible servers often reject the newer default checksums.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		}
		o.UsePathStyle = c.PathStyle
	})
	log.Debug().
		Str("action", "s3_client").
		Str("region", awsCfg.Region).
		Str("endpoint", c.Endpoint).
		Bool("static_credentials", id != "" && key != "").
		Msg("s3 provider selected")
	return client, awsCfg.Region, nil
}

func (p *Provider) Name() string { return "s3" }

func (p *Provider) CreateBucketIfMissing(ctx context.Context, bucket string) error {
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return err
	}
	in := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if p.region != "" && p.region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(p.region),
		}
	}
	_, err = p.client.CreateBucket(ctx, in)
	var owned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		return nil
	}
	return err
}

// Handle is the object key.
func (p *Provider) Handle(canonicalPath string) (any, error) {
	if strings.Trim(canonicalPath, "/") == "" {
		return nil, errors.New("s3: empty object key")
	}
	return canonicalPath, nil
}

func (p *Provider) Stat(ctx context.Context, ref storage.RemoteObjectReference) (int64, bool, error) {
	out, err := p.head(ctx, ref.CanonicalPath)
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return aws.ToInt64(out.ContentLength), true, nil
}

func (p *Provider) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	return p.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(key)})
}

func (p *Provider) Upload(ctx context.Context, ref storage.RemoteObjectReference, localPath string, metadata map[string]string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if fi.Size() > maxSinglePart {
		return p.uploadMultipart(ctx, ref.CanonicalPath, f, fi.Size(), metadata)
	}
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(ref.CanonicalPath),
		Body:          f,
		ContentLength: aws.Int64(fi.Size()),
		Metadata:      metadata,
	})
	return err
}

func (p *Provider) uploadMultipart(ctx context.Context, key string, f *os.File, size int64, metadata map[string]string) error {
	created, err := p.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(p.bucket),
		Key:      aws.String(key),
		Metadata: metadata,
	})
	if err != nil {
		return err
	}
	abort := func() {
		_, aerr := p.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket: aws.String(p.bucket), Key: aws.String(key), UploadId: created.UploadId,
		})
		if aerr != nil {
			log.Warn().Err(aerr).Str("action", "s3_multipart_abort").Str("key", key).Msg("abort failed")
		}
	}

	var parts []types.CompletedPart
	for n, off := int32(1), int64(0); off < size; n, off = n+1, off+partSize {
		length := min(int64(partSize), size-off)
		out, err := p.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(p.bucket),
			Key:           aws.String(key),
			UploadId:      created.UploadId,
			PartNumber:    aws.Int32(n),
			Body:          io.NewSectionReader(f, off, length),
			ContentLength: aws.Int64(length),
		})
		if err != nil {
			abort()
			return fmt.Errorf("upload part %d: %w", n, err)
		}
		parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(n)})
	}
	_, err = p.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(p.bucket),
		Key:             aws.String(key),
		UploadId:        created.UploadId,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		abort()
	}
	return err
}

// Freshen copies the object onto itself with refreshed metadata. Objects
// above the server-side copy limit are left untouched.
func (p *Provider) Freshen(ctx context.Context, ref storage.RemoteObjectReference) error {
	head, err := p.head(ctx, ref.CanonicalPath)
	if err != nil {
		return err
	}
	if aws.ToInt64(head.ContentLength) > maxSinglePart {
		log.Debug().Str("action", "s3_freshen").Str("key", ref.CanonicalPath).
			Msg("object too large for copy, skipping freshen")
		return nil
	}
	meta := make(map[string]string, len(head.Metadata)+1)
	for k, v := range head.Metadata {
		meta[k] = v
	}
	meta[metaFreshened] = time.Now().UTC().Format(time.RFC3339)
	_, err = p.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(p.bucket),
		Key:               aws.String(ref.CanonicalPath),
		CopySource:        aws.String(copySource(p.bucket, ref.CanonicalPath)),
		MetadataDirective: types.MetadataDirectiveReplace,
		Metadata:          meta,
	})
	return err
}

func copySource(bucket, key string) string {
	return url.PathEscape(bucket) + "/" + (&url.URL{Path: key}).EscapedPath()
}

func (p *Provider) Download(ctx context.Context, ref storage.RemoteObjectReference, w io.Writer) error {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(ref.CanonicalPath),
	})
	if err != nil {
		return err
	}
	defer func() { _ = out.Body.Close() }()
	_, err = io.Copy(w, out.Body)
	return err
}

func (p *Provider) List(ctx context.Context, prefix string, fn func(string) error) error {
	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			if err := fn(storage.NativePath(p.bucket, aws.ToString(obj.Key))); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Provider) Close() error {
	// No resources to close for S3 client
	return nil
}

// IsRetryable covers throttling and server-side failures on top of the SDK's own retries.
func (p *Provider) IsRetryable(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "SlowDown", "InternalError", "RequestTimeout", "ServiceUnavailable", "RequestTimeTooSkewed":
			return true
		}
	}
	var re interface{ HTTPStatusCode() int }
	if errors.As(err, &re) {
		code := re.HTTPStatusCode()
		return code == http.StatusTooManyRequests || code >= 500
	}
	return false
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}
