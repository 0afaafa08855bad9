package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/storage"
)

// metaFreshened records the last freshen; Azure metadata keys must be C# identifiers.
const metaFreshened = "freshened"

type Provider struct {
	client     *azblob.Client
	container  string
	authViaSAS bool
}

var _ storage.Provider = (*Provider)(nil)

func (p *Provider) Name() string { return "azure" }

func (p *Provider) Handle(canonicalPath string) (any, error) {
	key := normalizeKey(canonicalPath)
	if key == "" {
		return nil, errors.New("azure: empty blob name")
	}
	return p.client.ServiceClient().NewContainerClient(p.container).NewBlockBlobClient(key), nil
}

func (p *Provider) blob(ref storage.RemoteObjectReference) (*blockblob.Client, error) {
	if bb, ok := ref.Handle.(*blockblob.Client); ok {
		return bb, nil
	}
	h, err := p.Handle(ref.CanonicalPath)
	if err != nil {
		return nil, err
	}
	return h.(*blockblob.Client), nil
}

func (p *Provider) Stat(ctx context.Context, ref storage.RemoteObjectReference) (int64, bool, error) {
	bb, err := p.blob(ref)
	if err != nil {
		return 0, false, err
	}
	props, err := bb.BlobClient().GetProperties(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if props.ContentLength == nil {
		return 0, true, nil
	}
	return *props.ContentLength, true, nil
}

// Upload sends the file with its metadata, then checks the stored size and
// sha256 the same way a restore would see them.
func (p *Provider) Upload(ctx context.Context, ref storage.RemoteObjectReference, localPath string, metadata map[string]string) error {
	bb, err := p.blob(ref)
	if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			log.Warn().
				Err(cerr).
				Str("file", localPath).
				Msg("failed to close source file after upload")
		}
	}()
	fi, err := f.Stat()
	if err != nil {
		return err
	}

	meta := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		meta[k] = to.Ptr(v)
	}
	if _, err := bb.UploadFile(ctx, f, &blockblob.UploadFileOptions{Metadata: meta}); err != nil {
		return err
	}

	props, err := bb.BlobClient().GetProperties(ctx, nil)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if props.ContentLength != nil && *props.ContentLength != fi.Size() {
		return fmt.Errorf("size mismatch: local=%d, remote=%d", fi.Size(), *props.ContentLength)
	}
	if want := metadata[storage.MetadataSHA256]; want != "" {
		if got := metaValue(props.Metadata, storage.MetadataSHA256); got != want {
			return fmt.Errorf("sha256 mismatch: local=%s, remote=%s", want, got)
		}
	}
	return nil
}

// Freshen rewrites the blob metadata, keeping existing keys.
func (p *Provider) Freshen(ctx context.Context, ref storage.RemoteObjectReference) error {
	bb, err := p.blob(ref)
	if err != nil {
		return err
	}
	props, err := bb.BlobClient().GetProperties(ctx, nil)
	if err != nil {
		return err
	}
	meta := make(map[string]*string, len(props.Metadata)+1)
	for k, v := range props.Metadata {
		meta[strings.ToLower(k)] = v
	}
	meta[metaFreshened] = to.Ptr(time.Now().UTC().Format(time.RFC3339))
	_, err = bb.BlobClient().SetMetadata(ctx, meta, nil)
	return err
}

func (p *Provider) Download(ctx context.Context, ref storage.RemoteObjectReference, w io.Writer) error {
	bb, err := p.blob(ref)
	if err != nil {
		return err
	}
	resp, err := bb.BlobClient().DownloadStream(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, err = io.Copy(w, resp.Body)
	return err
}

func (p *Provider) List(ctx context.Context, prefix string, fn func(string) error) error {
	pager := p.client.NewListBlobsFlatPager(p.container, &azblob.ListBlobsFlatOptions{
		Prefix: to.Ptr(normalizeKey(prefix)),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, it := range page.Segment.BlobItems {
			if it.Name == nil {
				continue
			}
			if err := fn(storage.NativePath(p.container, *it.Name)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Provider) Close() error { return nil }

func normalizeKey(k string) string {
	return strings.TrimPrefix(k, "/")
}

func metaValue(m map[string]*string, key string) string {
	for k, v := range m {
		if strings.EqualFold(k, key) && v != nil {
			return *v
		}
	}
	return ""
}

func isNotFound(err error) bool {
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return true
	}
	var re *azcore.ResponseError
	return errors.As(err, &re) && re.StatusCode == http.StatusNotFound
}
