package azure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// CreateBucketIfMissing creates the container. A container SAS cannot create
// containers, so with SAS auth it only checks access with a minimal list.
func (p *Provider) CreateBucketIfMissing(ctx context.Context, container string) error {
	if p.authViaSAS {
		return p.checkContainer(ctx, container)
	}
	_, err := p.client.CreateContainer(ctx, container, nil)
	if err == nil || bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil
	}
	return err
}

func (p *Provider) checkContainer(ctx context.Context, container string) error {
	pager := p.client.NewListBlobsFlatPager(container, &azblob.ListBlobsFlatOptions{
		MaxResults: to.Ptr(int32(1)),
	})
	if !pager.More() {
		return nil
	}
	_, err := pager.NextPage(ctx)
	if err == nil {
		return nil
	}
	var re *azcore.ResponseError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		case string(bloberror.ContainerNotFound):
			return fmt.Errorf("container %q not found: create it first (container SAS cannot create containers)", container)
		case string(bloberror.AuthorizationFailure),
			string(bloberror.AuthorizationPermissionMismatch),
			string(bloberror.AuthenticationFailed):
			return fmt.Errorf("not authorized for container %q; ensure a container SAS with at least rwl", container)
		}
	}
	return err
}

// IsRetryable: retry rules for Azure (timeout, 5xx, 429, 408, ServerBusy).
func (p *Provider) IsRetryable(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var re *azcore.ResponseError
	if errors.As(err, &re) {
		if re.StatusCode == http.StatusTooManyRequests || re.StatusCode == http.StatusRequestTimeout {
			return true
		}
		if re.StatusCode >= 500 && re.StatusCode <= 599 {
			return true
		}
		if re.ErrorCode == string(bloberror.ServerBusy) {
			return true
		}
	}
	return false
}
