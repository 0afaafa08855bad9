package azure

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/secret"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/storage"
)

// Secret names looked up when the matching setting is empty.
const (
	secretAccount      = "azure-storage-account"
	secretSAS          = "azure-storage-sas"
	secretAccountKey   = "azure-storage-account-key"
	secretClientSecret = "azure-client-secret"
)

type clientInfo struct {
	client   *azblob.Client
	account  string
	endpoint string
	viaSAS   bool
	method   string
}

// newClient builds the blob client.
// Priority: 1) SAS  2) shared key  3) Service Principal  4) DefaultAzureCredential.
func newClient(ctx context.Context, s storage.Settings) (clientInfo, error) {
	c := s.Config.Azure
	lookup := func(v, name string) (string, error) {
		if v = strings.TrimSpace(v); v != "" {
			return v, nil
		}
		return secret.Lookup(ctx, s.Secrets, name)
	}

	account, err := lookup(c.Account, secretAccount)
	if err != nil {
		return clientInfo{}, err
	}
	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		if account == "" {
			return clientInfo{}, errors.New("azure: AZURE_STORAGE_ACCOUNT or AZURE_BLOB_ENDPOINT is required")
		}
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", account)
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	info := clientInfo{account: account, endpoint: endpoint}

	// 1) SAS
	sasRaw, err := lookup(c.SASToken, secretSAS)
	if err != nil {
		return clientInfo{}, err
	}
	if sasRaw != "" {
		sas := strings.TrimPrefix(sasRaw, "?")
		info.client, err = azblob.NewClientWithNoCredential(endpoint+"?"+sas, nil)
		info.viaSAS, info.method = true, "sas"
		return info, err
	}

	// 2) Shared key
	key, err := secret.Lookup(ctx, s.Secrets, secretAccountKey)
	if err != nil {
		return clientInfo{}, err
	}
	if key != "" && account != "" {
		cred, err := azblob.NewSharedKeyCredential(account, key)
		if err != nil {
			return clientInfo{}, err
		}
		info.client, err = azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)
		info.method = "shared_key"
		return info, err
	}

	// 3) Service Principal
	clientSecret, err := lookup(c.ClientSecret, secretClientSecret)
	if err != nil {
		return clientInfo{}, err
	}
	if c.ClientID != "" && clientSecret != "" && c.TenantID != "" {
		cred, err := azidentity.NewClientSecretCredential(c.TenantID, c.ClientID, clientSecret, nil)
		if err != nil {
			return clientInfo{}, err
		}
		info.client, err = azblob.NewClient(endpoint, cred, nil)
		info.method = "service_principal"
		return info, err
	}

	// 4) Managed Identity / DefaultAzureCredential
	defCred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return clientInfo{}, err
	}
	info.client, err = azblob.NewClient(endpoint, defCred, nil)
	info.method = "default_credential"
	return info, err
}

func init() {
	storage.Register("azure", func(ctx context.Context, s storage.Settings) (storage.Provider, error) {
		info, err := newClient(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("azure client: %w", err)
		}
		log.Debug().
			Str("action", "azure_client").
			Str("endpoint", info.endpoint).
			Str("method", info.method).
			Msg("azure provider selected")
		return &Provider{
			client:     info.client,
			container:  s.Location.Bucket,
			authViaSAS: info.viaSAS,
		}, nil
	})
}
