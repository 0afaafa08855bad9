// Package secret resolves provider credentials from the environment or from a
// mounted secret directory.
package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

var ErrNotFound = errors.New("secret not found")

// Store returns the raw value of a named secret. Names are kebab-case,
// e.g. "azure-storage-account-key".
type Store interface {
	Retrieve(ctx context.Context, name string) ([]byte, error)
}

// New selects the store based on method ("env" or "file").
// NOTE: This package never initializes logging; main() does via logx.InitFromEnv().
func New(method, dir string) (Store, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	switch method {
	case "", "env":
		log.Debug().
			Str("action", "secret_new").
			Str("method", "env").
			Msg("secret store selected")
		return envStore{}, nil

	case "file":
		if strings.TrimSpace(dir) == "" {
			return nil, errors.New("file secret store requires a directory")
		}
		log.Debug().
			Str("action", "secret_new").
			Str("method", "file").
			Str("dir", dir).
			Msg("secret store selected")
		return fileStore{dir: dir}, nil

	default:
		return nil, errors.New("unsupported secret store: " + method)
	}
}

// Lookup returns the trimmed secret, or "" when it does not exist.
func Lookup(ctx context.Context, s Store, name string) (string, error) {
	if s == nil {
		return "", nil
	}
	v, err := s.Retrieve(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(v)), nil
}

// envStore maps "azure-storage-account-key" to AZURE_STORAGE_ACCOUNT_KEY.
type envStore struct{}

func (envStore) Retrieve(_ context.Context, name string) ([]byte, error) {
	key := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	// Never log the secret content.
	log.Debug().Str("action", "secret_retrieve").Str("method", "env").Str("name", name).Msg("secret resolved")
	return []byte(v), nil
}

// fileStore reads <dir>/<name>, the layout of a mounted Kubernetes secret.
type fileStore struct {
	dir string
}

func (s fileStore) Retrieve(_ context.Context, name string) ([]byte, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("invalid secret name %q", name)
	}
	b, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read secret %s: %w", name, err)
	}
	log.Debug().Str("action", "secret_retrieve").Str("method", "file").Str("name", name).Msg("secret resolved")
	return b, nil
}
