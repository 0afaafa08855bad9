package manifest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// Staging owns the local files that are generated for a backup (token list,
// manifest file) and removes them when the owning operation ends.
type Staging struct {
	dir   string
	files []string
}

// NewStaging prepares <sharedContainerPath>/tmp/cassandra-backup.
func NewStaging(sharedContainerPath string) (*Staging, error) {
	if sharedContainerPath == "" {
		sharedContainerPath = os.TempDir()
	}
	dir := filepath.Join(sharedContainerPath, "tmp", "cassandra-backup")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Staging{dir: dir}, nil
}

// Write materializes a file at <dir>/<rel> through fill and returns its path and size.
func (s *Staging) Write(rel string, fill func(io.Writer) error) (string, int64, error) {
	p := filepath.Join(s.dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", 0, err
	}
	f, err := os.Create(p)
	if err != nil {
		return "", 0, err
	}
	s.files = append(s.files, p)
	if err := fill(f); err != nil {
		_ = f.Close()
		return "", 0, err
	}
	if err := f.Close(); err != nil {
		return "", 0, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return "", 0, err
	}
	return p, fi.Size(), nil
}

// Reserve returns the path <dir>/<rel> for a file the caller writes itself;
// it is removed by Cleanup like any staged file.
func (s *Staging) Reserve(rel string) (string, error) {
	p := filepath.Join(s.dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	s.files = append(s.files, p)
	return p, nil
}

// Cleanup removes every file written through this staging area.
func (s *Staging) Cleanup() error {
	var errs error
	for _, p := range s.files {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = multierr.Append(errs, err)
		}
	}
	s.files = nil
	if errs != nil {
		log.Warn().Err(errs).Str("action", "staging_cleanup").Str("dir", s.dir).Msg("failed to remove staged files")
	}
	return errs
}
