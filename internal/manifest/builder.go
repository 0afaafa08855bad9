package manifest

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/errdefs"
)

// TableSnapshot is one discovered <keyspace>/<table>/snapshots/<tag> directory.
type TableSnapshot struct {
	Keyspace string
	Table    string
	Dir      string
}

// Options selects what a Builder collects.
type Options struct {
	Tag       string
	Keyspaces []string
	// Tokens may be empty, e.g. for a snapshot taken before the node stopped.
	Tokens []string
}

// Builder turns a snapshot on disk into a Manifest.
type Builder struct {
	DataDir string
	Staging *Staging
}

// FindSnapshots walks <dataDir>/<keyspace>/<table>/snapshots/<tag> at fixed
// depth and groups the matches by tag.
func FindSnapshots(dataDir string) (map[string][]TableSnapshot, error) {
	out := map[string][]TableSnapshot{}
	keyspaces, err := readDirs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("list data dir: %w", err)
	}
	for _, ks := range keyspaces {
		tables, err := readDirs(filepath.Join(dataDir, ks))
		if err != nil {
			return nil, err
		}
		for _, tbl := range tables {
			snapRoot := filepath.Join(dataDir, ks, tbl, "snapshots")
			tags, err := readDirs(snapRoot)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return nil, err
			}
			for _, tag := range tags {
				out[tag] = append(out[tag], TableSnapshot{Keyspace: ks, Table: tbl, Dir: filepath.Join(snapRoot, tag)})
			}
		}
	}
	return out, nil
}

// Build collects the data files of opts.Tag, checks that at least one primary
// data component is present, then stages and appends the token list and the
// manifest file. A tag that is missing for an explicit keyspace list yields an
// empty manifest without synthetic entries.
func (b *Builder) Build(opts Options) (*Manifest, error) {
	start := time.Now()

	found, err := FindSnapshots(b.DataDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	tables := filterKeyspaces(found[opts.Tag], opts.Keyspaces)

	if len(tables) == 0 {
		if len(opts.Keyspaces) == 0 {
			return nil, errdefs.Manifestf("no snapshot %q found under %s for any keyspace", opts.Tag, b.DataDir)
		}
		log.Warn().
			Str("action", "build_manifest").
			Str("tag", opts.Tag).
			Strs("keyspaces", opts.Keyspaces).
			Msg("no snapshot found for requested keyspaces, nothing to back up")
		return New(), nil
	}

	m := New()
	hasData := false
	for _, t := range tables {
		files, err := listFiles(t.Dir)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", t.Dir, err)
		}
		for _, f := range files {
			if IsPrimaryDataComponent(f.rel) {
				hasData = true
			}
			if err := m.Add(Entry{
				ObjectKey: DataKey(t.Keyspace, t.Table, f.rel),
				LocalFile: f.path,
				Size:      f.size,
				Type:      DataFile,
			}); err != nil {
				return nil, err
			}
		}
	}
	if !hasData {
		return nil, errdefs.Manifestf("snapshot %q contains no -Data.db component", opts.Tag)
	}

	if err := b.appendSynthetic(m, opts.Tag, opts.Tokens); err != nil {
		return nil, err
	}

	log.Info().
		Str("action", "build_manifest").
		Str("tag", opts.Tag).
		Int("tables", len(tables)).
		Int("entries", m.Len()).
		Int64("bytes", m.TotalSize()).
		Dur("elapsed_ms", time.Since(start)).
		Msg("manifest OK")
	return m, nil
}

func (b *Builder) appendSynthetic(m *Manifest, tag string, tokens []string) error {
	if b.Staging == nil {
		return errors.New("manifest builder: staging area is required")
	}
	tokensKey := TokensKey(tag)
	p, size, err := b.Staging.Write(tokensKey, func(w io.Writer) error { return WriteTokenFile(w, tokens) })
	if err != nil {
		return fmt.Errorf("stage token file: %w", err)
	}
	if err := m.Add(Entry{ObjectKey: tokensKey, LocalFile: p, Size: size, Type: TokensFile}); err != nil {
		return err
	}

	manifestKey := ManifestKey(tag)
	listed := m.Entries()
	p, size, err = b.Staging.Write(manifestKey, func(w io.Writer) error { return WriteManifestFile(w, listed) })
	if err != nil {
		return fmt.Errorf("stage manifest file: %w", err)
	}
	return m.Add(Entry{ObjectKey: manifestKey, LocalFile: p, Size: size, Type: ManifestFile})
}

func filterKeyspaces(tables []TableSnapshot, keyspaces []string) []TableSnapshot {
	if len(keyspaces) == 0 {
		return tables
	}
	var out []TableSnapshot
	for _, t := range tables {
		if slices.Contains(keyspaces, t.Keyspace) {
			out = append(out, t)
		}
	}
	return out
}

// TableName strips the "-<table id>" suffix Cassandra appends to table directories.
func TableName(dir string) string {
	if i := strings.LastIndex(dir, "-"); i > 0 && len(dir)-i-1 == 32 {
		return dir[:i]
	}
	return dir
}

type localFile struct {
	rel  string
	path string
	size int64
}

// listFiles returns every regular file below dir in lexical order.
func listFiles(dir string) ([]localFile, error) {
	var out []localFile
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		out = append(out, localFile{rel: filepath.ToSlash(rel), path: p, size: info.Size()})
		return nil
	})
	return out, err
}

func readDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}
