package management

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Fake emulates node snapshots on a data directory: TakeSnapshot hard-links
// live table files into <table>/snapshots/<tag> and ClearSnapshot removes them.
// It backs tests and offline tooling.
type Fake struct {
	DataDir string
	Tokens  []string
	// ClearErr, when set, is returned by ClearSnapshot after the removal.
	ClearErr error

	mu     sync.Mutex
	taken  []string
	clears int
}

func (f *Fake) TakeSnapshot(_ context.Context, keyspaces []string, tag, table string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if table != "" && len(keyspaces) != 1 {
		return fmt.Errorf("table snapshot of %q needs exactly one keyspace", table)
	}
	err := f.walkTables(func(ks, tbl, dir string) error {
		if len(keyspaces) > 0 && !slices.Contains(keyspaces, ks) {
			return nil
		}
		if table != "" && tbl != table && !strings.HasPrefix(tbl, table+"-") {
			return nil
		}
		return linkTable(dir, filepath.Join(dir, "snapshots", tag))
	})
	if err != nil {
		return err
	}
	f.taken = append(f.taken, tag)
	return nil
}

func (f *Fake) ClearSnapshot(_ context.Context, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.clears++
	err := f.walkTables(func(_, _, dir string) error {
		return os.RemoveAll(filepath.Join(dir, "snapshots", tag))
	})
	if err != nil {
		return err
	}
	return f.ClearErr
}

func (f *Fake) RingTokens(context.Context) ([]string, error) {
	return slices.Clone(f.Tokens), nil
}

// Taken returns the tags snapshotted so far.
func (f *Fake) Taken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.taken)
}

// Clears returns how many times ClearSnapshot ran.
func (f *Fake) Clears() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

func (f *Fake) walkTables(fn func(ks, tbl, dir string) error) error {
	keyspaces, err := os.ReadDir(f.DataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, ks := range keyspaces {
		if !ks.IsDir() {
			continue
		}
		tables, err := os.ReadDir(filepath.Join(f.DataDir, ks.Name()))
		if err != nil {
			return err
		}
		for _, tbl := range tables {
			if !tbl.IsDir() {
				continue
			}
			if err := fn(ks.Name(), tbl.Name(), filepath.Join(f.DataDir, ks.Name(), tbl.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func linkTable(tableDir, snapDir string) error {
	entries, err := os.ReadDir(tableDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		dst := filepath.Join(snapDir, e.Name())
		if err := os.Link(filepath.Join(tableDir, e.Name()), dst); err != nil && !errors.Is(err, os.ErrExist) {
			return err
		}
	}
	return nil
}
