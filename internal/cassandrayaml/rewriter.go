// Package cassandrayaml rewrites cassandra.yaml so a restored node keeps the
// tokens it owned when the backup was taken.
package cassandrayaml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"sigs.k8s.io/yaml"
)

const FileName = "cassandra.yaml"

// Rewriter edits <ConfigDir>/cassandra.yaml in place. Comments are not kept;
// the original file is saved once as cassandra.yaml.bak.
type Rewriter struct {
	ConfigDir string
}

// ApplyTokens sets initial_token to the comma-joined tokens and disables
// auto_bootstrap. Other keys are kept as they are.
func (r Rewriter) ApplyTokens(_ context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return errors.New("cassandra.yaml: no tokens to apply")
	}
	start := time.Now()
	path := filepath.Join(r.ConfigDir, FileName)

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	doc := map[string]any{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	doc["initial_token"] = strings.Join(tokens, ",")
	doc["auto_bootstrap"] = false

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	backup := path + ".bak"
	if _, err := os.Stat(backup); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(backup, raw, 0o644); err != nil {
			return fmt.Errorf("save %s: %w", backup, err)
		}
	}
	if err := writeFileAtomic(path, out); err != nil {
		return err
	}
	log.Info().
		Str("action", "cassandra_yaml").
		Str("file", path).
		Int("tokens", len(tokens)).
		Dur("elapsed_ms", time.Since(start)).
		Msg("cassandra.yaml OK")
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if fi, err := os.Stat(path); err == nil {
		mode = fi.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
