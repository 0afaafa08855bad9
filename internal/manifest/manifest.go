// Package manifest builds the ordered list of files that make up one backup,
// and reads and writes the manifest and token side files.
package manifest

import (
	"path"
	"strings"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/errdefs"
)

// Type classifies a manifest entry.
type Type int

const (
	DataFile Type = iota
	TokensFile
	ManifestFile
	CommitLogFile
)

func (t Type) String() string {
	switch t {
	case DataFile:
		return "DATA_FILE"
	case TokensFile:
		return "TOKENS_FILE"
	case ManifestFile:
		return "MANIFEST_FILE"
	case CommitLogFile:
		return "COMMITLOG_FILE"
	default:
		return "UNKNOWN"
	}
}

// Well-known object key roots below a node prefix.
const (
	DataDir      = "data"
	TokensDir    = "tokens"
	ManifestsDir = "manifests"
	CommitLogDir = "commitlog"
)

// Entry is one file to transfer. ObjectKey always uses forward slashes.
// LocalFile is empty for entries that only exist remotely.
type Entry struct {
	ObjectKey string
	LocalFile string
	Size      int64
	Type      Type
}

// Manifest is an insertion-ordered set of entries keyed by ObjectKey.
type Manifest struct {
	entries []Entry
	keys    map[string]struct{}
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{keys: map[string]struct{}{}}
}

// Add appends e. A key that is already present is rejected with ErrManifest.
func (m *Manifest) Add(e Entry) error {
	key, err := CleanKey(e.ObjectKey)
	if err != nil {
		return err
	}
	e.ObjectKey = key
	if _, dup := m.keys[key]; dup {
		return errdefs.Manifestf("duplicate object key %q", key)
	}
	m.keys[key] = struct{}{}
	m.entries = append(m.entries, e)
	return nil
}

// Entries returns a copy of the entries in insertion order.
func (m *Manifest) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Len returns the number of entries.
func (m *Manifest) Len() int { return len(m.entries) }

// Contains reports whether key is part of the manifest.
func (m *Manifest) Contains(key string) bool {
	_, ok := m.keys[key]
	return ok
}

// TotalSize sums entry sizes.
func (m *Manifest) TotalSize() int64 {
	var n int64
	for _, e := range m.entries {
		n += e.Size
	}
	return n
}

// CleanKey normalizes a relative object key and rejects empty, absolute or
// escaping keys.
func CleanKey(key string) (string, error) {
	k := strings.ReplaceAll(key, "\\", "/")
	if strings.TrimSpace(k) == "" {
		return "", errdefs.Manifestf("empty object key")
	}
	if strings.HasPrefix(k, "/") {
		return "", errdefs.Manifestf("object key %q is absolute", key)
	}
	c := path.Clean(k)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", errdefs.Manifestf("object key %q escapes its prefix", key)
	}
	return c, nil
}

// DataKey returns "data/<keyspace>/<table>/<rel>".
func DataKey(keyspace, table, rel string) string {
	return path.Join(DataDir, keyspace, table, rel)
}

// SplitDataKey is the inverse of DataKey.
func SplitDataKey(key string) (keyspace, table, rel string, ok bool) {
	parts := strings.SplitN(key, "/", 4)
	if len(parts) != 4 || parts[0] != DataDir || parts[1] == "" || parts[2] == "" || parts[3] == "" {
		return "", "", "", false
	}
	return parts[1], parts[2], parts[3], true
}

// TokensKey returns "tokens/<tag>-tokens.yaml".
func TokensKey(tag string) string {
	return path.Join(TokensDir, tag+"-tokens.yaml")
}

// ManifestKey returns "manifests/<tag>".
func ManifestKey(tag string) string {
	return path.Join(ManifestsDir, tag)
}

// IsPrimaryDataComponent reports whether name is an SSTable data component.
func IsPrimaryDataComponent(name string) bool {
	return strings.HasSuffix(name, "-Data.db")
}
