package manifest

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/errdefs"
)

func writeFile(t *testing.T, p string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, bytes.Repeat([]byte{'x'}, size), 0o644))
}

func newBuilder(t *testing.T) (*Builder, string) {
	t.Helper()
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	st, err := NewStaging(filepath.Join(root, "shared"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Cleanup() })
	return &Builder{DataDir: dataDir, Staging: st}, dataDir
}

func TestManifest_AddRejectsDuplicates(t *testing.T) {
	m := New()
	require.NoError(t, m.Add(Entry{ObjectKey: "data/ks/tbl/a-Data.db", Size: 1}))
	err := m.Add(Entry{ObjectKey: "data/ks/tbl/./a-Data.db", Size: 2})
	require.ErrorIs(t, err, errdefs.ErrManifest)
	assert.Equal(t, 1, m.Len())
	assert.True(t, m.Contains("data/ks/tbl/a-Data.db"))
}

func TestCleanKey(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"data/ks/tbl/f", "data/ks/tbl/f", false},
		{`data\ks\tbl\f`, "data/ks/tbl/f", false},
		{"data//ks/tbl/f", "data/ks/tbl/f", false},
		{"", "", true},
		{"/abs", "", true},
		{"../up", "", true},
		{"data/../../up", "", true},
	}
	for _, tc := range cases {
		got, err := CleanKey(tc.in)
		if tc.wantErr {
			assert.ErrorIs(t, err, errdefs.ErrManifest, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestManifestFile_RoundTrip(t *testing.T) {
	entries := []Entry{
		{ObjectKey: "data/ks/tbl/mc-1-big-Data.db", Size: 1000},
		{ObjectKey: "data/ks/tbl/mc-1-big-Index.db", Size: 0},
		{ObjectKey: "data/ks/tbl/with space.txt", Size: 42},
		{ObjectKey: "tokens/snap1-tokens.yaml", Size: 120},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteManifestFile(&buf, entries))

	lines, err := ParseManifestFile(&buf)
	require.NoError(t, err)

	want := make([]Line, len(entries))
	for i, e := range entries {
		want[i] = Line{Size: e.Size, ObjectKey: e.ObjectKey}
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseManifestFile_Malformed(t *testing.T) {
	for _, in := range []string{"nosize\n", "abc data/x\n", "-1 data/x\n", "12 \n"} {
		_, err := ParseManifestFile(strings.NewReader(in))
		assert.ErrorIs(t, err, errdefs.ErrManifest, "%q", in)
	}
}

func TestTokenFile_RoundTrip(t *testing.T) {
	tokens := []string{"-9223372036854775808", "-3074457345618258603", "170141183460469231731687303715884105727"}
	var buf bytes.Buffer
	require.NoError(t, WriteTokenFile(&buf, tokens))
	assert.True(t, strings.HasPrefix(buf.String(), "# automatically generated by cassandra-backup\n"))

	got, err := ParseTokenFile(&buf)
	require.NoError(t, err)
	assert.Equal(t, tokens, got)
}

func TestParseTokenFile_MissingKey(t *testing.T) {
	_, err := ParseTokenFile(strings.NewReader("# only a comment\n"))
	require.Error(t, err)
}

func TestBuild_SingleTable(t *testing.T) {
	b, dataDir := newBuilder(t)
	writeFile(t, filepath.Join(dataDir, "ks", "tbl", "snapshots", "snap1", "mc-1-big-Data.db"), 1000)

	m, err := b.Build(Options{Tag: "snap1", Tokens: []string{"1", "2"}})
	require.NoError(t, err)

	entries := m.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, Entry{
		ObjectKey: "data/ks/tbl/mc-1-big-Data.db",
		LocalFile: filepath.Join(dataDir, "ks", "tbl", "snapshots", "snap1", "mc-1-big-Data.db"),
		Size:      1000,
		Type:      DataFile,
	}, entries[0])
	assert.Equal(t, "tokens/snap1-tokens.yaml", entries[1].ObjectKey)
	assert.Equal(t, TokensFile, entries[1].Type)
	assert.Equal(t, "manifests/snap1", entries[2].ObjectKey)
	assert.Equal(t, ManifestFile, entries[2].Type)

	// The staged manifest lists every preceding entry in insertion order.
	f, err := os.Open(entries[2].LocalFile)
	require.NoError(t, err)
	defer f.Close()
	lines, err := ParseManifestFile(f)
	require.NoError(t, err)
	assert.Equal(t, []Line{
		{Size: 1000, ObjectKey: entries[0].ObjectKey},
		{Size: entries[1].Size, ObjectKey: entries[1].ObjectKey},
	}, lines)

	raw, err := os.ReadFile(entries[1].LocalFile)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "initial_token: 1,2")
}

func TestBuild_MissingTag(t *testing.T) {
	b, dataDir := newBuilder(t)
	writeFile(t, filepath.Join(dataDir, "ks", "tbl", "snapshots", "other", "mc-1-big-Data.db"), 10)

	_, err := b.Build(Options{Tag: "snap1"})
	require.ErrorIs(t, err, errdefs.ErrManifest)

	m, err := b.Build(Options{Tag: "snap1", Keyspaces: []string{"ks"}})
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestBuild_NoDataComponent(t *testing.T) {
	b, dataDir := newBuilder(t)
	writeFile(t, filepath.Join(dataDir, "ks", "tbl", "snapshots", "snap1", "mc-1-big-Index.db"), 10)

	_, err := b.Build(Options{Tag: "snap1"})
	require.True(t, errors.Is(err, errdefs.ErrManifest), "got %v", err)
}

func TestBuild_KeyspaceFilterAndUniqueKeys(t *testing.T) {
	b, dataDir := newBuilder(t)
	for _, ks := range []string{"ks1", "ks2"} {
		for _, tbl := range []string{"a", "b"} {
			dir := filepath.Join(dataDir, ks, tbl, "snapshots", "snap1")
			writeFile(t, filepath.Join(dir, "mc-1-big-Data.db"), 5)
			writeFile(t, filepath.Join(dir, "mc-1-big-Index.db"), 3)
			writeFile(t, filepath.Join(dir, ".idx", "mc-1-big-Data.db"), 1)
		}
	}

	m, err := b.Build(Options{Tag: "snap1", Keyspaces: []string{"ks2"}})
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, e := range m.Entries() {
		require.False(t, seen[e.ObjectKey], "duplicate key %s", e.ObjectKey)
		seen[e.ObjectKey] = true
		assert.False(t, strings.HasPrefix(e.ObjectKey, "data/ks1/"), e.ObjectKey)
	}
	assert.True(t, seen["data/ks2/a/.idx/mc-1-big-Data.db"])
	assert.Equal(t, 2*3+2, m.Len())
}

func TestBuild_ReadsSnapshotNotLiveFiles(t *testing.T) {
	b, dataDir := newBuilder(t)
	tableDir := filepath.Join(dataDir, "ks", "tbl-5a1c395e8a1f11eb8d0e0242ac120002")
	writeFile(t, filepath.Join(tableDir, "nb-1-big-Data.db"), 7)
	writeFile(t, filepath.Join(tableDir, "snapshots", "old", "nb-0-big-Data.db"), 7)
	writeFile(t, filepath.Join(dataDir, "ks", "other", "nb-1-big-Data.db"), 7)

	m, err := b.Build(Options{Tag: "old", Keyspaces: []string{"ks"}})
	require.NoError(t, err)
	require.Equal(t, 3, m.Len())
	assert.Equal(t, "data/ks/tbl-5a1c395e8a1f11eb8d0e0242ac120002/nb-0-big-Data.db", m.Entries()[0].ObjectKey)
	assert.Equal(t, TokensFile, m.Entries()[1].Type)
}

func TestStaging_Cleanup(t *testing.T) {
	st, err := NewStaging(t.TempDir())
	require.NoError(t, err)
	p, size, err := st.Write("manifests/snap1", func(w io.Writer) error {
		_, err := w.Write([]byte("hello"))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	require.NoError(t, st.Cleanup())
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, st.Cleanup())
}

func TestCommitLogs(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "CommitLog-7-1.log")
	writeFile(t, p, 64)
	mtime := time.UnixMilli(1_700_000_000_123)
	require.NoError(t, os.Chtimes(p, mtime, mtime))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	m, err := BuildCommitLogs(dir)
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())
	e := m.Entries()[0]
	assert.Equal(t, "commitlog/1700000000123/CommitLog-7-1.log", e.ObjectKey)
	assert.Equal(t, CommitLogFile, e.Type)

	ts, name, ok := SplitCommitLogKey(e.ObjectKey)
	require.True(t, ok)
	assert.Equal(t, "CommitLog-7-1.log", name)
	assert.True(t, ts.Equal(mtime))

	_, _, ok = SplitCommitLogKey("commitlog/notanumber/x")
	assert.False(t, ok)
}

func TestSplitDataKey(t *testing.T) {
	ks, tbl, rel, ok := SplitDataKey("data/ks/tbl/.idx/f-Data.db")
	require.True(t, ok)
	assert.Equal(t, []string{"ks", "tbl", ".idx/f-Data.db"}, []string{ks, tbl, rel})

	_, _, _, ok = SplitDataKey("tokens/x")
	assert.False(t, ok)
}
