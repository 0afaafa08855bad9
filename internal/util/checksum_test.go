package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDigest(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nb-1-big-Data.db")
	require.NoError(t, os.WriteFile(p, []byte("abc"), 0o644))

	d, err := FileDigest(p)
	require.NoError(t, err)
	assert.Equal(t, Digest{
		SHA256: "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		Size:   3,
	}, d)

	r, err := ReaderDigest(strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, d, r)
}

func TestMatches(t *testing.T) {
	p := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(p, []byte("abc"), 0o644))
	d, err := FileDigest(p)
	require.NoError(t, err)

	ok, err := Matches(p, d)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Matches(p, Digest{Size: 3})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Matches(p, Digest{SHA256: d.SHA256, Size: 4})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = FileDigest(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
