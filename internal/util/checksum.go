package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Digest identifies the content of a local file.
type Digest struct {
	SHA256 string
	Size   int64
}

// FileDigest hashes path in a single pass.
func FileDigest(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer func() { _ = f.Close() }()
	return ReaderDigest(f)
}

// ReaderDigest consumes r to EOF.
func ReaderDigest(r io.Reader) (Digest, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return Digest{}, err
	}
	return Digest{SHA256: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}

// Matches reports whether path still has the given digest. An empty want.SHA256
// only compares sizes.
func Matches(path string, want Digest) (bool, error) {
	if want.SHA256 == "" {
		fi, err := os.Stat(path)
		if err != nil {
			return false, err
		}
		return fi.Size() == want.Size, nil
	}
	got, err := FileDigest(path)
	if err != nil {
		return false, fmt.Errorf("digest %s: %w", path, err)
	}
	return got == want, nil
}
