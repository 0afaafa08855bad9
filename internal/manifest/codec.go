package manifest

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/errdefs"
)

// Line is one record of a manifest file.
type Line struct {
	Size      int64
	ObjectKey string
}

// WriteManifestFile writes "<size> <objectKey>" per entry, in order.
func WriteManifestFile(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		if _, err := fmt.Fprintf(bw, "%d %s\n", e.Size, e.ObjectKey); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ParseManifestFile reads a manifest file back into its ordered lines.
func ParseManifestFile(r io.Reader) ([]Line, error) {
	var out []Line
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		text := strings.TrimRight(sc.Text(), "\r")
		if text == "" {
			continue
		}
		sizeStr, key, found := strings.Cut(text, " ")
		if !found || key == "" {
			return nil, errdefs.Manifestf("manifest line %d: want \"<size> <key>\", got %q", n, text)
		}
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil || size < 0 {
			return nil, errdefs.Manifestf("manifest line %d: bad size %q", n, sizeStr)
		}
		out = append(out, Line{Size: size, ObjectKey: key})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return out, nil
}

const initialTokenKey = "initial_token:"

// WriteTokenFile writes the ring tokens in cassandra.yaml syntax.
func WriteTokenFile(w io.Writer, tokens []string) error {
	_, err := fmt.Fprintf(w,
		"# automatically generated by cassandra-backup\n"+
			"# add the following to cassandra.yaml when restoring to a new cluster.\n"+
			"%s %s\n", initialTokenKey, strings.Join(tokens, ","))
	return err
}

// ParseTokenFile returns the tokens of a token file. Comment lines are skipped.
// Tokens are kept verbatim: RandomPartitioner tokens do not fit in int64.
func ParseTokenFile(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, initialTokenKey) {
			continue
		}
		value := strings.Trim(strings.TrimSpace(strings.TrimPrefix(line, initialTokenKey)), `"'`)
		if value == "" {
			return nil, nil
		}
		var tokens []string
		for _, t := range strings.Split(value, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tokens = append(tokens, t)
			}
		}
		return tokens, nil
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	return nil, fmt.Errorf("token file: no %q line", strings.TrimSuffix(initialTokenKey, ":"))
}
