package manifest

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CommitLogKey returns "commitlog/<mtime unix millis>/<name>". Unchanged files
// keep their key, so a rerun only freshens them.
func CommitLogKey(modTime time.Time, name string) string {
	return path.Join(CommitLogDir, strconv.FormatInt(modTime.UnixMilli(), 10), name)
}

// SplitCommitLogKey is the inverse of CommitLogKey.
func SplitCommitLogKey(key string) (time.Time, string, bool) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 || parts[0] != CommitLogDir || parts[2] == "" || strings.Contains(parts[2], "/") {
		return time.Time{}, "", false
	}
	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, "", false
	}
	return time.UnixMilli(ms), parts[2], true
}

// BuildCommitLogs lists the archived commit-log segments in dir. A missing
// directory is reported to the caller.
func BuildCommitLogs(dir string) (*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list commit-log archive: %w", err)
	}
	m := New()
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		if err := m.Add(Entry{
			ObjectKey: CommitLogKey(info.ModTime(), e.Name()),
			LocalFile: filepath.Join(dir, e.Name()),
			Size:      info.Size(),
			Type:      CommitLogFile,
		}); err != nil {
			return nil, err
		}
	}
	return m, nil
}
