// Package lock provides the host-wide lock that serializes backup and restore runs.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/errdefs"
)

// DefaultPath is used when a request does not name a lock file.
const DefaultPath = "/tmp/cassandra-backup.lock"

const (
	minPoll = 100 * time.Millisecond
	maxPoll = 2 * time.Second
)

// GlobalLock is an exclusive advisory lock on a file. One instance guards one run.
type GlobalLock struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// New returns an unacquired lock for path.
func New(path string) *GlobalLock {
	if path == "" {
		path = DefaultPath
	}
	return &GlobalLock{path: path}
}

// WaitForLock acquires the lock. With blocking=false a held lock fails
// immediately with ErrLockUnavailable; with blocking=true it polls until the
// holder releases or ctx is done.
func (l *GlobalLock) WaitForLock(ctx context.Context, blocking bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return fmt.Errorf("lock %s: already acquired by this process", l.path)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	start := time.Now()
	backoff := minPoll
	for {
		err = tryLock(f)
		if err == nil {
			l.file = f
			log.Debug().Str("action", "lock_acquire").Str("file", l.path).
				Dur("elapsed_ms", time.Since(start)).Msg("lock acquired")
			return nil
		}
		if !errors.Is(err, errWouldBlock) {
			_ = f.Close()
			return fmt.Errorf("flock %s: %w", l.path, err)
		}
		if !blocking {
			_ = f.Close()
			return fmt.Errorf("%w: %s is held by another process", errdefs.ErrLockUnavailable, l.path)
		}

		log.Debug().Str("action", "lock_wait").Str("file", l.path).Dur("backoff", backoff).Msg("lock busy, waiting")
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			_ = f.Close()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > maxPoll {
			backoff = maxPoll
		}
	}
}

// Release unlocks and closes the lock file. Releasing an unheld lock is a no-op.
func (l *GlobalLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	uerr := unlock(f)
	cerr := f.Close()
	if uerr != nil {
		return fmt.Errorf("unlock %s: %w", l.path, uerr)
	}
	if cerr != nil {
		return fmt.Errorf("close %s: %w", l.path, cerr)
	}
	log.Debug().Str("action", "lock_release").Str("file", l.path).Msg("lock released")
	return nil
}

// Acquire takes the lock at path and returns a release func that logs
// instead of failing, for use in a defer.
func Acquire(ctx context.Context, path string, blocking bool) (func(), error) {
	l := New(path)
	if err := l.WaitForLock(ctx, blocking); err != nil {
		return nil, err
	}
	return func() {
		if err := l.Release(); err != nil {
			log.Warn().Err(err).Str("action", "lock_release").Str("file", l.path).Msg("failed to release lock")
		}
	}, nil
}
