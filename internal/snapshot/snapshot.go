// Package snapshot brackets a backup with a node snapshot: Take before the
// manifest is built, Clear once the upload is over.
package snapshot

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/errdefs"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/management"
)

// Snapshot identifies what was taken.
type Snapshot struct {
	Tag       string
	Keyspaces []string
	Table     string
}

// Coordinator takes one snapshot and clears it at most once.
type Coordinator struct {
	svc          management.Service
	clearTimeout time.Duration

	mu    sync.Mutex
	snap  *Snapshot
	clear sync.Once
}

// New returns a coordinator bound to svc.
func New(svc management.Service) *Coordinator {
	return &Coordinator{svc: svc, clearTimeout: 2 * time.Minute}
}

// Take snapshots keyspaces under tag. A table filter needs exactly one keyspace.
func (c *Coordinator) Take(ctx context.Context, keyspaces []string, tag, table string) (Snapshot, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return Snapshot{}, errdefs.Configurationf("snapshot tag is required")
	}
	if table != "" && len(keyspaces) != 1 {
		return Snapshot{}, errdefs.Configurationf("table %q requires exactly one keyspace, got %d", table, len(keyspaces))
	}

	snap := Snapshot{Tag: tag, Keyspaces: append([]string(nil), keyspaces...), Table: table}
	// Recorded before the call: a failed take may still leave a partial snapshot.
	c.mu.Lock()
	c.snap = &snap
	c.mu.Unlock()

	start := time.Now()
	log.Info().
		Str("action", "snapshot_take").
		Str("tag", tag).
		Strs("keyspaces", keyspaces).
		Str("table", table).
		Msg("starting snapshot")
	if err := c.svc.TakeSnapshot(ctx, keyspaces, tag, table); err != nil {
		log.Error().
			Err(err).
			Str("action", "snapshot_take").
			Str("tag", tag).
			Dur("elapsed_ms", time.Since(start)).
			Msg("snapshot failed")
		return Snapshot{}, err
	}
	log.Info().
		Str("action", "snapshot_take").
		Str("tag", tag).
		Dur("elapsed_ms", time.Since(start)).
		Msg("snapshot OK")
	return snap, nil
}

// Clear removes the snapshot taken by Take. Failures are logged, never
// returned; calls after the first are no-ops. Clear still runs when ctx is
// already canceled.
func (c *Coordinator) Clear(ctx context.Context) {
	c.clear.Do(func() {
		c.mu.Lock()
		snap := c.snap
		c.mu.Unlock()
		if snap == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.clearTimeout)
		defer cancel()

		start := time.Now()
		if err := c.svc.ClearSnapshot(ctx, snap.Tag); err != nil {
			log.Warn().
				Err(err).
				Str("action", "snapshot_clear").
				Str("tag", snap.Tag).
				Dur("elapsed_ms", time.Since(start)).
				Msg("snapshot clear failed, leaving it in place")
			return
		}
		log.Info().
			Str("action", "snapshot_clear").
			Str("tag", snap.Tag).
			Dur("elapsed_ms", time.Since(start)).
			Msg("snapshot clear OK")
	})
}
