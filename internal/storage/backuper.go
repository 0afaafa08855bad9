package storage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/errdefs"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/manifest"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/progress"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/retry"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/util"
)

// MetadataSHA256 is the object metadata key holding the hex content digest.
const MetadataSHA256 = "sha256"

// UploadOrFreshenFiles sends every entry of m. An object that already exists
// remotely with the entry's size is only freshened. The first entry that
// still fails after retries stops the scheduling of new work and is returned.
func (g *Gateway) UploadOrFreshenFiles(ctx context.Context, m *manifest.Manifest, tracker *progress.Tracker) (Stats, error) {
	entries := m.Entries()
	if tracker == nil {
		tracker = progress.NewTracker(len(entries), nil)
	}
	start := time.Now()
	var uploaded, freshened atomic.Int64

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(g.opts.Concurrency)
	for _, e := range entries {
		if gctx.Err() != nil {
			break
		}
		e := e // per-iteration copy (go directive < 1.22)
		grp.Go(func() error {
			fresh, err := g.uploadOrFreshen(gctx, e)
			if err != nil {
				return err
			}
			if fresh {
				freshened.Add(1)
			} else {
				uploaded.Add(1)
			}
			tracker.Complete()
			return nil
		})
	}
	err := grp.Wait()
	stats := Stats{Uploaded: uploaded.Load(), Freshened: freshened.Load()}
	if err != nil {
		log.Error().Err(err).
			Str("action", "upload_batch").
			Str("location", g.loc.String()).
			Int64("uploaded", stats.Uploaded).
			Int64("freshened", stats.Freshened).
			Int("entries", len(entries)).
			Dur("elapsed_ms", time.Since(start)).
			Msg("upload failed")
		return stats, err
	}
	log.Info().
		Str("action", "upload_batch").
		Str("location", g.loc.String()).
		Int64("uploaded", stats.Uploaded).
		Int64("freshened", stats.Freshened).
		Int("concurrency", g.opts.Concurrency).
		Dur("elapsed_ms", time.Since(start)).
		Msg("upload OK")
	return stats, nil
}

// uploadOrFreshen reports whether the entry was only freshened.
func (g *Gateway) uploadOrFreshen(ctx context.Context, e manifest.Entry) (bool, error) {
	ref, err := g.ObjectKeyToRemoteReference(e.ObjectKey)
	if err != nil {
		return false, err
	}

	attempt := 0
	freshened := false
	err = retry.Do(ctx, g.opts.Retry, g.isRetryable, func(ctx context.Context) error {
		attempt++
		size, exists, err := g.provider.Stat(ctx, ref)
		if err != nil {
			log.Debug().Err(err).Str("action", "object_stat").Str("key", ref.CanonicalPath).
				Int("attempt", attempt).Msg("attempt failed")
			return err
		}
		if exists && size == e.Size {
			freshened = true
			return g.provider.Freshen(ctx, ref)
		}
		freshened = false

		d, err := util.FileDigest(e.LocalFile)
		if err != nil {
			return retry.Permanent(fmt.Errorf("checksum %s: %w", e.LocalFile, err))
		}
		if err := g.provider.Upload(ctx, ref, e.LocalFile, map[string]string{MetadataSHA256: d.SHA256}); err != nil {
			log.Debug().Err(err).Str("action", "object_upload").Str("key", ref.CanonicalPath).
				Int("attempt", attempt).Msg("attempt failed")
			return err
		}
		return nil
	})
	if err != nil {
		op := "upload"
		if freshened {
			op = "freshen"
		}
		return false, errdefs.Storage(op, ref.CanonicalPath, err)
	}
	log.Debug().
		Str("action", "object_upload").
		Str("key", ref.CanonicalPath).
		Bool("freshened", freshened).
		Int64("size", e.Size).
		Int("attempts", attempt).
		Msg("entry OK")
	return freshened, nil
}
