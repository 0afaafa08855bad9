package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/errdefs"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/progress"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/retry"
)

// ConsumeFiles lists every object below prefix and calls visitor once per
// object, in listing order. A native path outside the node prefix, or any
// visitor error, aborts the listing.
func (g *Gateway) ConsumeFiles(ctx context.Context, prefix RemoteObjectReference, visitor func(RemoteObjectReference) error) error {
	start := time.Now()
	listPrefix := prefix.CanonicalPath + "/"
	n := 0
	var stop error
	err := g.provider.List(ctx, listPrefix, func(native string) error {
		loc := g.anchor.FindStringIndex(native)
		if loc == nil {
			log.Error().Str("action", "consume_files").Str("native_path", native).
				Msg("listed object is outside the node prefix")
			stop = errdefs.Storage("resolve", native,
				fmt.Errorf("%w: %q does not start with /%s", errdefs.ErrResolution, native, g.loc.Prefix()))
			return stop
		}
		ref, err := g.ObjectKeyToRemoteReference(native[loc[1]:])
		if err != nil {
			log.Error().Err(err).Str("action", "consume_files").Str("native_path", native).
				Msg("cannot resolve listed object")
			stop = err
			return stop
		}
		n++
		if err := visitor(ref); err != nil {
			stop = err
			return stop
		}
		return nil
	})
	if stop != nil {
		return stop
	}
	if err != nil {
		return errdefs.Storage("list", listPrefix, err)
	}
	log.Debug().Str("action", "consume_files").Str("prefix", listPrefix).Int("objects", n).
		Dur("elapsed_ms", time.Since(start)).Msg("listing OK")
	return nil
}

// DownloadFile streams ref into localPath, creating parent directories and
// replacing any existing file.
func (g *Gateway) DownloadFile(ctx context.Context, localPath string, ref RemoteObjectReference) error {
	if dir := filepath.Dir(localPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errdefs.Storage("download", ref.CanonicalPath, err)
		}
	}
	start := time.Now()
	attempt := 0
	err := retry.Do(ctx, g.opts.Retry, g.isRetryable, func(ctx context.Context) error {
		attempt++
		return g.downloadOnce(ctx, localPath, ref, attempt)
	})
	if err != nil {
		return errdefs.Storage("download", ref.CanonicalPath, err)
	}
	log.Debug().Str("action", "object_download").Str("key", ref.CanonicalPath).Str("local", localPath).
		Int("attempts", attempt).Dur("elapsed_ms", time.Since(start)).Msg("download OK")
	return nil
}

// downloadOnce writes to a .part file and renames it over the target.
func (g *Gateway) downloadOnce(ctx context.Context, localPath string, ref RemoteObjectReference, attempt int) error {
	tmp := localPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return retry.Permanent(err)
	}
	if err := g.provider.Download(ctx, ref, out); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		log.Debug().Err(err).Str("action", "object_download").Str("key", ref.CanonicalPath).
			Int("attempt", attempt).Msg("attempt failed")
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, localPath)
}

// DownloadFiles fetches a batch with bounded parallelism; the first failure
// stops the scheduling of new downloads.
func (g *Gateway) DownloadFiles(ctx context.Context, downloads []Download, tracker *progress.Tracker) error {
	if tracker == nil {
		tracker = progress.NewTracker(len(downloads), nil)
	}
	start := time.Now()
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(g.opts.Concurrency)
	for _, d := range downloads {
		if gctx.Err() != nil {
			break
		}
		d := d // per-iteration copy (go directive < 1.22)
		grp.Go(func() error {
			if err := g.DownloadFile(gctx, d.LocalPath, d.Ref); err != nil {
				return err
			}
			tracker.Complete()
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		log.Error().Err(err).Str("action", "download_batch").Str("location", g.loc.String()).
			Int64("completed", tracker.Completed()).Int("files", len(downloads)).
			Dur("elapsed_ms", time.Since(start)).Msg("download failed")
		return err
	}
	log.Info().Str("action", "download_batch").Str("location", g.loc.String()).
		Int("files", len(downloads)).Int("concurrency", g.opts.Concurrency).
		Dur("elapsed_ms", time.Since(start)).Msg("download OK")
	return nil
}
