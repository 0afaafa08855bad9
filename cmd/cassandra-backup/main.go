package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/backup"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/cassandrayaml"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/config"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/location"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/logx"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/management"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/operation"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/progress"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/request"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/restore"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/secret"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/storage"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/version"

	_ "github.com/Chapsvision-dev/cassandra-backup-restore/internal/storage/azure"
	_ "github.com/Chapsvision-dev/cassandra-backup-restore/internal/storage/gcs"
	_ "github.com/Chapsvision-dev/cassandra-backup-restore/internal/storage/local"
	_ "github.com/Chapsvision-dev/cassandra-backup-restore/internal/storage/memory"
	_ "github.com/Chapsvision-dev/cassandra-backup-restore/internal/storage/minio"
	_ "github.com/Chapsvision-dev/cassandra-backup-restore/internal/storage/s3"
)

// Test seams, overridden in unit tests. Keep signatures in sync with packages.
var (
	loadConfig          func() (config.Config, error)                                                         = config.Load
	newSecrets          func(method, dir string) (secret.Store, error)                                        = secret.New
	openStorage         func(context.Context, storage.Settings, storage.Options) (*storage.Gateway, error)    = storage.Open
	newManagement       func(context.Context, config.Config, secret.Store) (management.Service, error)        = jolokiaFromConfig
	backupRun           func(context.Context, request.Backup, backup.Deps) (backup.Result, error)             = backup.Run
	commitLogBackupRun  func(context.Context, request.CommitLogBackup, backup.Deps) (backup.Result, error)    = backup.RunCommitLogs
	restoreRun          func(context.Context, request.Restore, restore.Deps) (restore.Result, error)          = restore.Run
	commitLogRestoreRun func(context.Context, request.CommitLogRestore, restore.Deps) (restore.Result, error) = restore.RunCommitLogs
	exit                func(int)                                                                             = os.Exit
)

const usage = `
Usage:
  cassandra-backup backup            [snapshotTag] [storageLocation]
  cassandra-backup restore           [snapshotTag] [storageLocation]
  cassandra-backup commitlog-backup  [storageLocation]
  cassandra-backup commitlog-restore [storageLocation]
  cassandra-backup version | --version | -v
  cassandra-backup help    | --help    | -h

Notes:
  - storageLocation is <provider>://<bucket>/<cluster>/<datacenter>/<node>,
    provider one of: azure, s3, gcs, minio, local, memory.
  - memory:// is a dry run: transfers happen in process and nothing is kept.
  - You can also set env vars: SNAPSHOT_TAG, STORAGE_LOCATION, KEYSPACES, TABLE,
    CASSANDRA_DIR, OFFLINE_SNAPSHOT, UPDATE_CASSANDRA_YAML, COMMITLOG_SINCE/UNTIL.
  - Node management goes through Jolokia: JOLOKIA_URL (default http://localhost:8778/jolokia).
  - Credentials are read from SECRET_STORE (env|file) when not set in the environment.
`

// main wires CLI -> config -> secrets -> storage/management -> operation.
// Exit codes: 0 success, 1 runtime error, 2 usage error.
func main() {
	_ = godotenv.Load() // best-effort
	logx.InitFromEnv()

	args := os.Args[1:]
	if len(args) < 1 {
		fmt.Print(usage)
		exit(2)
		return
	}
	action := strings.ToLower(args[0])

	if action == "version" || action == "--version" || action == "-v" {
		fmt.Printf("cassandra-backup %s\n", version.Info())
		exit(0)
		return
	}
	if action == "help" || action == "--help" || action == "-h" {
		fmt.Print(usage)
		exit(0)
		return
	}

	var kind operation.Kind
	switch action {
	case "backup":
		kind = operation.KindBackup
	case "restore":
		kind = operation.KindRestore
	case "commitlog-backup":
		kind = operation.KindCommitLogBackup
	case "commitlog-restore":
		kind = operation.KindCommitLogRestore
	default:
		fmt.Print(usage)
		exit(2)
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Msg("config error")
		exit(1)
		return
	}
	locArg := 2
	if kind == operation.KindBackup || kind == operation.KindRestore {
		cfg.SnapshotTag = pickArgOrEnv(2, "SNAPSHOT_TAG", cfg.SnapshotTag)
		locArg = 3
	}
	if raw := pickArgOrEnv(locArg, "STORAGE_LOCATION", ""); raw != "" {
		if cfg.Location, err = location.Parse(raw); err != nil {
			log.Error().Err(err).Msg("config error")
			exit(1)
			return
		}
	}

	secrets, err := newSecrets(cfg.SecretStore, cfg.SecretsDir)
	if err != nil {
		log.Error().Err(err).Str("secret_store", cfg.SecretStore).Msg("secret store init error")
		exit(1)
		return
	}

	ctx := withSignals(context.Background())
	reg := prometheus.NewRegistry()
	sink, err := statusSink(reg, kind)
	if err != nil {
		log.Error().Err(err).Msg("metrics init error")
		exit(1)
		return
	}
	op := operation.New(kind)
	open := storageOpener(cfg, secrets)

	err = op.Run(ctx, func(ctx context.Context) error {
		switch kind {
		case operation.KindBackup:
			svc, err := managementFor(ctx, cfg, secrets)
			if err != nil {
				return err
			}
			res, err := backupRun(ctx, request.BackupFromConfig(cfg), backup.Deps{
				Management: svc,
				Open:       open,
				Sink:       progress.Multi(op, sink),
			})
			if err != nil {
				return err
			}
			logBackup(kind, cfg, res)
		case operation.KindCommitLogBackup:
			res, err := commitLogBackupRun(ctx, request.CommitLogBackupFromConfig(cfg), backup.Deps{
				Open: open,
				Sink: progress.Multi(op, sink),
			})
			if err != nil {
				return err
			}
			logBackup(kind, cfg, res)
		case operation.KindRestore:
			res, err := restoreRun(ctx, request.RestoreFromConfig(cfg), restore.Deps{
				Open:   open,
				Tokens: cassandrayaml.Rewriter{ConfigDir: cfg.CassandraConfigDir},
				Sink:   progress.Multi(op, sink),
			})
			if err != nil {
				return err
			}
			logRestore(kind, cfg, res)
		case operation.KindCommitLogRestore:
			res, err := commitLogRestoreRun(ctx, request.CommitLogRestoreFromConfig(cfg), restore.Deps{
				Open: open,
				Sink: progress.Multi(op, sink),
			})
			if err != nil {
				return err
			}
			logRestore(kind, cfg, res)
		}
		return nil
	})
	writeMetrics(cfg.MetricsTextfile, reg)
	if err != nil {
		exit(1)
	}
}

// managementFor is only needed by online backups.
func managementFor(ctx context.Context, cfg config.Config, secrets secret.Store) (management.Service, error) {
	if cfg.OfflineSnapshot {
		return nil, nil
	}
	return newManagement(ctx, cfg, secrets)
}

func jolokiaFromConfig(ctx context.Context, cfg config.Config, secrets secret.Store) (management.Service, error) {
	password, err := secret.Lookup(ctx, secrets, "jolokia-password")
	if err != nil {
		return nil, err
	}
	return management.NewJolokiaClient(management.JolokiaOptions{
		URL:      cfg.Jolokia.URL,
		Username: cfg.Jolokia.Username,
		Password: password,
		Timeout:  cfg.Jolokia.Timeout,
		Retry:    cfg.RetryOptions(),
	}), nil
}

func storageOpener(cfg config.Config, secrets secret.Store) storage.OpenFunc {
	return func(ctx context.Context, loc location.StorageLocation, concurrency int) (*storage.Gateway, error) {
		return openStorage(ctx,
			storage.Settings{Location: loc, Config: cfg, Secrets: secrets},
			storage.Options{Concurrency: concurrency, Retry: cfg.RetryOptions()},
		)
	}
}

func statusSink(reg prometheus.Registerer, kind operation.Kind) (progress.Sink, error) {
	ps, err := progress.NewPrometheusSink(reg, string(kind))
	if err != nil {
		return nil, err
	}
	return progress.Multi(&progress.LogSink{Action: string(kind)}, ps), nil
}

func writeMetrics(path string, g prometheus.Gatherer) {
	if path == "" {
		return
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		log.Warn().Err(err).Str("file", path).Msg("failed to write metrics textfile")
	}
}

func logBackup(kind operation.Kind, cfg config.Config, res backup.Result) {
	log.Info().
		Str("action", string(kind)).
		Str("location", cfg.Location.String()).
		Str("tag", cfg.SnapshotTag).
		Int("entries", res.Entries).
		Int64("bytes", res.Bytes).
		Int64("uploaded", res.Uploaded).
		Int64("freshened", res.Freshened).
		Msg("transfer summary")
}

func logRestore(kind operation.Kind, cfg config.Config, res restore.Result) {
	log.Info().
		Str("action", string(kind)).
		Str("location", cfg.Location.String()).
		Str("tag", cfg.SnapshotTag).
		Int("files", res.Files).
		Int64("bytes", res.Bytes).
		Msg("transfer summary")
}

func pickArgOrEnv(idx int, env string, def string) string {
	if len(os.Args) > idx && os.Args[idx] != "" {
		return os.Args[idx]
	}
	if v, ok := os.LookupEnv(env); ok && v != "" {
		return v
	}
	return def
}

func withSignals(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		log.Warn().Str("action", "signal").Time("at", time.Now().UTC()).Msg("interrupted, cancelling")
		cancel()
	}()
	return ctx
}
