package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/errdefs"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/location"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/lock"
	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/retry"
)

type Config struct {
	// Location is empty when STORAGE_LOCATION is unset; actions that need it
	// take it from the command line instead.
	Location location.StorageLocation

	CassandraDir        string
	CassandraConfigDir  string
	SharedContainerPath string

	// Backup/restore selection
	SnapshotTag     string
	Keyspaces       []string
	Table           string
	OfflineSnapshot bool

	LockFile    string
	WaitForLock bool
	Concurrency int

	// Commit logs
	CommitLogArchiveDir  string
	CommitLogDownloadDir string
	CommitLogSince       time.Time
	CommitLogUntil       time.Time

	UpdateCassandraYaml bool

	Jolokia JolokiaConfig

	SecretStore string // "env" or "file"
	SecretsDir  string

	// MetricsTextfile, when set, receives progress gauges in the node exporter
	// textfile format at the end of every operation.
	MetricsTextfile string

	Azure AzureConfig
	S3    S3Config
	GCS   GCSConfig
	Minio MinioConfig
	Local LocalConfig

	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	RetryMultiplier   float64
	RetryEnableJitter bool
}

type JolokiaConfig struct {
	URL      string
	Username string
	Timeout  time.Duration
}

// Credentials left empty here are looked up in the secret store by the provider.
type AzureConfig struct {
	Account  string
	Endpoint string // default https://<account>.blob.core.windows.net/
	SASToken string

	ClientID     string
	ClientSecret string
	TenantID     string
}

type S3Config struct {
	Region          string
	Endpoint        string // S3-compatible endpoint override
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
}

type GCSConfig struct {
	CredentialsFile string
	Endpoint        string
	Project         string // required only to create a missing bucket
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

type LocalConfig struct {
	Root string // directory standing in for the bucket namespace
}

// Load reads config from environment variables, applies defaults and validates.
func Load() (Config, error) {
	get := func(key, def string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return def
	}

	parseInt := func(key string, def int) int {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				return n
			}
		}
		return def
	}

	parseDur := func(key string, def time.Duration) time.Duration {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			if d, err := time.ParseDuration(v); err == nil {
				return d
			}
		}
		return def
	}

	parseFloat := func(key string, def float64) float64 {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
				return f
			}
		}
		return def
	}

	parseBool := func(key string, def bool) bool {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "y", "on":
				return true
			case "0", "false", "no", "n", "off":
				return false
			}
		}
		return def
	}

	parseList := func(key string) []string {
		var out []string
		for _, s := range strings.Split(get(key, ""), ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}

	parseTime := func(key string) (time.Time, error) {
		v := strings.TrimSpace(get(key, ""))
		if v == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, errdefs.Configurationf("%s: want RFC3339 timestamp, got %q", key, v)
		}
		return t, nil
	}

	cfg := Config{
		CassandraDir:        get("CASSANDRA_DIR", "/var/lib/cassandra"),
		CassandraConfigDir:  get("CASSANDRA_CONFIG_DIR", "/etc/cassandra"),
		SharedContainerPath: get("SHARED_CONTAINER_PATH", "/"),

		SnapshotTag:     strings.TrimSpace(get("SNAPSHOT_TAG", "")),
		Keyspaces:       parseList("KEYSPACES"),
		Table:           strings.TrimSpace(get("TABLE", "")),
		OfflineSnapshot: parseBool("OFFLINE_SNAPSHOT", false),

		LockFile:    get("LOCK_FILE", lock.DefaultPath),
		WaitForLock: parseBool("WAIT_FOR_LOCK", true),
		Concurrency: parseInt("CONCURRENT_CONNECTIONS", 10),

		CommitLogArchiveDir:  get("COMMITLOG_ARCHIVE_DIR", ""),
		CommitLogDownloadDir: get("COMMITLOG_DOWNLOAD_DIR", ""),

		UpdateCassandraYaml: parseBool("UPDATE_CASSANDRA_YAML", false),

		Jolokia: JolokiaConfig{
			URL:      get("JOLOKIA_URL", "http://localhost:8778/jolokia"),
			Username: get("JOLOKIA_USER", ""),
			Timeout:  parseDur("JOLOKIA_TIMEOUT", 10*time.Minute),
		},

		SecretStore: strings.ToLower(get("SECRET_STORE", "env")),
		SecretsDir:  get("SECRETS_DIR", "/var/run/secrets/cassandra-backup"),

		MetricsTextfile: get("METRICS_TEXTFILE", ""),

		Azure: AzureConfig{
			Account:      get("AZURE_STORAGE_ACCOUNT", ""),
			Endpoint:     get("AZURE_BLOB_ENDPOINT", ""),
			SASToken:     get("AZURE_STORAGE_SAS", ""),
			ClientID:     get("AZURE_CLIENT_ID", ""),
			ClientSecret: get("AZURE_CLIENT_SECRET", ""),
			TenantID:     get("AZURE_TENANT_ID", ""),
		},
		S3: S3Config{
			Region:          get("S3_REGION", ""),
			Endpoint:        get("S3_ENDPOINT", ""),
			Profile:         get("S3_PROFILE", ""),
			AccessKeyID:     get("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: get("S3_SECRET_ACCESS_KEY", ""),
			PathStyle:       parseBool("S3_PATH_STYLE", false),
		},
		GCS: GCSConfig{
			CredentialsFile: get("GCS_CREDENTIALS_FILE", ""),
			Endpoint:        get("GCS_ENDPOINT", ""),
			Project:         get("GCS_PROJECT", ""),
		},
		Minio: MinioConfig{
			Endpoint:  get("MINIO_ENDPOINT", ""),
			AccessKey: get("MINIO_ACCESS_KEY", ""),
			SecretKey: get("MINIO_SECRET_KEY", ""),
			Region:    get("MINIO_REGION", ""),
			UseSSL:    parseBool("MINIO_USE_SSL", true),
		},
		Local: LocalConfig{
			Root: get("LOCAL_ROOT", ""),
		},

		RetryMaxAttempts:  parseInt("RETRY_MAX_ATTEMPTS", retry.Default.MaxAttempts),
		RetryInitialDelay: parseDur("RETRY_INITIAL_DELAY", retry.Default.InitialDelay),
		RetryMaxDelay:     parseDur("RETRY_MAX_DELAY", retry.Default.MaxDelay),
		RetryMultiplier:   parseFloat("RETRY_MULTIPLIER", retry.Default.Multiplier),
		RetryEnableJitter: parseBool("RETRY_JITTER", retry.Default.Jitter),
	}

	if raw := strings.TrimSpace(get("STORAGE_LOCATION", "")); raw != "" {
		loc, err := location.Parse(raw)
		if err != nil {
			return Config{}, err
		}
		cfg.Location = loc
	}

	var err error
	if cfg.CommitLogSince, err = parseTime("COMMITLOG_SINCE"); err != nil {
		return Config{}, err
	}
	if cfg.CommitLogUntil, err = parseTime("COMMITLOG_UNTIL"); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate checks cross-field requirements; provider credentials are checked
// when the provider is built.
func (c *Config) validate() error {
	if c.Concurrency <= 0 {
		return errdefs.Configurationf("CONCURRENT_CONNECTIONS must be positive")
	}
	if strings.TrimSpace(c.CassandraDir) == "" {
		return errdefs.Configurationf("CASSANDRA_DIR must not be empty")
	}
	if c.Table != "" && len(c.Keyspaces) != 1 {
		return errdefs.Configurationf("TABLE requires exactly one keyspace in KEYSPACES")
	}
	if !c.CommitLogSince.IsZero() && !c.CommitLogUntil.IsZero() && c.CommitLogUntil.Before(c.CommitLogSince) {
		return errdefs.Configurationf("COMMITLOG_UNTIL is before COMMITLOG_SINCE")
	}
	switch c.SecretStore {
	case "env", "file":
	default:
		return errdefs.Configurationf("unsupported SECRET_STORE %q", c.SecretStore)
	}
	return nil
}

// RetryOptions converts retry-related config values to retry.Options.
func (c Config) RetryOptions() retry.Options {
	return retry.Options{
		MaxAttempts:  c.RetryMaxAttempts,
		InitialDelay: c.RetryInitialDelay,
		MaxDelay:     c.RetryMaxDelay,
		Multiplier:   c.RetryMultiplier,
		Jitter:       c.RetryEnableJitter,
	}
}
