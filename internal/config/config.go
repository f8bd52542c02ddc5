// Package config loads device configuration from a YAML file, the
// environment, and built-in defaults, in ascending precedence order of
// defaults, file, then P360_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides. A config
// key like sync.interval binds to P360_SYNC_INTERVAL.
const EnvPrefix = "P360"

// DefaultFileName is the config file name looked up under the data dir
// when no explicit path is given.
const DefaultFileName = "config.yaml"

// Config holds every tunable the device daemon and CLI read.
type Config struct {
	// ServerURL is the base URL of the Poultry360 backend. Empty means
	// the device runs purely offline.
	ServerURL string

	// APIKey authenticates this device against the backend.
	APIKey string

	// OrganizationID scopes every row and every API call. Zero means
	// no organization is configured yet.
	OrganizationID int64

	// DataDir is the root directory for the database, drop files and
	// config file.
	DataDir string

	// DBPath is the SQLite database file. Defaults to
	// <DataDir>/poultry360.db.
	DBPath string

	// DropDir is watched for exported drop files. Defaults to
	// <DataDir>/drops.
	DropDir string

	// LogFile receives daemon logs. Empty logs to stderr.
	LogFile string

	// SyncInterval is the periodic sync cadence of the daemon.
	SyncInterval time.Duration

	// DebounceInterval is how long the daemon waits after the last
	// write to a drop file before ingesting it.
	DebounceInterval time.Duration

	// SyncTimeout bounds one sync session end to end.
	SyncTimeout time.Duration

	// MaxRetries is the number of retries after a failed sync.
	MaxRetries int

	// RetryDelay is the delay before the first retry. Subsequent
	// delays grow by BackoffMultiplier.
	RetryDelay time.Duration

	// BackoffMultiplier scales the retry delay after each attempt.
	BackoffMultiplier float64

	// BreakerThreshold is the consecutive failure count that opens the
	// sync circuit breaker.
	BreakerThreshold int

	// BreakerTimeout is how long the breaker stays open before
	// allowing a trial sync.
	BreakerTimeout time.Duration

	// CacheTTL is the freshness window for cached analytics.
	CacheTTL time.Duration

	// ProbeTimeout bounds the connectivity probe request.
	ProbeTimeout time.Duration

	// DashboardPort is the WebSocket monitor port.
	DashboardPort int
}

// Default returns the built-in configuration.
func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		DataDir:           dataDir,
		DBPath:            filepath.Join(dataDir, "poultry360.db"),
		DropDir:           filepath.Join(dataDir, "drops"),
		SyncInterval:      5 * time.Minute,
		DebounceInterval:  500 * time.Millisecond,
		SyncTimeout:       30 * time.Second,
		MaxRetries:        3,
		RetryDelay:        time.Second,
		BackoffMultiplier: 2.0,
		BreakerThreshold:  5,
		BreakerTimeout:    60 * time.Second,
		CacheTTL:          30 * time.Minute,
		ProbeTimeout:      5 * time.Second,
		DashboardPort:     7360,
	}
}

// Load reads configuration from path, the environment, and defaults.
// An empty path means <DataDir>/config.yaml; a missing file at the
// default location is not an error, a missing explicit file is.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	explicit := path != ""
	if !explicit {
		path = filepath.Join(v.GetString("data.dir"), DefaultFileName)
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		// A missing file at the default location just means the device
		// has never been configured; an explicit path must exist.
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		ServerURL:         v.GetString("server.url"),
		APIKey:            v.GetString("server.api_key"),
		OrganizationID:    v.GetInt64("organization.id"),
		DataDir:           v.GetString("data.dir"),
		DBPath:            v.GetString("data.db"),
		DropDir:           v.GetString("data.drop_dir"),
		LogFile:           v.GetString("log.file"),
		SyncInterval:      v.GetDuration("sync.interval"),
		DebounceInterval:  v.GetDuration("sync.debounce"),
		SyncTimeout:       v.GetDuration("sync.timeout"),
		MaxRetries:        v.GetInt("sync.max_retries"),
		RetryDelay:        v.GetDuration("sync.retry_delay"),
		BackoffMultiplier: v.GetFloat64("sync.backoff_multiplier"),
		BreakerThreshold:  v.GetInt("breaker.threshold"),
		BreakerTimeout:    v.GetDuration("breaker.timeout"),
		CacheTTL:          v.GetDuration("cache.ttl"),
		ProbeTimeout:      v.GetDuration("probe.timeout"),
		DashboardPort:     v.GetInt("dashboard.port"),
	}

	// Paths left empty follow the resolved data dir.
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "poultry360.db")
	}
	if cfg.DropDir == "" {
		cfg.DropDir = filepath.Join(cfg.DataDir, "drops")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.url", "")
	v.SetDefault("server.api_key", "")
	v.SetDefault("organization.id", 0)
	v.SetDefault("data.dir", d.DataDir)
	v.SetDefault("data.db", "")
	v.SetDefault("data.drop_dir", "")
	v.SetDefault("log.file", "")
	v.SetDefault("sync.interval", d.SyncInterval)
	v.SetDefault("sync.debounce", d.DebounceInterval)
	v.SetDefault("sync.timeout", d.SyncTimeout)
	v.SetDefault("sync.max_retries", d.MaxRetries)
	v.SetDefault("sync.retry_delay", d.RetryDelay)
	v.SetDefault("sync.backoff_multiplier", d.BackoffMultiplier)
	v.SetDefault("breaker.threshold", d.BreakerThreshold)
	v.SetDefault("breaker.timeout", d.BreakerTimeout)
	v.SetDefault("cache.ttl", d.CacheTTL)
	v.SetDefault("probe.timeout", d.ProbeTimeout)
	v.SetDefault("dashboard.port", d.DashboardPort)
}

// Validate checks the loaded values for internal consistency.
func (c *Config) Validate() error {
	if c.ServerURL != "" {
		u, err := url.Parse(c.ServerURL)
		if err != nil {
			return fmt.Errorf("invalid server URL %q: %w", c.ServerURL, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("server URL %q must use http or https", c.ServerURL)
		}
	}
	if c.OrganizationID < 0 {
		return fmt.Errorf("organization id cannot be negative, got %d", c.OrganizationID)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir cannot be empty")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync interval must be positive, got %v", c.SyncInterval)
	}
	if c.DebounceInterval <= 0 {
		return fmt.Errorf("debounce interval must be positive, got %v", c.DebounceInterval)
	}
	if c.SyncTimeout <= 0 {
		return fmt.Errorf("sync timeout must be positive, got %v", c.SyncTimeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative, got %d", c.MaxRetries)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff multiplier must be at least 1, got %v", c.BackoffMultiplier)
	}
	if c.BreakerThreshold <= 0 {
		return fmt.Errorf("breaker threshold must be positive, got %d", c.BreakerThreshold)
	}
	if c.BreakerTimeout <= 0 {
		return fmt.Errorf("breaker timeout must be positive, got %v", c.BreakerTimeout)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %v", c.CacheTTL)
	}
	if c.DashboardPort < 0 || c.DashboardPort > 65535 {
		return fmt.Errorf("dashboard port out of range, got %d", c.DashboardPort)
	}
	return nil
}

// ConfigPath returns the path the config file lives at for this data dir.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.DataDir, DefaultFileName)
}

// WriteDefault writes a commented starter config to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(defaultTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Write persists cfg to path as YAML, replacing any existing file. Used
// by the setup wizard and the org commands.
func Write(c *Config, path string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	content := fmt.Sprintf(writeTemplate,
		c.ServerURL, c.APIKey,
		c.OrganizationID,
		c.DataDir, c.DBPath, c.DropDir,
		c.LogFile,
		c.SyncInterval, c.DebounceInterval, c.SyncTimeout,
		c.MaxRetries, c.RetryDelay, c.BackoffMultiplier,
		c.BreakerThreshold, c.BreakerTimeout,
		c.CacheTTL,
		c.ProbeTimeout,
		c.DashboardPort,
	)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// writeTemplate renders a full config. Every value is written out so the
// file survives round trips through Load unchanged.
const writeTemplate = `# Poultry360 device configuration.
# Written by p360; edit freely or override with P360_* env vars.

server:
  url: %q
  api_key: %q

organization:
  id: %d

data:
  dir: %q
  db: %q
  drop_dir: %q

log:
  file: %q

sync:
  interval: %s
  debounce: %s
  timeout: %s
  max_retries: %d
  retry_delay: %s
  backoff_multiplier: %g

breaker:
  threshold: %d
  timeout: %s

cache:
  ttl: %s

probe:
  timeout: %s

dashboard:
  port: %d
`

// defaultTemplate is the starter config. Values here must stay in step
// with Default so a freshly written file loads back unchanged.
const defaultTemplate = `# Poultry360 device configuration.
#
# Environment variables with the P360_ prefix override any value here,
# e.g. P360_SYNC_INTERVAL=10m or P360_ORGANIZATION_ID=42.

server:
  # Backend base URL. Leave empty to run fully offline.
  url: ""
  api_key: ""

organization:
  # Tenant id every local row is scoped to. Set by "p360 setup".
  id: 0

data: {}
  # dir: /path/to/data          # database, drop files and this config
  # db: /path/to/poultry360.db  # defaults to <dir>/poultry360.db
  # drop_dir: /path/to/drops    # defaults to <dir>/drops

log:
  # Daemon log file. Empty logs to stderr.
  file: ""

sync:
  interval: 5m
  debounce: 500ms
  timeout: 30s
  max_retries: 3
  retry_delay: 1s
  backoff_multiplier: 2.0

breaker:
  threshold: 5
  timeout: 60s

cache:
  ttl: 30m

probe:
  timeout: 5s

dashboard:
  port: 7360
`

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".poultry360"
	}
	return filepath.Join(home, ".poultry360")
}
