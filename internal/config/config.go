package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete foreman configuration
type Config struct {
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// CoordinatorConfig controls the worker pool
type CoordinatorConfig struct {
	// MaxWorkers is the number of worker slots (default: 3)
	MaxWorkers int `mapstructure:"max_workers"`
	// WorkOrdersPath is the directory holding controller state and work
	// orders. Relative paths resolve against the working directory.
	WorkOrdersPath string `mapstructure:"work_orders_path"`
	// DistributedLock configures cross-instance locking
	DistributedLock DistributedLockConfig `mapstructure:"distributed_lock"`
	// Metrics configures the metrics collector
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// DistributedLockConfig controls the lock-protected coordinator operations
type DistributedLockConfig struct {
	// Enabled turns on locking. When false, the WithLock variants run unlocked.
	Enabled bool `mapstructure:"enabled"`
	// Backend is the lock store: "memory", "redis", "nats" or "file"
	Backend string `mapstructure:"backend"`
	// LockName scopes the coordinator lock; instances sharing a project must agree
	LockName string `mapstructure:"lock_name"`
	// LockTimeoutMs is how long acquisition retries before giving up
	LockTimeoutMs int `mapstructure:"lock_timeout_ms"`
	// LockTTLMs is the lock lease duration
	LockTTLMs int `mapstructure:"lock_ttl_ms"`
	// LockRetryAttempts caps acquisition attempts (0 = bounded by timeout only)
	LockRetryAttempts int `mapstructure:"lock_retry_attempts"`
	// LockRetryDelayMs is the wait between attempts
	LockRetryDelayMs int `mapstructure:"lock_retry_delay_ms"`
	// HolderIDPrefix prefixes the per-process holder ID
	HolderIDPrefix string `mapstructure:"holder_id_prefix"`
	// RedisAddr is host:port of the Redis server (backend "redis")
	RedisAddr string `mapstructure:"redis_addr"`
	// NATSURL is the NATS server URL (backend "nats")
	NATSURL string `mapstructure:"nats_url"`
	// NATSBucket is the JetStream key-value bucket holding locks
	NATSBucket string `mapstructure:"nats_bucket"`
}

// MetricsConfig controls the metrics collector
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// MaxCompletionRecords bounds the completion history kept in memory
	MaxCompletionRecords int `mapstructure:"max_completion_records"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	// Backend is "file" (JSON files under work_orders_path) or "sqlite"
	Backend string `mapstructure:"backend"`
	// SQLitePath is the database file; empty means {work_orders_path}/foreman.db
	SQLitePath string `mapstructure:"sqlite_path"`
}

// MonitorConfig controls the progress monitor
type MonitorConfig struct {
	// PollingIntervalMs is the time between polls (default: 5000)
	PollingIntervalMs int `mapstructure:"polling_interval_ms"`
	// StuckWorkerThresholdMs is how long a worker may hold one issue before
	// it is reported as stuck (default: 30 minutes)
	StuckWorkerThresholdMs int `mapstructure:"stuck_worker_threshold_ms"`
	// MaxRecentActivities bounds the activity log
	MaxRecentActivities int `mapstructure:"max_recent_activities"`
	// ReportPath is the directory reports are saved to
	ReportPath string `mapstructure:"report_path"`
	// TotalIssues fixes the denominator for the completion percentage (0 = derived)
	TotalIssues int `mapstructure:"total_issues"`
	// EnableNotifications sends newly detected bottlenecks to Slack
	EnableNotifications bool `mapstructure:"enable_notifications"`
	// SlackWebhookURL is the incoming webhook notifications are posted to
	SlackWebhookURL string `mapstructure:"slack_webhook_url"`
	// SlackChannel overrides the webhook's default channel
	SlackChannel string `mapstructure:"slack_channel"`
}

// LoggingConfig controls debug logging
type LoggingConfig struct {
	// Enabled writes logs to {work_orders_path}/foreman.log
	Enabled bool `mapstructure:"enabled"`
	// Level is the minimum level: "debug", "info", "warn" or "error"
	Level string `mapstructure:"level"`
}

// Lock backends
const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
	LockBackendNATS   = "nats"
	LockBackendFile   = "file"
)

// Storage backends
const (
	StorageBackendFile   = "file"
	StorageBackendSQLite = "sqlite"
)

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Coordinator: CoordinatorConfig{
			MaxWorkers:     3,
			WorkOrdersPath: ".foreman",
			DistributedLock: DistributedLockConfig{
				Enabled:           false,
				Backend:           LockBackendMemory,
				LockName:          "default",
				LockTimeoutMs:     5000,
				LockTTLMs:         30000,
				LockRetryAttempts: 50,
				LockRetryDelayMs:  100,
				HolderIDPrefix:    "foreman",
				RedisAddr:         "",
				NATSURL:           "",
				NATSBucket:        "foreman_locks",
			},
			Metrics: MetricsConfig{
				Enabled:              true,
				MaxCompletionRecords: 1000,
			},
		},
		Storage: StorageConfig{
			Backend:    StorageBackendFile,
			SQLitePath: "",
		},
		Monitor: MonitorConfig{
			PollingIntervalMs:      5000,
			StuckWorkerThresholdMs: 30 * 60 * 1000,
			MaxRecentActivities:    50,
			ReportPath:             ".foreman/reports",
			TotalIssues:            0,
			EnableNotifications:    false,
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
	}
}

// LockTimeout returns the acquisition timeout as a time.Duration
func (c *DistributedLockConfig) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMs) * time.Millisecond
}

// LockTTL returns the lease duration as a time.Duration
func (c *DistributedLockConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMs) * time.Millisecond
}

// LockRetryDelay returns the retry interval as a time.Duration
func (c *DistributedLockConfig) LockRetryDelay() time.Duration {
	return time.Duration(c.LockRetryDelayMs) * time.Millisecond
}

// PollingInterval returns the polling interval as a time.Duration
func (c *MonitorConfig) PollingInterval() time.Duration {
	return time.Duration(c.PollingIntervalMs) * time.Millisecond
}

// StuckWorkerThreshold returns the stuck threshold as a time.Duration
func (c *MonitorConfig) StuckWorkerThreshold() time.Duration {
	return time.Duration(c.StuckWorkerThresholdMs) * time.Millisecond
}

// ResolveWorkOrdersPath returns the absolute state directory.
// Relative paths are resolved against baseDir and "~" expands to the home directory.
func (c *CoordinatorConfig) ResolveWorkOrdersPath(baseDir string) string {
	return resolvePath(c.WorkOrdersPath, ".foreman", baseDir)
}

// ResolveReportPath returns the absolute report directory.
func (c *MonitorConfig) ResolveReportPath(baseDir string) string {
	return resolvePath(c.ReportPath, filepath.Join(".foreman", "reports"), baseDir)
}

// ResolveSQLitePath returns the database file, defaulting to
// {stateDir}/foreman.db.
func (c *StorageConfig) ResolveSQLitePath(stateDir string) string {
	if c.SQLitePath == "" {
		return filepath.Join(stateDir, "foreman.db")
	}
	return resolvePath(c.SQLitePath, "foreman.db", stateDir)
}

func resolvePath(path, fallback, baseDir string) string {
	if path == "" {
		path = fallback
	}

	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return path
}

// SetDefaults registers default values with viper
func SetDefaults() {
	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	defaults := Default()

	// Coordinator defaults
	v.SetDefault("coordinator.max_workers", defaults.Coordinator.MaxWorkers)
	v.SetDefault("coordinator.work_orders_path", defaults.Coordinator.WorkOrdersPath)

	lock := defaults.Coordinator.DistributedLock
	v.SetDefault("coordinator.distributed_lock.enabled", lock.Enabled)
	v.SetDefault("coordinator.distributed_lock.backend", lock.Backend)
	v.SetDefault("coordinator.distributed_lock.lock_name", lock.LockName)
	v.SetDefault("coordinator.distributed_lock.lock_timeout_ms", lock.LockTimeoutMs)
	v.SetDefault("coordinator.distributed_lock.lock_ttl_ms", lock.LockTTLMs)
	v.SetDefault("coordinator.distributed_lock.lock_retry_attempts", lock.LockRetryAttempts)
	v.SetDefault("coordinator.distributed_lock.lock_retry_delay_ms", lock.LockRetryDelayMs)
	v.SetDefault("coordinator.distributed_lock.holder_id_prefix", lock.HolderIDPrefix)
	v.SetDefault("coordinator.distributed_lock.redis_addr", lock.RedisAddr)
	v.SetDefault("coordinator.distributed_lock.nats_url", lock.NATSURL)
	v.SetDefault("coordinator.distributed_lock.nats_bucket", lock.NATSBucket)

	v.SetDefault("coordinator.metrics.enabled", defaults.Coordinator.Metrics.Enabled)
	v.SetDefault("coordinator.metrics.max_completion_records", defaults.Coordinator.Metrics.MaxCompletionRecords)

	// Storage defaults
	v.SetDefault("storage.backend", defaults.Storage.Backend)
	v.SetDefault("storage.sqlite_path", defaults.Storage.SQLitePath)

	// Monitor defaults
	v.SetDefault("monitor.polling_interval_ms", defaults.Monitor.PollingIntervalMs)
	v.SetDefault("monitor.stuck_worker_threshold_ms", defaults.Monitor.StuckWorkerThresholdMs)
	v.SetDefault("monitor.max_recent_activities", defaults.Monitor.MaxRecentActivities)
	v.SetDefault("monitor.report_path", defaults.Monitor.ReportPath)
	v.SetDefault("monitor.total_issues", defaults.Monitor.TotalIssues)
	v.SetDefault("monitor.enable_notifications", defaults.Monitor.EnableNotifications)
	v.SetDefault("monitor.slack_webhook_url", defaults.Monitor.SlackWebhookURL)
	v.SetDefault("monitor.slack_channel", defaults.Monitor.SlackChannel)

	// Logging defaults
	v.SetDefault("logging.enabled", defaults.Logging.Enabled)
	v.SetDefault("logging.level", defaults.Logging.Level)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load against a specific viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "foreman")
	}
	// Fall back to ~/.config/foreman
	home, err := os.UserHomeDir()
	if err != nil {
		return ".foreman"
	}
	return filepath.Join(home, ".config", "foreman")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// EnvPrefix is the prefix for environment variable overrides, e.g.
// FOREMAN_COORDINATOR_MAX_WORKERS.
const EnvPrefix = "FOREMAN"

// NewViper returns a viper instance with defaults registered and
// environment overrides bound.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	BindEnv(v)
	return v
}

// BindEnv enables FOREMAN_-prefixed environment overrides on v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}
