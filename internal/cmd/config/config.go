// Package config provides CLI commands for managing foreman configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	appconfig "github.com/Iron-Ham/foreman/internal/config"
)

// Source is the root command's view of the shared settings.
type Source interface {
	Viper() *viper.Viper
	// ReadConfig reads the config file without validating it, so that
	// validate and init work against a broken file.
	ReadConfig() error
}

// Register adds the config command group to parent.
func Register(parent *cobra.Command, src Source) {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "View or modify foreman configuration",
		Long: `View or modify foreman configuration.

Settings are merged from defaults, the config file, FOREMAN_* environment
variables and command-line flags, in increasing order of precedence.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return src.ReadConfig()
		},
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd.OutOrStdout(), src.Viper())
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the config file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPath(cmd.OutOrStdout(), src.Viper())
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the effective configuration for errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := appconfig.LoadFrom(src.Viper()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
			return nil
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default config file",
		Long:  `Create a default config file at ~/.config/foreman/config.yaml with all available options.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.OutOrStdout(), appconfig.ConfigFile(), force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	configCmd.AddCommand(initCmd)

	configCmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration value in the config file.

Keys use dot notation, e.g.:
  foreman config set coordinator.max_workers 5
  foreman config set coordinator.distributed_lock.backend redis
  foreman config set monitor.enable_notifications true

The value is converted to the type of the key's default, and the resulting
file must pass validation before it is written.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := src.Viper().ConfigFileUsed()
			if target == "" {
				target = appconfig.ConfigFile()
			}
			return runSet(cmd.OutOrStdout(), target, args[0], args[1])
		},
	})

	parent.AddCommand(configCmd)
}

func runShow(w io.Writer, v *viper.Viper) error {
	if used := v.ConfigFileUsed(); used != "" {
		fmt.Fprintf(w, "# Config file: %s\n", used)
	} else {
		fmt.Fprintln(w, "# Config file: (none - using defaults)")
	}

	out, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = w.Write(out)
	return err
}

func runPath(w io.Writer, v *viper.Viper) error {
	if used := v.ConfigFileUsed(); used != "" {
		fmt.Fprintf(w, "Config file: %s\n", used)
		return nil
	}
	fmt.Fprintln(w, "No config file found. Foreman searches:")
	fmt.Fprintf(w, "  1. %s\n", appconfig.ConfigFile())
	fmt.Fprintln(w, "  2. ./config.yaml (current directory)")
	fmt.Fprintln(w, "\nRun 'foreman config init' to create one.")
	return nil
}

func runInit(w io.Writer, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s\nUse 'foreman config set' to modify values or --force to overwrite", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigFile), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	fmt.Fprintf(w, "Created config file at %s\n", path)
	return nil
}

func runSet(w io.Writer, path, key, raw string) error {
	defaults := appconfig.NewViper()
	if !slices.Contains(defaults.AllKeys(), key) {
		return fmt.Errorf("unknown configuration key: %s\nRun 'foreman config show' to see valid keys", key)
	}
	value, err := convertValue(defaults.Get(key), raw)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	file := viper.New()
	file.SetConfigFile(path)
	file.SetConfigType("yaml")
	if err := file.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
	file.Set(key, value)

	check := appconfig.NewViper()
	if err := check.MergeConfigMap(file.AllSettings()); err != nil {
		return err
	}
	if _, err := appconfig.LoadFrom(check); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := file.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	fmt.Fprintf(w, "Set %s = %v\n", key, value)
	return nil
}

// convertValue parses raw into the type of the key's default value.
func convertValue(def any, raw string) (any, error) {
	switch def.(type) {
	case bool:
		return strconv.ParseBool(raw)
	case int:
		return strconv.Atoi(raw)
	default:
		return raw, nil
	}
}

const defaultConfigFile = `# Foreman configuration
# Environment variables override these values, e.g.
# FOREMAN_COORDINATOR_MAX_WORKERS=5

coordinator:
  # Number of worker slots in the pool
  max_workers: 3
  # Directory holding controller_state.json and work_orders/
  work_orders_path: .foreman

  # Cross-process lock around every state mutation
  distributed_lock:
    enabled: false
    # Options: memory, redis, nats, file
    # file shares leases through the state directory (one host only)
    backend: memory
    lock_name: default
    lock_timeout_ms: 5000
    lock_ttl_ms: 30000
    lock_retry_attempts: 50
    lock_retry_delay_ms: 100
    holder_id_prefix: foreman
    # Required when backend is redis
    redis_addr: ""
    # Required when backend is nats
    nats_url: ""
    nats_bucket: foreman_locks

  # In-process coordinator metrics
  metrics:
    enabled: true
    max_completion_records: 1000

storage:
  # Options: file, sqlite
  backend: file
  # Defaults to <work_orders_path>/foreman.db
  sqlite_path: ""

monitor:
  polling_interval_ms: 5000
  # Workers busy longer than this are reported as stuck (30 minutes)
  stuck_worker_threshold_ms: 1800000
  max_recent_activities: 50
  report_path: .foreman/reports
  # Planned number of issues; 0 derives it from the pool
  total_issues: 0
  # Post new bottlenecks to a Slack incoming webhook
  enable_notifications: false
  slack_webhook_url: ""
  slack_channel: ""

logging:
  enabled: true
  # Options: debug, info, warn, error
  level: info
`
