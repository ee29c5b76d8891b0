package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "coordinator.max_workers")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidLockBackends returns the list of valid lock backends
func ValidLockBackends() []string {
	return []string{LockBackendMemory, LockBackendRedis, LockBackendNATS, LockBackendFile}
}

// ValidStorageBackends returns the list of valid storage backends
func ValidStorageBackends() []string {
	return []string{StorageBackendFile, StorageBackendSQLite}
}

// Upper bounds that keep a typo from allocating or waiting absurdly.
const (
	maxWorkersLimit          = 1000
	maxCompletionRecordLimit = 1_000_000
	maxRecentActivitiesLimit = 10_000
)

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate Coordinator config
	errors = append(errors, c.validateCoordinator()...)

	// Validate DistributedLock config
	errors = append(errors, c.validateDistributedLock()...)

	// Validate Storage config
	errors = append(errors, c.validateStorage()...)

	// Validate Monitor config
	errors = append(errors, c.validateMonitor()...)

	// Validate Logging config
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateCoordinator validates the CoordinatorConfig
func (c *Config) validateCoordinator() []ValidationError {
	var errors []ValidationError
	co := c.Coordinator

	if co.MaxWorkers < 1 {
		errors = append(errors, ValidationError{
			Field:   "coordinator.max_workers",
			Value:   co.MaxWorkers,
			Message: "must be at least 1",
		})
	}
	if co.MaxWorkers > maxWorkersLimit {
		errors = append(errors, ValidationError{
			Field:   "coordinator.max_workers",
			Value:   co.MaxWorkers,
			Message: fmt.Sprintf("exceeds maximum of %d", maxWorkersLimit),
		})
	}

	if strings.ContainsRune(co.WorkOrdersPath, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "coordinator.work_orders_path",
			Value:   co.WorkOrdersPath,
			Message: "contains invalid null character",
		})
	}

	if co.Metrics.Enabled && co.Metrics.MaxCompletionRecords < 1 {
		errors = append(errors, ValidationError{
			Field:   "coordinator.metrics.max_completion_records",
			Value:   co.Metrics.MaxCompletionRecords,
			Message: "must be at least 1 when metrics are enabled",
		})
	}
	if co.Metrics.MaxCompletionRecords > maxCompletionRecordLimit {
		errors = append(errors, ValidationError{
			Field:   "coordinator.metrics.max_completion_records",
			Value:   co.Metrics.MaxCompletionRecords,
			Message: fmt.Sprintf("exceeds maximum of %d", maxCompletionRecordLimit),
		})
	}

	return errors
}

// validateDistributedLock validates the DistributedLockConfig. Timing
// fields are checked even when locking is disabled so that enabling it
// later cannot surface a stale bad value.
func (c *Config) validateDistributedLock() []ValidationError {
	var errors []ValidationError
	dl := c.Coordinator.DistributedLock
	const prefix = "coordinator.distributed_lock."

	if !slices.Contains(ValidLockBackends(), dl.Backend) {
		errors = append(errors, ValidationError{
			Field:   prefix + "backend",
			Value:   dl.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLockBackends(), ", ")),
		})
	}

	positive := []struct {
		field string
		value int
	}{
		{"lock_timeout_ms", dl.LockTimeoutMs},
		{"lock_ttl_ms", dl.LockTTLMs},
		{"lock_retry_delay_ms", dl.LockRetryDelayMs},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errors = append(errors, ValidationError{
				Field:   prefix + p.field,
				Value:   p.value,
				Message: "must be positive",
			})
		}
	}

	if dl.LockRetryAttempts < 0 {
		errors = append(errors, ValidationError{
			Field:   prefix + "lock_retry_attempts",
			Value:   dl.LockRetryAttempts,
			Message: "must be non-negative",
		})
	}

	if dl.LockName == "" || strings.ContainsAny(dl.LockName, " \t\n") {
		errors = append(errors, ValidationError{
			Field:   prefix + "lock_name",
			Value:   dl.LockName,
			Message: "must be non-empty and contain no whitespace",
		})
	}

	if !dl.Enabled {
		return errors
	}

	switch dl.Backend {
	case LockBackendRedis:
		if dl.RedisAddr == "" {
			errors = append(errors, ValidationError{
				Field:   prefix + "redis_addr",
				Value:   dl.RedisAddr,
				Message: "is required when the redis backend is enabled",
			})
		}
	case LockBackendNATS:
		if dl.NATSURL == "" {
			errors = append(errors, ValidationError{
				Field:   prefix + "nats_url",
				Value:   dl.NATSURL,
				Message: "is required when the nats backend is enabled",
			})
		}
		if dl.NATSBucket == "" {
			errors = append(errors, ValidationError{
				Field:   prefix + "nats_bucket",
				Value:   dl.NATSBucket,
				Message: "is required when the nats backend is enabled",
			})
		}
	}

	return errors
}

// validateStorage validates the StorageConfig
func (c *Config) validateStorage() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidStorageBackends(), c.Storage.Backend) {
		errors = append(errors, ValidationError{
			Field:   "storage.backend",
			Value:   c.Storage.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStorageBackends(), ", ")),
		})
	}

	if strings.ContainsRune(c.Storage.SQLitePath, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "storage.sqlite_path",
			Value:   c.Storage.SQLitePath,
			Message: "contains invalid null character",
		})
	}

	return errors
}

// validateMonitor validates the MonitorConfig
func (c *Config) validateMonitor() []ValidationError {
	var errors []ValidationError
	m := c.Monitor

	if m.PollingIntervalMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "monitor.polling_interval_ms",
			Value:   m.PollingIntervalMs,
			Message: "must be positive",
		})
	}

	if m.StuckWorkerThresholdMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "monitor.stuck_worker_threshold_ms",
			Value:   m.StuckWorkerThresholdMs,
			Message: "must be positive",
		})
	}

	if m.MaxRecentActivities < 1 {
		errors = append(errors, ValidationError{
			Field:   "monitor.max_recent_activities",
			Value:   m.MaxRecentActivities,
			Message: "must be at least 1",
		})
	}
	if m.MaxRecentActivities > maxRecentActivitiesLimit {
		errors = append(errors, ValidationError{
			Field:   "monitor.max_recent_activities",
			Value:   m.MaxRecentActivities,
			Message: fmt.Sprintf("exceeds maximum of %d", maxRecentActivitiesLimit),
		})
	}

	if m.TotalIssues < 0 {
		errors = append(errors, ValidationError{
			Field:   "monitor.total_issues",
			Value:   m.TotalIssues,
			Message: "must be non-negative",
		})
	}

	if strings.ContainsRune(m.ReportPath, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "monitor.report_path",
			Value:   m.ReportPath,
			Message: "contains invalid null character",
		})
	}

	if m.EnableNotifications && m.SlackWebhookURL == "" {
		errors = append(errors, ValidationError{
			Field:   "monitor.slack_webhook_url",
			Value:   m.SlackWebhookURL,
			Message: "is required when notifications are enabled",
		})
	}
	if m.SlackWebhookURL != "" {
		u, err := url.Parse(m.SlackWebhookURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "monitor.slack_webhook_url",
				Value:   m.SlackWebhookURL,
				Message: "must be an http(s) URL",
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
