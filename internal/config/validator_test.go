package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default config should be valid, got %d errors: %v", len(errs), errs)
	}
}

// hasField reports whether errs contains an error for field.
func hasField(errs []ValidationError, field string) bool {
	for _, err := range errs {
		if err.Field == field {
			return true
		}
	}
	return false
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string // empty means the config must stay valid
	}{
		{"zero workers", func(c *Config) { c.Coordinator.MaxWorkers = 0 }, "coordinator.max_workers"},
		{"too many workers", func(c *Config) { c.Coordinator.MaxWorkers = 5000 }, "coordinator.max_workers"},
		{"one worker", func(c *Config) { c.Coordinator.MaxWorkers = 1 }, ""},
		{"null byte in path", func(c *Config) { c.Coordinator.WorkOrdersPath = "a\x00b" }, "coordinator.work_orders_path"},
		{"metrics without records", func(c *Config) { c.Coordinator.Metrics.MaxCompletionRecords = 0 }, "coordinator.metrics.max_completion_records"},
		{"disabled metrics without records", func(c *Config) {
			c.Coordinator.Metrics.Enabled = false
			c.Coordinator.Metrics.MaxCompletionRecords = 0
		}, ""},
		{"unknown lock backend", func(c *Config) { c.Coordinator.DistributedLock.Backend = "etcd" }, "coordinator.distributed_lock.backend"},
		{"zero lock timeout", func(c *Config) { c.Coordinator.DistributedLock.LockTimeoutMs = 0 }, "coordinator.distributed_lock.lock_timeout_ms"},
		{"negative ttl", func(c *Config) { c.Coordinator.DistributedLock.LockTTLMs = -1 }, "coordinator.distributed_lock.lock_ttl_ms"},
		{"zero retry delay", func(c *Config) { c.Coordinator.DistributedLock.LockRetryDelayMs = 0 }, "coordinator.distributed_lock.lock_retry_delay_ms"},
		{"negative attempts", func(c *Config) { c.Coordinator.DistributedLock.LockRetryAttempts = -1 }, "coordinator.distributed_lock.lock_retry_attempts"},
		{"unbounded attempts", func(c *Config) { c.Coordinator.DistributedLock.LockRetryAttempts = 0 }, ""},
		{"lock name with space", func(c *Config) { c.Coordinator.DistributedLock.LockName = "my lock" }, "coordinator.distributed_lock.lock_name"},
		{"redis without addr", func(c *Config) {
			c.Coordinator.DistributedLock.Enabled = true
			c.Coordinator.DistributedLock.Backend = LockBackendRedis
		}, "coordinator.distributed_lock.redis_addr"},
		{"redis disabled without addr", func(c *Config) {
			c.Coordinator.DistributedLock.Backend = LockBackendRedis
		}, ""},
		{"nats without url", func(c *Config) {
			c.Coordinator.DistributedLock.Enabled = true
			c.Coordinator.DistributedLock.Backend = LockBackendNATS
		}, "coordinator.distributed_lock.nats_url"},
		{"nats without bucket", func(c *Config) {
			c.Coordinator.DistributedLock.Enabled = true
			c.Coordinator.DistributedLock.Backend = LockBackendNATS
			c.Coordinator.DistributedLock.NATSURL = "nats://localhost:4222"
			c.Coordinator.DistributedLock.NATSBucket = ""
		}, "coordinator.distributed_lock.nats_bucket"},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "postgres" }, "storage.backend"},
		{"sqlite storage", func(c *Config) { c.Storage.Backend = StorageBackendSQLite }, ""},
		{"zero polling interval", func(c *Config) { c.Monitor.PollingIntervalMs = 0 }, "monitor.polling_interval_ms"},
		{"zero stuck threshold", func(c *Config) { c.Monitor.StuckWorkerThresholdMs = 0 }, "monitor.stuck_worker_threshold_ms"},
		{"zero activities", func(c *Config) { c.Monitor.MaxRecentActivities = 0 }, "monitor.max_recent_activities"},
		{"excessive activities", func(c *Config) { c.Monitor.MaxRecentActivities = 20000 }, "monitor.max_recent_activities"},
		{"negative total", func(c *Config) { c.Monitor.TotalIssues = -5 }, "monitor.total_issues"},
		{"notifications without webhook", func(c *Config) { c.Monitor.EnableNotifications = true }, "monitor.slack_webhook_url"},
		{"bad webhook scheme", func(c *Config) { c.Monitor.SlackWebhookURL = "ftp://hooks.example" }, "monitor.slack_webhook_url"},
		{"notifications with webhook", func(c *Config) {
			c.Monitor.EnableNotifications = true
			c.Monitor.SlackWebhookURL = "https://hooks.slack.com/services/T/B/X"
		}, ""},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"empty log level", func(c *Config) { c.Logging.Level = "" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()

			if tt.field == "" {
				if len(errs) != 0 {
					t.Errorf("expected valid config, got %v", errs)
				}
				return
			}
			if !hasField(errs, tt.field) {
				t.Errorf("expected error for %s, got %v", tt.field, errs)
			}
		})
	}
}

func TestValidBackendLists(t *testing.T) {
	if len(ValidLockBackends()) != 4 {
		t.Errorf("ValidLockBackends() = %v", ValidLockBackends())
	}
	if len(ValidStorageBackends()) != 2 {
		t.Errorf("ValidStorageBackends() = %v", ValidStorageBackends())
	}
	if len(ValidLogLevels()) != 4 {
		t.Errorf("ValidLogLevels() = %v", ValidLogLevels())
	}
}
