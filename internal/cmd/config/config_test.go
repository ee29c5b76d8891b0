package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	appconfig "github.com/Iron-Ham/foreman/internal/config"
)

func TestRunInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foreman", "config.yaml")

	var out bytes.Buffer
	if err := runInit(&out, path, false); err != nil {
		t.Fatalf("runInit() error = %v", err)
	}
	if !strings.Contains(out.String(), path) {
		t.Errorf("output = %q, want it to name %s", out.String(), path)
	}

	// The generated file must load cleanly with defaults.
	v := appconfig.NewViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}
	cfg, err := appconfig.LoadFrom(v)
	if err != nil {
		t.Fatalf("generated config is invalid: %v", err)
	}
	if cfg.Coordinator.MaxWorkers != 3 {
		t.Errorf("MaxWorkers = %d, want 3", cfg.Coordinator.MaxWorkers)
	}

	if err := runInit(&out, path, false); err == nil {
		t.Error("runInit() should refuse to overwrite an existing file")
	}
	if err := runInit(&out, path, true); err != nil {
		t.Errorf("runInit(force) error = %v", err)
	}
}

func TestRunSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	t.Run("writes a typed value to a new file", func(t *testing.T) {
		var out bytes.Buffer
		if err := runSet(&out, path, "coordinator.max_workers", "7"); err != nil {
			t.Fatalf("runSet() error = %v", err)
		}
		if !strings.Contains(out.String(), "coordinator.max_workers = 7") {
			t.Errorf("output = %q", out.String())
		}

		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			t.Fatalf("ReadInConfig() error = %v", err)
		}
		if got := v.GetInt("coordinator.max_workers"); got != 7 {
			t.Errorf("max_workers = %d, want 7", got)
		}
	})

	t.Run("keeps existing keys", func(t *testing.T) {
		if err := runSet(&bytes.Buffer{}, path, "monitor.report_path", "/tmp/reports"); err != nil {
			t.Fatalf("runSet() error = %v", err)
		}
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			t.Fatalf("ReadInConfig() error = %v", err)
		}
		if got := v.GetInt("coordinator.max_workers"); got != 7 {
			t.Errorf("max_workers = %d, want 7 after a second set", got)
		}
		if got := v.GetString("monitor.report_path"); got != "/tmp/reports" {
			t.Errorf("report_path = %q", got)
		}
	})

	t.Run("rejects unknown keys", func(t *testing.T) {
		err := runSet(&bytes.Buffer{}, path, "coordinator.nope", "1")
		if err == nil || !strings.Contains(err.Error(), "unknown configuration key") {
			t.Errorf("runSet() error = %v", err)
		}
	})

	t.Run("rejects values of the wrong type", func(t *testing.T) {
		if err := runSet(&bytes.Buffer{}, path, "logging.enabled", "maybe"); err == nil {
			t.Error("runSet() should reject a non-boolean value")
		}
	})

	t.Run("rejects values that fail validation", func(t *testing.T) {
		before, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := runSet(&bytes.Buffer{}, path, "coordinator.max_workers", "0"); err == nil {
			t.Fatal("runSet() should reject max_workers = 0")
		}
		after, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(before, after) {
			t.Error("config file should be unchanged after a rejected set")
		}
	})
}

func TestRunShow(t *testing.T) {
	v := appconfig.NewViper()

	var out bytes.Buffer
	if err := runShow(&out, v); err != nil {
		t.Fatalf("runShow() error = %v", err)
	}
	s := out.String()
	for _, want := range []string{"(none - using defaults)", "max_workers: 3", "polling_interval_ms: 5000"} {
		if !strings.Contains(s, want) {
			t.Errorf("show output missing %q:\n%s", want, s)
		}
	}
}

func TestRunPath(t *testing.T) {
	var out bytes.Buffer
	if err := runPath(&out, viper.New()); err != nil {
		t.Fatalf("runPath() error = %v", err)
	}
	if !strings.Contains(out.String(), "foreman config init") {
		t.Errorf("output = %q", out.String())
	}
}

func TestConvertValue(t *testing.T) {
	tests := []struct {
		def     any
		raw     string
		want    any
		wantErr bool
	}{
		{true, "false", false, false},
		{1, "42", 42, false},
		{1, "forty", nil, true},
		{"memory", "redis", "redis", false},
	}
	for _, tt := range tests {
		got, err := convertValue(tt.def, tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("convertValue(%v, %q) error = %v, wantErr %v", tt.def, tt.raw, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("convertValue(%v, %q) = %v, want %v", tt.def, tt.raw, got, tt.want)
		}
	}
}
