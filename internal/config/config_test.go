package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("default log level = %q", cfg.Global.LogLevel)
	}
	if cfg.Mount.Mountpoint == "" {
		t.Error("default mountpoint empty")
	}
	if cfg.Cache.DefaultTTL != 5*time.Second {
		t.Errorf("default cache TTL = %v", cfg.Cache.DefaultTTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
global:
  log_level: DEBUG
mount:
  mountpoint: /mnt/test
  allow_other: true
cache:
  default_ttl: 30s
metrics:
  enabled: true
  port: 9191
containers:
  manifests:
    - /etc/containerfs/c1.json
`
	filename := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(filename, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(filename); err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Global.LogLevel != "DEBUG" {
		t.Errorf("log level = %q", cfg.Global.LogLevel)
	}
	if cfg.Mount.Mountpoint != "/mnt/test" || !cfg.Mount.AllowOther {
		t.Errorf("mount = %+v", cfg.Mount)
	}
	if cfg.Cache.DefaultTTL != 30*time.Second {
		t.Errorf("cache TTL = %v", cfg.Cache.DefaultTTL)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Port != 9191 {
		t.Errorf("metrics = %+v", cfg.Metrics)
	}
	if len(cfg.Containers.Manifests) != 1 {
		t.Errorf("manifests = %v", cfg.Containers.Manifests)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CONTAINERFS_LOG_LEVEL", "ERROR")
	t.Setenv("CONTAINERFS_MOUNTPOINT", "/mnt/env")
	t.Setenv("CONTAINERFS_CACHE_TTL", "1m")
	t.Setenv("CONTAINERFS_METRICS_PORT", "7070")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.Global.LogLevel != "ERROR" {
		t.Errorf("log level = %q", cfg.Global.LogLevel)
	}
	if cfg.Mount.Mountpoint != "/mnt/env" {
		t.Errorf("mountpoint = %q", cfg.Mount.Mountpoint)
	}
	if cfg.Cache.DefaultTTL != time.Minute {
		t.Errorf("cache TTL = %v", cfg.Cache.DefaultTTL)
	}
	if cfg.Metrics.Port != 7070 {
		t.Errorf("metrics port = %d", cfg.Metrics.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Configuration)
	}{
		{"empty mountpoint", func(c *Configuration) { c.Mount.Mountpoint = "" }},
		{"relative mountpoint", func(c *Configuration) { c.Mount.Mountpoint = "mnt" }},
		{"bad log level", func(c *Configuration) { c.Global.LogLevel = "TRACE" }},
		{"bad metrics port", func(c *Configuration) {
			c.Metrics.Enabled = true
			c.Metrics.Port = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := NewDefault()
	cfg.Global.LogLevel = "WARN"
	cfg.Metrics.Enabled = true
	if err := cfg.SaveToFile(filename); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	loaded := NewDefault()
	if err := loaded.LoadFromFile(filename); err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if loaded.Global.LogLevel != "WARN" || !loaded.Metrics.Enabled {
		t.Errorf("round trip = %+v", loaded)
	}
}
