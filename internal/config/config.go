// Package config loads and validates the daemon configuration from
// YAML, environment variables and defaults, in that order of
// precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete daemon configuration.
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Mount      MountConfig      `yaml:"mount"`
	Cache      CacheConfig      `yaml:"cache"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Containers ContainersConfig `yaml:"containers"`
}

// GlobalConfig represents global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// MountConfig represents FUSE mountpoint settings.
type MountConfig struct {
	Mountpoint string `yaml:"mountpoint"`
	AllowOther bool   `yaml:"allow_other"`
	Debug      bool   `yaml:"debug"`
	FSName     string `yaml:"fs_name"`
}

// CacheConfig represents the default settings applied to cached
// backend wrappers whose descriptors leave them unset.
type CacheConfig struct {
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// MetricsConfig represents the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// ContainersConfig represents containers mounted at startup.
type ContainersConfig struct {
	// Manifests are locators of mount manifests applied in order
	// before the filesystem is exposed.
	Manifests []string `yaml:"manifests"`
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel: "INFO",
			LogFile:  "",
		},
		Mount: MountConfig{
			Mountpoint: "/mnt/containerfs",
			AllowOther: false,
			Debug:      false,
			FSName:     "containerfs",
		},
		Cache: CacheConfig{
			DefaultTTL: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("CONTAINERFS_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("CONTAINERFS_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("CONTAINERFS_MOUNTPOINT"); val != "" {
		c.Mount.Mountpoint = val
	}
	if val := os.Getenv("CONTAINERFS_ALLOW_OTHER"); val != "" {
		c.Mount.AllowOther = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("CONTAINERFS_DEBUG"); val != "" {
		c.Mount.Debug = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("CONTAINERFS_CACHE_TTL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Cache.DefaultTTL = duration
		}
	}
	if val := os.Getenv("CONTAINERFS_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("CONTAINERFS_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Metrics.Port = port
		}
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Configuration) Validate() error {
	if c.Mount.Mountpoint == "" {
		return fmt.Errorf("mountpoint cannot be empty")
	}
	if !filepath.IsAbs(c.Mount.Mountpoint) {
		return fmt.Errorf("mountpoint must be an absolute path: %s", c.Mount.Mountpoint)
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}
