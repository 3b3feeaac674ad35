// Package config loads feedwindow settings from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bryan-buckman/feedwindow/internal/model"
)

// Config is the full service configuration.
type Config struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
	Addr     string `yaml:"addr"`

	Window WindowConfig `yaml:"window"`
	Stores StoreConfig  `yaml:"stores"`
	Seed   SeedConfig   `yaml:"seed"`
}

// WindowConfig sizes the cached window.
type WindowConfig struct {
	Capacity int `yaml:"capacity"`
	PageSize int `yaml:"page_size"`
}

// StoreConfig locates the backing services. Empty optional values select
// the in-process fallback.
type StoreConfig struct {
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisAddr   string `yaml:"redis_addr"`
	NATSURL     string `yaml:"nats_url"`
}

// SeedConfig drives RSS seeding of the document store.
type SeedConfig struct {
	OPMLPath   string        `yaml:"opml_path"`
	Interval   time.Duration `yaml:"interval"`
	Workers    int           `yaml:"workers"`
	MaxPerFeed int           `yaml:"max_per_feed"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Env:      "local",
		LogLevel: "info",
		Addr:     ":8080",
		Window: WindowConfig{
			Capacity: model.DefaultCapacity,
			PageSize: model.DefaultPageSize,
		},
		Stores: StoreConfig{
			SQLitePath: "feedwindow.db",
		},
		Seed: SeedConfig{
			Interval:   30 * time.Minute,
			Workers:    10,
			MaxPerFeed: 50,
		},
	}
}

// Path returns the default config file location.
func Path() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "feedwindow", "config.yaml"), nil
}

// Load reads path over the defaults and applies environment overrides. An
// empty path uses Path(). A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := Path()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Addr = getEnv("FEEDWINDOW_ADDR", c.Addr)
	c.Env = getEnv("FEEDWINDOW_ENV", c.Env)
	c.LogLevel = getEnv("FEEDWINDOW_LOG_LEVEL", c.LogLevel)
	c.Stores.SQLitePath = getEnv("FEEDWINDOW_SQLITE", c.Stores.SQLitePath)
	c.Stores.PostgresDSN = getEnv("FEEDWINDOW_POSTGRES", c.Stores.PostgresDSN)
	c.Stores.RedisAddr = getEnv("FEEDWINDOW_REDIS", c.Stores.RedisAddr)
	c.Stores.NATSURL = getEnv("FEEDWINDOW_NATS", c.Stores.NATSURL)
}

// Validate checks window sizing and required fields.
func (c *Config) Validate() error {
	w := c.Window
	switch {
	case w.Capacity <= 0 || w.PageSize <= 0:
		return fmt.Errorf("window sizes must be positive (capacity=%d, page_size=%d)", w.Capacity, w.PageSize)
	case w.Capacity < w.PageSize:
		return fmt.Errorf("window capacity %d is smaller than page size %d", w.Capacity, w.PageSize)
	case w.Capacity%w.PageSize != 0:
		return fmt.Errorf("window capacity %d is not a multiple of page size %d", w.Capacity, w.PageSize)
	}
	if c.Stores.SQLitePath == "" {
		return errors.New("stores.sqlite_path is required")
	}
	if c.Seed.Workers <= 0 {
		return fmt.Errorf("seed.workers must be positive, got %d", c.Seed.Workers)
	}
	return nil
}

// IsLocal reports whether the service runs in a developer environment.
func (c *Config) IsLocal() bool {
	return strings.EqualFold(c.Env, "local")
}

// Save writes the config to path, creating its directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
