// Package config loads server configuration from a YAML file with sane
// defaults, so a bare binary runs a local single-node instance.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config is the full server configuration.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Store selects the persistence backend: memory, sqlite or redis.
	Store   string `yaml:"store"`
	DataDir string `yaml:"datadir"`
	DBPath  string `yaml:"dbpath"`

	Redis RedisConfig `yaml:"redis"`

	// AllowedOrigins whitelists browser origins for the WebSocket upgrade.
	AllowedOrigins []string `yaml:"allowedorigins"`

	DebugLevel string `yaml:"debuglevel"`
	LogFile    string `yaml:"logfile"`

	// MetricsAddr serves Prometheus metrics when non-empty, e.g. ":9100".
	MetricsAddr string `yaml:"metricsaddr"`
}

// RedisConfig configures the shared store.
type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	SessionTTL time.Duration `yaml:"sessionttl"`
}

// Default returns the configuration used when no file or flag overrides it.
func Default() Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".manaclock")
	return Config{
		Host:       "0.0.0.0",
		Port:       8080,
		Store:      StoreSQLite,
		DataDir:    dataDir,
		DBPath:     filepath.Join(dataDir, "sessions.db"),
		Redis:      RedisConfig{Addr: "localhost:6379", SessionTTL: 24 * time.Hour},
		DebugLevel: "info",
	}
}

// Load reads path over the defaults. A missing file is not an error; flags
// may still override everything.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Store == StoreRedis && c.Redis.Addr == "" {
		return fmt.Errorf("redis store requires redis.addr")
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
