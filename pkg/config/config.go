// Package config handles SkuldDB configuration via environment
// variables and an optional YAML file.
//
// Configuration is loaded from SKULD_-prefixed environment variables
// with LoadFromEnv(), optionally overlaid from a YAML file with
// LoadFile(), and validated with Validate() before use.
//
// Environment Variables:
//   - SKULD_DATA_DIR          data directory (default "./data")
//   - SKULD_INDEX_TYPE        "linear" or "approximate" (default "approximate")
//   - SKULD_SYNC_WRITES       flush WAL after every append (default true)
//   - SKULD_ASYNC_INDEXING    stage vector updates for the background
//     worker (default false)
//   - SKULD_HTTP_HOST         HTTP bind host (default "127.0.0.1")
//   - SKULD_HTTP_PORT         HTTP bind port (default 8080)
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all SkuldDB configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
}

// DatabaseConfig holds engine settings.
type DatabaseConfig struct {
	// DataDir is the directory holding the WAL.
	DataDir string `yaml:"data_dir"`
	// IndexType selects the vector backend: linear or approximate.
	IndexType string `yaml:"index_type"`
	// SyncWrites flushes the WAL after every append.
	SyncWrites bool `yaml:"sync_writes"`
	// AsyncIndexing enables the background vector-index worker.
	AsyncIndexing bool `yaml:"async_indexing"`
}

// ServerConfig holds HTTP surface settings.
type ServerConfig struct {
	// Host to bind the HTTP listener to.
	Host string `yaml:"host"`
	// Port to listen on.
	Port int `yaml:"port"`
	// ReadTimeout for incoming requests.
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// WriteTimeout for responses.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			DataDir:    "./data",
			IndexType:  "approximate",
			SyncWrites: true,
		},
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// LoadFromEnv builds a Config from defaults overridden by SKULD_
// environment variables.
func LoadFromEnv() *Config {
	cfg := Default()

	cfg.Database.DataDir = getEnv("SKULD_DATA_DIR", cfg.Database.DataDir)
	cfg.Database.IndexType = getEnv("SKULD_INDEX_TYPE", cfg.Database.IndexType)
	cfg.Database.SyncWrites = getEnvBool("SKULD_SYNC_WRITES", cfg.Database.SyncWrites)
	cfg.Database.AsyncIndexing = getEnvBool("SKULD_ASYNC_INDEXING", cfg.Database.AsyncIndexing)

	cfg.Server.Host = getEnv("SKULD_HTTP_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("SKULD_HTTP_PORT", cfg.Server.Port)

	return cfg
}

// LoadFile overlays cfg with values from a YAML file.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DataDir) == "" {
		return fmt.Errorf("database.data_dir must not be empty")
	}
	switch c.Database.IndexType {
	case "linear", "approximate":
	default:
		return fmt.Errorf("database.index_type must be linear or approximate, got %q", c.Database.IndexType)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", c.Server.Port)
	}
	return nil
}

// Addr returns the host:port pair for the HTTP listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}
