// Package config loads the kvd configuration from YAML and validates it.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full kvd configuration.
type Config struct {
	// DataDir is the root directory for the level directories.
	DataDir string `yaml:"data_dir" validate:"required"`

	// MemtableBytes caps the memtable's projected serialized size.
	// Zero keeps the engine default (2 MiB).
	MemtableBytes int `yaml:"memtable_bytes" validate:"omitempty,gte=16384"`

	// Wipe starts from an empty on-disk store instead of loading the
	// existing level directories.
	Wipe bool `yaml:"wipe"`

	Cache  CacheConfig  `yaml:"cache"`
	Server ServerConfig `yaml:"server"`

	// Workers sizes the async task pool.
	Workers int `yaml:"workers" validate:"gte=1,lte=64"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// CacheConfig configures the value cache.
type CacheConfig struct {
	// Policy is one of lru, lfu, fifo, none.
	Policy string `yaml:"policy" validate:"oneof=lru lfu fifo none"`

	// Capacity is the cache size in entries.
	Capacity int `yaml:"capacity" validate:"gte=1"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr" validate:"required"`

	// JWTSecret enables bearer-token authentication when non-empty.
	JWTSecret string `yaml:"jwt_secret"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DataDir:  "./data",
		Cache:    CacheConfig{Policy: "lru", Capacity: 100},
		Server:   ServerConfig{Addr: ":8844"},
		Workers:  4,
		LogLevel: "info",
	}
}

// Load reads path, overlays it on the defaults, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration against its constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
