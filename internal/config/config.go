// Package config loads the stacklens configuration file.
//
// Configuration is TOML. Every field has a sensible default so a missing
// file yields a working standalone setup: in-memory artifact store, file
// cache, scraping enabled.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full application configuration.
type Config struct {
	Server ServerConfig `toml:"server"`
	Cache  CacheConfig  `toml:"cache"`
	Store  StoreConfig  `toml:"store"`
	Fetch  FetchConfig  `toml:"fetch"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// CacheConfig selects and configures the shared byte cache backing the
// artifact resolver.
type CacheConfig struct {
	// Backend is "file", "redis", "memory", or "none".
	Backend string `toml:"backend"`

	// Dir is the file backend's directory; empty means the user cache dir.
	Dir string `toml:"dir"`

	// MaxValueSize caps individual cached values in bytes. 0 means no cap.
	MaxValueSize int `toml:"max_value_size"`

	Redis RedisConfig `toml:"redis"`
}

// RedisConfig locates the redis cache backend.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// StoreConfig selects the artifact store backend.
type StoreConfig struct {
	// Backend is "memory" or "mongo".
	Backend string `toml:"backend"`

	Mongo MongoConfig `toml:"mongo"`
}

// MongoConfig locates the MongoDB artifact store.
type MongoConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

// FetchConfig governs web scraping during artifact resolution.
type FetchConfig struct {
	AllowScraping bool `toml:"allow_scraping"`
	VerifySSL     bool `toml:"verify_ssl"`

	// Timeout per fetch request.
	Timeout duration `toml:"timeout"`

	// MaxFetches caps distinct URL resolutions per processed event.
	// 0 uses the processor default.
	MaxFetches int `toml:"max_fetches"`

	// Headers are sent with every scrape request.
	Headers map[string]string `toml:"headers"`
}

// duration makes time.Duration parseable from TOML strings like "5s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Default returns the standalone configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8090"},
		Cache: CacheConfig{
			Backend: "file",
		},
		Store: StoreConfig{Backend: "memory"},
		Fetch: FetchConfig{
			AllowScraping: true,
			VerifySSL:     true,
		},
	}
}

// Load reads the config file at path, layered over defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Cache.Backend {
	case "", "file", "redis", "memory", "none":
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	switch c.Store.Backend {
	case "", "memory", "mongo":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == "mongo" && c.Store.Mongo.URI == "" {
		return fmt.Errorf("mongo store requires store.mongo.uri")
	}
	if c.Cache.Backend == "redis" && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("redis cache requires cache.redis.addr")
	}
	return nil
}
