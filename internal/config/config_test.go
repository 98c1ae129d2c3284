package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":8090" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Cache.Backend != "file" {
		t.Errorf("cache backend = %q", cfg.Cache.Backend)
	}
	if !cfg.Fetch.AllowScraping || !cfg.Fetch.VerifySSL {
		t.Error("scraping and ssl verification should default on")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stacklens.toml")
	content := `
[server]
addr = ":9000"

[cache]
backend = "redis"
max_value_size = 1048576

[cache.redis]
addr = "localhost:6379"
db = 2

[store]
backend = "mongo"

[store.mongo]
uri = "mongodb://localhost:27017"
database = "artifacts"

[fetch]
allow_scraping = false
timeout = "10s"
max_fetches = 50

[fetch.headers]
"X-Api-Token" = "secret"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.Redis.DB != 2 {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Cache.MaxValueSize != 1048576 {
		t.Errorf("max value size = %d", cfg.Cache.MaxValueSize)
	}
	if cfg.Store.Backend != "mongo" || cfg.Store.Mongo.Database != "artifacts" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Fetch.AllowScraping {
		t.Error("scraping should be off")
	}
	if cfg.Fetch.Timeout.Duration != 10*time.Second {
		t.Errorf("timeout = %v", cfg.Fetch.Timeout)
	}
	if cfg.Fetch.Headers["X-Api-Token"] != "secret" {
		t.Errorf("headers = %v", cfg.Fetch.Headers)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown cache backend", "[cache]\nbackend = \"memcached\""},
		{"unknown store backend", "[store]\nbackend = \"postgres\""},
		{"mongo without uri", "[store]\nbackend = \"mongo\""},
		{"redis without addr", "[cache]\nbackend = \"redis\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.toml"); err == nil {
		t.Error("expected error for missing file")
	}
}
