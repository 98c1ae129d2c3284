package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/stacklens/stacklens/internal/config"
	"github.com/stacklens/stacklens/pkg/artifacts"
	"github.com/stacklens/stacklens/pkg/buildinfo"
	"github.com/stacklens/stacklens/pkg/cache"
	"github.com/stacklens/stacklens/pkg/httputil"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for directories and display.
const appName = "stacklens"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	// configPath is set by the persistent --config flag.
	configPath string
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: newLogger(w, level),
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "stacklens",
		Short:        "Stacklens maps minified stack traces back to original sources",
		Long:         `Stacklens resolves JavaScript stack traces against release artifacts and source maps, rewriting minified frames to their original file, line, and function.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to a TOML config file")

	// Register all subcommands
	root.AddCommand(c.processCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// loadConfig reads the configured file, or the defaults when --config is unset.
func (c *CLI) loadConfig() (config.Config, error) {
	return config.Load(c.configPath)
}

// =============================================================================
// Resolver Factory
// =============================================================================

// newResolver assembles the artifact resolver from the configured backends.
// The caller owns the returned cache and must Close it.
func (c *CLI) newResolver(ctx context.Context, cfg config.Config) (*artifacts.Resolver, cache.Cache, error) {
	byteCache, err := newCache(ctx, cfg.Cache)
	if err != nil {
		return nil, nil, err
	}
	store, err := newStore(ctx, cfg.Store)
	if err != nil {
		byteCache.Close()
		return nil, nil, err
	}
	resolver := &artifacts.Resolver{
		Store:        store,
		Cache:        byteCache,
		Fetcher:      httputil.NewClient(),
		Logger:       c.Logger,
		MaxCacheSize: cfg.Cache.MaxValueSize,
	}
	return resolver, byteCache, nil
}

func newCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	var (
		inner cache.Cache
		err   error
	)
	switch cfg.Backend {
	case "none":
		return cache.NewNullCache(), nil
	case "memory":
		inner = cache.NewMemoryCache()
	case "redis":
		inner, err = cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis cache: %w", err)
		}
	default: // "file"
		dir := cfg.Dir
		if dir == "" {
			dir, err = cacheDir()
			if err != nil {
				return cache.NewNullCache(), nil
			}
		}
		inner, err = cache.NewFileCache(dir)
		if err != nil {
			return nil, fmt.Errorf("open file cache: %w", err)
		}
	}
	if cfg.MaxValueSize > 0 {
		return cache.Limited(inner, cfg.MaxValueSize), nil
	}
	return inner, nil
}

func newStore(ctx context.Context, cfg config.StoreConfig) (artifacts.Store, error) {
	if cfg.Backend == "mongo" {
		store, err := artifacts.NewMongoStore(ctx, artifacts.MongoConfig{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
		})
		if err != nil {
			return nil, fmt.Errorf("connect mongo store: %w", err)
		}
		return store, nil
	}
	return artifacts.NewMemoryStore(), nil
}

// fetchPolicy translates the fetch config into a resolver policy for the
// given release scope.
func fetchPolicy(cfg config.Config, release, dist string) artifacts.FetchPolicy {
	return artifacts.FetchPolicy{
		Release:       release,
		Dist:          dist,
		AllowScraping: cfg.Fetch.AllowScraping,
		Headers:       cfg.Fetch.Headers,
		VerifySSL:     cfg.Fetch.VerifySSL,
		Timeout:       cfg.Fetch.Timeout.Duration,
	}
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/stacklens/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}
