// Package config loads the crawler's nested configuration sections
// (system, paths, session, crawl) from a file, environment variables,
// and defaults, via github.com/spf13/viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// SystemConfig controls process-wide behavior: logging and worker count.
type SystemConfig struct {
	LogToFile  bool   `mapstructure:"log_to_file"`
	LogLevel   string `mapstructure:"log_level"`
	MaxWorkers int    `mapstructure:"max_workers"`
}

// PathsConfig names the on-disk layout under RootPath.
type PathsConfig struct {
	RootPath string `mapstructure:"root_path"`
}

// ArchiveConfig selects and configures the archival index backend that
// records what was fetched alongside the raw WARC segments.
type ArchiveConfig struct {
	// Backend is one of "json" (default), "csv", "sqlite", or "postgres".
	Backend string `mapstructure:"backend"`
	// DSN is the connection string for "sqlite" and "postgres" backends;
	// unused for "json"/"csv", which write under Paths.RootPath.
	DSN     string `mapstructure:"dsn"`
}

// LinkStateConfig selects the backend persisting per-URL link state.
type LinkStateConfig struct {
	// Backend is one of "bolt" (default) or "sqlite".
	Backend string `mapstructure:"backend"`
}

// SessionConfig controls resumability and budget bookkeeping.
type SessionConfig struct {
	MaxQueueMisses  int `mapstructure:"max_queue_misses"`
	RobotsCacheSize int `mapstructure:"robots_cache_size"`
}

// CrawlConfig controls crawl scope and politeness.
type CrawlConfig struct {
	MaxDepth                 int           `mapstructure:"max_depth"`
	MaxPages                 int           `mapstructure:"max_pages"`
	UserAgent                string        `mapstructure:"user_agent"`
	RequestInterval          time.Duration `mapstructure:"request_interval"`
	RecrawlInterval          time.Duration `mapstructure:"recrawl_interval"`
	RobotsMaxAge             time.Duration `mapstructure:"robots_max_age"`
	InMemoryMaxResponseBytes int64         `mapstructure:"in_memory_max_response_bytes"`
	SearchTerms              []string      `mapstructure:"search_terms"`
}

// Config is the fully resolved configuration tree.
type Config struct {
	System    SystemConfig    `mapstructure:"system"`
	Paths     PathsConfig     `mapstructure:"paths"`
	Session   SessionConfig   `mapstructure:"session"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	LinkState LinkStateConfig `mapstructure:"link_state"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("system.log_to_file", false)
	v.SetDefault("system.log_level", "info")
	v.SetDefault("system.max_workers", 4)

	v.SetDefault("paths.root_path", "./burr-root")

	v.SetDefault("session.max_queue_misses", 3)
	v.SetDefault("session.robots_cache_size", 32)

	v.SetDefault("crawl.max_depth", 10)
	v.SetDefault("crawl.max_pages", 0)
	v.SetDefault("crawl.user_agent", "*")
	v.SetDefault("crawl.request_interval", "2s")
	v.SetDefault("crawl.recrawl_interval", "24h")
	v.SetDefault("crawl.robots_max_age", "1h")
	v.SetDefault("crawl.in_memory_max_response_bytes", 100<<20) // 100 MiB

	v.SetDefault("archive.backend", "json")
	v.SetDefault("archive.dsn", "")

	v.SetDefault("link_state.backend", "bolt")
}

// Load resolves a Config from path (if non-empty), BURR_-prefixed
// environment variables, and defaults. Environment variables take
// precedence over the file, and both take precedence over defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("burr")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("context: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("context: %w", err)
	}
	return cfg, nil
}
