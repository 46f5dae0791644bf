// Package config provides centralized configuration loaded from environment
// variables, plus the watch-list registry of monitored campgrounds.
// Shared by all campwatch subcommands.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// --------------------------------------------------------------------------
// Watch list — which campgrounds are monitored
// --------------------------------------------------------------------------

// Watch is one monitored campground.
type Watch struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"`
}

// DefaultWatchList is the built-in registry, used when no watch file is
// configured.
var DefaultWatchList = []Watch{
	{ID: "766", Name: "Steep Ravine", Provider: "ReserveCalifornia"},
	{ID: "252037", Name: "Sardine Peak Lookout", Provider: "RecreationDotGov"},
}

// watchFile is the on-disk shape of a watch list.
type watchFile struct {
	Campgrounds []Watch `yaml:"campgrounds"`
}

// LoadWatchList reads a YAML watch file.
func LoadWatchList(path string) ([]Watch, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read watch file: %w", err)
	}
	var wf watchFile
	if err := yaml.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("parse watch file %s: %w", path, err)
	}
	if len(wf.Campgrounds) == 0 {
		return nil, fmt.Errorf("watch file %s lists no campgrounds", path)
	}
	for i, w := range wf.Campgrounds {
		if w.ID == "" || w.Provider == "" {
			return nil, fmt.Errorf("watch file %s: entry %d needs id and provider", path, i)
		}
	}
	return wf.Campgrounds, nil
}

// --------------------------------------------------------------------------
// Config struct — populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// Admin API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Rate limiting (admin API)
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Email delivery
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	FromAddress  string
	NotifyTo     string // comma-separated recipient list

	// Search
	SearchWindowDays  int
	ProviderRateLimit int // provider requests per minute
	WatchFilePath     string
	WatchList         []Watch

	// Run shape
	CheckInterval       time.Duration // serve mode: time between runs
	RunTimeout          time.Duration // overall deadline per run
	EntityTimeout       time.Duration // sub-deadline per entity
	RunWorkers          int
	DispatchConcurrency int
	DispatchTimeout     time.Duration // sub-deadline per recipient send

	// Maintenance
	SweepInterval   time.Duration
	ResultRetention time.Duration

	// Cache
	CacheEnabled bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	dbURL := envOr("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}

	cfg := &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		SMTPHost:     envOr("EMAIL_SMTP_SERVER", "smtp.gmail.com"),
		SMTPPort:     envInt("EMAIL_SMTP_PORT", 465),
		SMTPUsername: envOr("EMAIL_USERNAME", ""),
		SMTPPassword: envOr("EMAIL_PASSWORD", ""),
		FromAddress:  envOr("EMAIL_FROM_ADDRESS", ""),
		NotifyTo:     envOr("EMAIL_TO_ADDRESS", ""),

		SearchWindowDays:  envInt("SEARCH_WINDOW_DAYS", 30),
		ProviderRateLimit: envInt("PROVIDER_RATE_LIMIT", 30),
		WatchFilePath:     envOr("WATCH_FILE", ""),

		CheckInterval:       time.Duration(envInt("CHECK_INTERVAL_MINUTES", 15)) * time.Minute,
		RunTimeout:          time.Duration(envInt("RUN_TIMEOUT_SECONDS", 300)) * time.Second,
		EntityTimeout:       time.Duration(envInt("ENTITY_TIMEOUT_SECONDS", 60)) * time.Second,
		RunWorkers:          envInt("RUN_WORKERS", 2),
		DispatchConcurrency: envInt("DISPATCH_CONCURRENCY", 4),
		DispatchTimeout:     time.Duration(envInt("DISPATCH_TIMEOUT_SECONDS", 30)) * time.Second,

		SweepInterval:   time.Duration(envInt("SWEEP_INTERVAL_MINUTES", 60)) * time.Minute,
		ResultRetention: time.Duration(envInt("RESULT_RETENTION_DAYS", 30)) * 24 * time.Hour,

		CacheEnabled: envBool("CACHE_ENABLED", true),
	}

	if cfg.WatchFilePath != "" {
		list, err := LoadWatchList(cfg.WatchFilePath)
		if err != nil {
			return nil, err
		}
		cfg.WatchList = list
	} else {
		cfg.WatchList = DefaultWatchList
	}

	return cfg, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
