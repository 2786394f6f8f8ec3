// Package config loads service configuration from an optional YAML file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

type Config struct {
	AppEnv string `koanf:"app_env"`
	Port   string `koanf:"port"`

	DatabaseDriver string `koanf:"database_driver"`
	DatabaseURL    string `koanf:"database_url"`

	GenerationURL     string        `koanf:"generation_url"`
	GenerationAPIKey  string        `koanf:"generation_api_key"`
	GenerationTimeout time.Duration `koanf:"generation_timeout"`

	UploadDir string `koanf:"upload_dir"`
	BaseURL   string `koanf:"base_url"`

	// AllowedOrigins is a comma-separated list of CORS origins.
	AllowedOrigins string `koanf:"allowed_origins"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// WorkflowIdleTTL is how long a live workflow may go unused before it is
	// evicted. Saved snapshots are not affected.
	WorkflowIdleTTL time.Duration `koanf:"workflow_idle_ttl"`
}

// keys lists the recognised settings. Environment variables are the upper
// case form of each key, e.g. DATABASE_URL.
var keys = map[string]bool{
	"app_env":            true,
	"port":               true,
	"database_driver":    true,
	"database_url":       true,
	"generation_url":     true,
	"generation_api_key": true,
	"generation_timeout": true,
	"upload_dir":         true,
	"base_url":           true,
	"allowed_origins":    true,
	"log_level":          true,
	"log_format":         true,
	"shutdown_timeout":   true,
	"workflow_idle_ttl":  true,
}

// Load reads configuration.
//
// Precedence (highest to lowest):
//  1. Environment variables
//  2. The YAML file at path (or CONFIG_FILE when path is empty), if any
//  3. Defaults
//
// Outside production a .env file in the working directory is loaded first;
// production injects variables through its own infrastructure.
func Load(path string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		// A missing .env is fine.
		_ = godotenv.Load()
	}
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}

	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		key := strings.ToLower(s)
		if !keys[key] {
			return ""
		}
		return key
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func applyDefaults(cfg *Config) {
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.Port == "" {
		cfg.Port = "8083"
	}
	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = "postgres"
	}
	if cfg.GenerationTimeout == 0 {
		cfg.GenerationTimeout = 120 * time.Second
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "./uploads"
	}
	if cfg.AllowedOrigins == "" {
		cfg.AllowedOrigins = "http://localhost:5173"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
		if !cfg.IsProduction() {
			cfg.LogFormat = "console"
		}
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.WorkflowIdleTTL == 0 {
		cfg.WorkflowIdleTTL = 30 * time.Minute
	}
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	switch c.DatabaseDriver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q (use postgres or sqlite3)", c.DatabaseDriver)
	}
	if c.GenerationURL == "" {
		return errors.New("GENERATION_URL is required")
	}
	u, err := url.Parse(c.GenerationURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("GENERATION_URL must be an absolute http(s) url, got %q", c.GenerationURL)
	}
	if c.GenerationTimeout < 0 {
		return errors.New("GENERATION_TIMEOUT must not be negative")
	}
	if c.WorkflowIdleTTL < 0 {
		return errors.New("WORKFLOW_IDLE_TTL must not be negative")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unsupported LOG_FORMAT %q (use json or console)", c.LogFormat)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Origins splits AllowedOrigins into its entries.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
