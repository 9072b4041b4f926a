package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CAMPUSCHAT_"

const (
	DefaultBaseURL        = "http://localhost:8000/api"
	DefaultTimeoutSeconds = 30
)

// FileConfig represents configuration loaded from YAML and the environment.
type FileConfig struct {
	BaseURL               string `yaml:"baseURL" env:"BASE_URL"`
	RequestTimeoutSeconds int    `yaml:"requestTimeoutSeconds" env:"REQUEST_TIMEOUT_SECONDS"`
	Locale                string `yaml:"locale" env:"LOCALE"`
	LogLevel              string `yaml:"logLevel" env:"LOG_LEVEL"`
	LogFile               string `yaml:"logFile" env:"LOG_FILE"`

	// Profile namespaces the stored slots so several accounts can share a driver.
	Profile       string `yaml:"profile" env:"PROFILE"`
	StoreDriver   string `yaml:"storeDriver" env:"STORE_DRIVER"`
	DataDir       string `yaml:"dataDir" env:"DATA_DIR"`
	RedisAddr     string `yaml:"redisAddr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redisPassword" env:"REDIS_PASSWORD"`
	RedisPrefix   string `yaml:"redisPrefix" env:"REDIS_PREFIX"`
	DatabaseURL   string `yaml:"databaseURL" env:"DATABASE_URL"`

	// SendRateLimitPerMinute caps messages sent per user; 0 disables it.
	SendRateLimitPerMinute int    `yaml:"sendRateLimitPerMinute" env:"SEND_RATE_LIMIT_PER_MINUTE"`
	RateLimitBackend       string `yaml:"rateLimitBackend" env:"RATE_LIMIT_BACKEND"`
}

// RequestTimeout is the per-request HTTP timeout.
func (c FileConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// LogPath is where the client writes its log.
func (c FileConfig) LogPath() string {
	if c.LogFile != "" {
		return c.LogFile
	}
	return filepath.Join(c.DataDir, "campuschat.log")
}

// DefaultDir is the per-user directory for config and data.
func DefaultDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "campuschat")
	}
	return ".campuschat"
}

// DefaultPath is the config file read when no path is given.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

func defaults() FileConfig {
	return FileConfig{
		BaseURL:               DefaultBaseURL,
		RequestTimeoutSeconds: DefaultTimeoutSeconds,
		Locale:                "ar",
		LogLevel:              "info",
		Profile:               "default",
		StoreDriver:           "file",
		DataDir:               DefaultDir(),
		RedisPrefix:           "campuschat",
		RateLimitBackend:      "memory",
	}
}

// Load reads config from path, then applies CAMPUSCHAT_* environment
// overrides. An empty path reads DefaultPath and tolerates its absence.
func Load(path string) (FileConfig, error) {
	cfg := defaults()
	optional := path == ""
	if optional {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case optional && errors.Is(err, fs.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.RateLimitBackend = strings.ToLower(strings.TrimSpace(cfg.RateLimitBackend))
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: baseURL %q must be an absolute URL", cfg.BaseURL)
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		return errors.New("config: requestTimeoutSeconds must be positive")
	}
	if strings.TrimSpace(cfg.Profile) == "" {
		return errors.New("config: profile is required")
	}
	switch cfg.StoreDriver {
	case "file":
		if strings.TrimSpace(cfg.DataDir) == "" {
			return errors.New("config: dataDir is required for the file store")
		}
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for the redis store (set in config.yaml or CAMPUSCHAT_REDIS_ADDR)")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required for the postgres store (set in config.yaml or CAMPUSCHAT_DATABASE_URL)")
		}
	default:
		return fmt.Errorf("config: unknown storeDriver %q", cfg.StoreDriver)
	}
	if cfg.SendRateLimitPerMinute < 0 {
		return errors.New("config: sendRateLimitPerMinute must not be negative")
	}
	switch cfg.RateLimitBackend {
	case "memory":
	case "redis":
		if cfg.SendRateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for redis rate limiting")
		}
	default:
		return fmt.Errorf("config: unknown rateLimitBackend %q", cfg.RateLimitBackend)
	}
	return nil
}
