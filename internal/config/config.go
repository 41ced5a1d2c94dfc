package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr string `yaml:"addr"`

	UpstreamURL            string        `yaml:"upstream_url"`
	UpstreamTimeoutSeconds int           `yaml:"upstream_timeout_seconds"`
	UpstreamTimeout        time.Duration `yaml:"-"`
	UpstreamRPS            float64       `yaml:"upstream_rps"`
	UpstreamBurst          int           `yaml:"upstream_burst"`

	// Optional backends; an empty URL disables the backend.
	DatabaseURL       string        `yaml:"database_url"`
	MigrationsDir     string        `yaml:"migrations_dir"`
	RedisURL          string        `yaml:"redis_url"`
	SessionTTLSeconds int           `yaml:"session_ttl_seconds"`
	SessionTTL        time.Duration `yaml:"-"`
	MeiliURL          string        `yaml:"meili_url"`
	MeiliMasterKey    string        `yaml:"meili_master_key"`

	CORSOrigin string `yaml:"cors_origin"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`
}

func defaults() Config {
	return Config{
		Addr:                   ":8787",
		UpstreamURL:            "http://localhost:8080/api/v1",
		UpstreamRPS:            20,
		UpstreamBurst:          40,
		MigrationsDir:          "./db/migrations",
		CORSOrigin:             "*",
		LogLevel:               "info",
		LogFormat:              "json",
		UpstreamTimeoutSeconds: 15,
		SessionTTLSeconds:      300,
	}
}

// Load reads configuration from the environment. When CHECKIT_CONFIG_FILE
// names a YAML file it is applied first and the environment overrides it.
func Load() (Config, error) {
	return LoadFile(os.Getenv("CHECKIT_CONFIG_FILE"))
}

func LoadFile(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Addr = getenv("API_ADDR", cfg.Addr)
	cfg.UpstreamURL = getenv("CHECKIT_UPSTREAM_URL", cfg.UpstreamURL)
	cfg.UpstreamTimeoutSeconds = getenvInt("CHECKIT_UPSTREAM_TIMEOUT_SECONDS", cfg.UpstreamTimeoutSeconds)
	cfg.UpstreamRPS = getenvFloat("CHECKIT_UPSTREAM_RPS", cfg.UpstreamRPS)
	cfg.UpstreamBurst = getenvInt("CHECKIT_UPSTREAM_BURST", cfg.UpstreamBurst)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.MigrationsDir = getenv("CHECKIT_MIGRATIONS_DIR", cfg.MigrationsDir)
	cfg.RedisURL = getenv("REDIS_URL", cfg.RedisURL)
	cfg.SessionTTLSeconds = getenvInt("CHECKIT_SESSION_TTL_SECONDS", cfg.SessionTTLSeconds)
	cfg.MeiliURL = getenv("MEILI_URL", cfg.MeiliURL)
	cfg.MeiliMasterKey = getenv("MEILI_MASTER_KEY", cfg.MeiliMasterKey)
	cfg.CORSOrigin = getenv("CHECKIT_CORS_ORIGIN", cfg.CORSOrigin)
	cfg.LogLevel = strings.ToLower(getenv("LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(getenv("LOG_FORMAT", cfg.LogFormat))

	cfg.UpstreamTimeout = time.Duration(cfg.UpstreamTimeoutSeconds) * time.Second
	cfg.SessionTTL = time.Duration(cfg.SessionTTLSeconds) * time.Second

	if cfg.UpstreamURL == "" {
		return Config{}, fmt.Errorf("CHECKIT_UPSTREAM_URL must be set")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
