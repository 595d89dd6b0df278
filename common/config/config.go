package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Port        int    `yaml:"port"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Database    string        `yaml:"database"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CacheConfig holds settings for the versioned read-through cache
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
	Namespace  string        `yaml:"namespace"`
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof bool `yaml:"enable_pprof"`
	PprofPort   int  `yaml:"pprof_port"`
}

// Load loads configuration from environment variables.
// If CONFIG_FILE points at a YAML file, it is read first and the
// environment overrides individual values on top of it.
func Load(serviceName string) (*Config, error) {
	cfg := defaults(serviceName)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	return cfg, cfg.Validate()
}

func defaults(serviceName string) *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        8080,
			Environment: "development",
			LogLevel:    "info",
			LogFormat:   "text",
		},
		Database: DatabaseConfig{
			Host:        "localhost",
			Port:        5432,
			Database:    "procedures",
			User:        "procedures",
			Password:    "procedures",
			MaxConns:    50,
			MinConns:    10,
			MaxIdleTime: 30 * time.Minute,
			MaxLifetime: 1 * time.Hour,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Cache: CacheConfig{
			Enabled:    true,
			DefaultTTL: 5 * time.Minute,
			Namespace:  "procedures",
		},
		Telemetry: TelemetryConfig{
			EnablePprof: false,
			PprofPort:   6060,
		},
	}
}

func loadFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Service.Port = getEnvInt("PORT", cfg.Service.Port)
	cfg.Service.Environment = getEnv("ENVIRONMENT", cfg.Service.Environment)
	cfg.Service.LogLevel = getEnv("LOG_LEVEL", cfg.Service.LogLevel)
	cfg.Service.LogFormat = getEnv("LOG_FORMAT", cfg.Service.LogFormat)

	cfg.Database.Host = getEnv("POSTGRES_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvInt("POSTGRES_PORT", cfg.Database.Port)
	cfg.Database.Database = getEnv("POSTGRES_DB", cfg.Database.Database)
	cfg.Database.User = getEnv("POSTGRES_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("POSTGRES_PASSWORD", cfg.Database.Password)
	cfg.Database.MaxConns = getEnvInt("POSTGRES_MAX_CONNS", cfg.Database.MaxConns)
	cfg.Database.MinConns = getEnvInt("POSTGRES_MIN_CONNS", cfg.Database.MinConns)
	cfg.Database.MaxIdleTime = getEnvDuration("POSTGRES_MAX_IDLE_TIME", cfg.Database.MaxIdleTime)
	cfg.Database.MaxLifetime = getEnvDuration("POSTGRES_MAX_LIFETIME", cfg.Database.MaxLifetime)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)

	cfg.Cache.Enabled = getEnvBool("CACHE_ENABLED", cfg.Cache.Enabled)
	cfg.Cache.DefaultTTL = getEnvDuration("CACHE_DEFAULT_TTL", cfg.Cache.DefaultTTL)
	cfg.Cache.Namespace = getEnv("CACHE_NAMESPACE", cfg.Cache.Namespace)

	cfg.Telemetry.EnablePprof = getEnvBool("ENABLE_PPROF", cfg.Telemetry.EnablePprof)
	cfg.Telemetry.PprofPort = getEnvInt("PPROF_PORT", cfg.Telemetry.PprofPort)
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Cache.Enabled && c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache default_ttl must be positive")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
