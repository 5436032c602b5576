package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the vehicle folders server.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Automation AutomationConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	RateLimitPerMinute int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

// AutomationConfig configures the remote scraping/automation service.
// Calls drive live browser sessions, so the default timeout is generous.
type AutomationConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("VF_PORT", 8080),
			Env:                envString("VF_ENV", "development"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Automation: AutomationConfig{
			BaseURL: strings.TrimRight(os.Getenv("AUTOMATION_BASE_URL"), "/"),
			APIKey:  os.Getenv("AUTOMATION_API_KEY"),
			Timeout: envDuration("AUTOMATION_TIMEOUT", 5*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Automation.BaseURL == "" {
		return fmt.Errorf("AUTOMATION_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Automation.BaseURL, "http://") && !strings.HasPrefix(c.Automation.BaseURL, "https://") {
		return fmt.Errorf("AUTOMATION_BASE_URL must start with http:// or https://, got %q", c.Automation.BaseURL)
	}
	if c.Automation.Timeout <= 0 {
		return fmt.Errorf("AUTOMATION_TIMEOUT must be positive, got %s", c.Automation.Timeout)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("VF_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
