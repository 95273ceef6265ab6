package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the crawler and the catalog API read from the
// environment.
type Config struct {
	// Crawl
	StartURL       string        `env:"START_URL" default:"http://localhost:3000/api/komiku"`
	Concurrency    int           `env:"CONCURRENCY" default:"3"`
	MaxRetries     int           `env:"MAX_RETRIES" default:"3"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" default:"15s"`
	RetryBaseDelay time.Duration `env:"RETRY_BASE_DELAY" default:"1s"`
	PageDelay      time.Duration `env:"PAGE_DELAY" default:"300ms"`
	ChapterDelay   time.Duration `env:"CHAPTER_DELAY" default:"120ms"`

	// Storage (priority: supabase > postgres > sqlite)
	SupabaseURL string `env:"SUPABASE_URL"`
	SupabaseKey string `env:"SUPABASE_KEY"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" default:"data/mixscrap.db"`

	// Optional collaborators
	RedisURL  string `env:"REDIS_URL"`
	NotifyURL string `env:"NOTIFY_URL"`

	// Catalog API
	HTTPPort int `env:"HTTP_PORT" default:"8080"`
}

// LoadConfig loads configuration from the environment, reading a .env file
// first when one exists.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// No .env file is fine; system env vars still apply.
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	config := &Config{}

	if err := loadEnvString(&config.StartURL, "START_URL", "http://localhost:3000/api/komiku"); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.Concurrency, "CONCURRENCY", 3); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.MaxRetries, "MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.RequestTimeout, "REQUEST_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.RetryBaseDelay, "RETRY_BASE_DELAY", time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.PageDelay, "PAGE_DELAY", 300*time.Millisecond); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.ChapterDelay, "CHAPTER_DELAY", 120*time.Millisecond); err != nil {
		return nil, err
	}

	if err := loadEnvString(&config.SupabaseURL, "SUPABASE_URL", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.SupabaseKey, "SUPABASE_KEY", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.DatabaseURL, "DATABASE_URL", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.SQLitePath, "SQLITE_PATH", "data/mixscrap.db"); err != nil {
		return nil, err
	}

	if err := loadEnvString(&config.RedisURL, "REDIS_URL", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.NotifyURL, "NOTIFY_URL", ""); err != nil {
		return nil, err
	}

	if err := loadEnvInt(&config.HTTPPort, "HTTP_PORT", 8080); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate performs validation on the loaded configuration.
func (c *Config) Validate() error {
	if c.StartURL == "" {
		return fmt.Errorf("START_URL must not be empty")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("CONCURRENCY must be at least 1")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be at least 1")
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if (c.SupabaseURL == "") != (c.SupabaseKey == "") {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_KEY must be set together")
	}
	return nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}
