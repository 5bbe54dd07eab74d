package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage backends
const (
	BackendSQLite     = "sqlite"
	BackendClickHouse = "clickhouse"
	BackendMock       = "mock"
)

// devSessionSecret signs tokens when running on the mock backend without a secret
const devSessionSecret = "bookshelf-dev-secret"

// Config holds the application configuration
type Config struct {
	Port     string `env:"PORT"      envDefault:"8080"`
	AppEnv   string `env:"APP_ENV"   envDefault:"production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Storage configuration
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"sqlite"`
	UseMockDB      bool   `env:"USE_MOCK_DB"`
	SQLitePath     string `env:"SQLITE_PATH"     envDefault:"./data/bookshelf.db"`

	// ClickHouse configuration
	ClickHouseHost     string `env:"CLICKHOUSE_HOST"`
	ClickHousePort     int    `env:"CLICKHOUSE_PORT"     envDefault:"9000"`
	ClickHouseDatabase string `env:"CLICKHOUSE_DATABASE" envDefault:"default"`
	ClickHouseUser     string `env:"CLICKHOUSE_USER"     envDefault:"default"`
	ClickHousePassword string `env:"CLICKHOUSE_PASSWORD"`
	ClickHouseUseTLS   bool   `env:"CLICKHOUSE_USE_TLS"`

	SessionSecret string        `env:"SESSION_SECRET"`
	SessionTTL    time.Duration `env:"SESSION_TTL"    envDefault:"24h"`

	CatalogBaseURL   string        `env:"CATALOG_BASE_URL"   envDefault:"https://openlibrary.org"`
	CatalogCoversURL string        `env:"CATALOG_COVERS_URL" envDefault:"https://covers.openlibrary.org"`
	CatalogTimeout   time.Duration `env:"CATALOG_TIMEOUT"    envDefault:"5s"`

	// Session notifications; disabled when the token is empty
	TelegramToken    string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   int64  `env:"TELEGRAM_NOTIFY_CHAT_ID"`
	TelegramThreadID int    `env:"TELEGRAM_NOTIFY_THREAD_ID"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
	if c.UseMockDB {
		c.StorageBackend = BackendMock
	}

	switch c.StorageBackend {
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORAGE_BACKEND is sqlite")
		}
	case BackendClickHouse:
		if c.ClickHouseHost == "" {
			return fmt.Errorf("CLICKHOUSE_HOST is required when STORAGE_BACKEND is clickhouse")
		}
	case BackendMock:
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND %q (want sqlite, clickhouse or mock)", c.StorageBackend)
	}

	if c.SessionSecret == "" {
		if c.StorageBackend != BackendMock {
			return fmt.Errorf("SESSION_SECRET is required unless USE_MOCK_DB is set")
		}
		c.SessionSecret = devSessionSecret
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}

	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		return fmt.Errorf("TELEGRAM_NOTIFY_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	return nil
}

// Development reports whether the app runs with development defaults
func (c *Config) Development() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

// NotificationsEnabled reports whether session notifications are configured
func (c *Config) NotificationsEnabled() bool {
	return c.TelegramToken != ""
}
