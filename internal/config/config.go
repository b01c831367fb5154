package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	Server   ServerConfig
	Fetch    FetchConfig
	Browser  BrowserConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Search   SearchConfig
	Ranking  RankingConfig
	Refresh  RefreshConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type FetchConfig struct {
	// Mode is "http" or "browser".
	Mode         string
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
}

type StorageConfig struct {
	// Backend is "sqlite", "postgres" or "file".
	Backend    string
	SQLitePath string
	FilePath   string
}

type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Addr              string
	Password          string
	DB                int
	Stream            string
	RelayPollInterval time.Duration
	RelayBatchSize    int
}

type SearchConfig struct {
	Sites             []string
	Concurrency       int
	SiteTimeout       time.Duration
	MaxResultsPerSite int
	CacheTTL          time.Duration
}

type RankingConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

type RefreshConfig struct {
	Schedule     string
	Concurrency  int
	RateLimitMin time.Duration
	RateLimitMax time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8000"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 90*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Fetch: FetchConfig{
			Mode:         getEnvOrDefault("FETCH_MODE", "http"),
			Timeout:      getDurationOrDefault("FETCH_TIMEOUT", 15*time.Second),
			UserAgent:    getEnvOrDefault("FETCH_USER_AGENT", ""),
			MaxBodyBytes: int64(getIntOrDefault("FETCH_MAX_BODY_BYTES", 5<<20)),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/New_York"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Storage: StorageConfig{
			Backend:    strings.ToLower(getEnvOrDefault("STORAGE_BACKEND", "sqlite")),
			SQLitePath: getEnvOrDefault("SQLITE_PATH", "products.db"),
			FilePath:   getEnvOrDefault("STORAGE_FILE", "products.json"),
		},
		Database: DatabaseConfig{
			URL:      getEnvOrDefault("DATABASE_URL", ""),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "price_tracker"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:              getEnvOrDefault("REDIS_ADDR", ""),
			Password:          getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:                getIntOrDefault("REDIS_DB", 0),
			Stream:            getEnvOrDefault("REDIS_STREAM", "stream:price_tracker"),
			RelayPollInterval: getDurationOrDefault("RELAY_POLL_INTERVAL", 5*time.Second),
			RelayBatchSize:    getIntOrDefault("RELAY_BATCH_SIZE", 100),
		},
		Search: SearchConfig{
			Sites:             getStringSliceOrDefault("SEARCH_SITES", []string{"amazon", "ebay"}),
			Concurrency:       getIntOrDefault("SEARCH_CONCURRENCY", 2),
			SiteTimeout:       getDurationOrDefault("SEARCH_SITE_TIMEOUT", 20*time.Second),
			MaxResultsPerSite: getIntOrDefault("SEARCH_MAX_RESULTS", 10),
			CacheTTL:          getDurationOrDefault("SEARCH_CACHE_TTL", 10*time.Minute),
		},
		Ranking: RankingConfig{
			URL:     getEnvOrDefault("RANKING_URL", ""),
			APIKey:  getEnvOrDefault("RANKING_API_KEY", ""),
			Timeout: getDurationOrDefault("RANKING_TIMEOUT", 30*time.Second),
		},
		Refresh: RefreshConfig{
			Schedule:     getEnvOrDefault("REFRESH_SCHEDULE", ""),
			Concurrency:  getIntOrDefault("REFRESH_CONCURRENCY", 2),
			RateLimitMin: getDurationOrDefault("REFRESH_RATE_LIMIT_MIN", 2*time.Second),
			RateLimitMax: getDurationOrDefault("REFRESH_RATE_LIMIT_MAX", 5*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid SERVER_PORT: %q", c.Server.Port)
	}

	switch c.Fetch.Mode {
	case "http", "browser":
	default:
		return fmt.Errorf("FETCH_MODE must be http or browser, got %q", c.Fetch.Mode)
	}

	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}

	switch c.Storage.Backend {
	case "sqlite", "file":
	case "postgres":
		if c.Database.URL == "" && (c.Database.Host == "" || c.Database.DBName == "") {
			return fmt.Errorf("postgres backend requires DATABASE_URL or DB_HOST and DB_NAME")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be sqlite, postgres or file, got %q", c.Storage.Backend)
	}

	if c.Search.Concurrency < 1 {
		return fmt.Errorf("SEARCH_CONCURRENCY must be at least 1")
	}

	if c.Refresh.Concurrency < 1 {
		return fmt.Errorf("REFRESH_CONCURRENCY must be at least 1")
	}

	if c.Refresh.RateLimitMin > c.Refresh.RateLimitMax {
		return fmt.Errorf("REFRESH_RATE_LIMIT_MIN cannot be greater than REFRESH_RATE_LIMIT_MAX")
	}

	if c.Refresh.Schedule != "" {
		if _, err := cron.ParseStandard(c.Refresh.Schedule); err != nil {
			return fmt.Errorf("invalid REFRESH_SCHEDULE %q: %w", c.Refresh.Schedule, err)
		}
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
