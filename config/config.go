package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string `env:"POSTGRES_HOST" env-default:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT" env-default:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" env-default:"scraper"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" env-default:"scraper123"`
	PostgresDB       string `env:"POSTGRES_DB" env-default:"ebay_db"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" env-default:"disable"`

	// Store selects the storage backend: postgres or memory (dry run).
	Store     string   `env:"STORE" env-default:"postgres" validate:"oneof=postgres memory"`
	StoreURLs []string `env:"STORE_URLS" env-separator:","`

	PageSize      int           `env:"PAGE_SIZE" env-default:"200" validate:"gte=1,lte=200"`
	BatchSize     int           `env:"BATCH_SIZE" env-default:"50" validate:"gte=1"`
	RotateEvery   int           `env:"ROTATE_EVERY" env-default:"5000" validate:"gte=1"`
	FetchTimeout  time.Duration `env:"FETCH_TIMEOUT" env-default:"20s" validate:"gt=0"`
	IngestTimeout time.Duration `env:"INGEST_TIMEOUT" env-default:"120s" validate:"gt=0"`
	MinDelay      time.Duration `env:"MIN_DELAY" env-default:"400ms" validate:"gte=0"`
	MaxDelay      time.Duration `env:"MAX_DELAY" env-default:"800ms" validate:"gtefield=MinDelay"`

	MaxConcurrency int `env:"MAX_CONCURRENCY" env-default:"2" validate:"gte=1"`
	RateLimitMs    int `env:"RATE_LIMIT_MS" env-default:"1000" validate:"gte=0"`
	MaxRetries     int `env:"MAX_RETRIES" env-default:"3" validate:"gte=1"`

	UserAgent string `env:"USER_AGENT"`
	Referer   string `env:"REFERER" env-default:"https://www.ebay.com/" validate:"omitempty,url"`

	Proxies       []string      `env:"PROXIES" env-separator:","`
	ProxyListURL  string        `env:"PROXY_LIST_URL" validate:"omitempty,url"`
	ProxyCacheTTL time.Duration `env:"PROXY_CACHE_TTL" env-default:"30m"`
	RedisAddr     string        `env:"REDIS_ADDR" validate:"omitempty,hostname_port"`
	RedisDB       int           `env:"REDIS_DB" env-default:"0" validate:"gte=0"`

	MetricsAddr string `env:"METRICS_ADDR"`
	LogFile     string `env:"LOG_FILE"`
	LogLevel    string `env:"LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn warning error"`
}

var validate = validator.New()

// Load reads the .env file, then the environment, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	cfg.StoreURLs = compact(cfg.StoreURLs)
	cfg.Proxies = compact(cfg.Proxies)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field ranges and cross-field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// compact trims entries and drops blanks.
func compact(list []string) []string {
	out := list[:0]
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
