package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"afms/internal/security"

	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Config holds every environment-driven setting for the server and CLI.
type Config struct {
	Port        string
	Environment string
	LogLevel    string

	StoreDriver   string
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string
	RedisURL      string

	JWTSecret      string
	JWTTTL         time.Duration
	AllowedOrigins []string

	OpenAIAPIKey string

	ExchangeRateAPIURL string
	ExchangeRateAPIKey string
	RateBaseCurrencies []string

	ReportPollCron  string
	RateRefreshCron string

	SuperadminEmail    string
	SuperadminPassword string
}

// Load reads .env (if present) and the process environment.
func Load() *Config {
	_ = godotenv.Load()

	ttl, err := time.ParseDuration(getEnv("JWT_TTL", "1h"))
	if err != nil {
		ttl = time.Hour
	}

	return &Config{
		Port:        getEnv("SERVER_PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		StoreDriver:   strings.ToLower(getEnv("STORE_DRIVER", DriverPostgres)),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "afms"),
		RedisURL:      os.Getenv("REDIS_URL"),

		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTTTL:         ttl,
		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),

		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),

		ExchangeRateAPIURL: getEnv("EXCHANGE_RATE_API_URL", "https://v6.exchangerate-api.com/v6"),
		ExchangeRateAPIKey: os.Getenv("EXCHANGE_RATE_API_KEY"),
		RateBaseCurrencies: upper(splitList(getEnv("RATE_BASE_CURRENCIES", "USD"))),

		ReportPollCron:  getEnv("REPORT_POLL_CRON", "*/5 * * * *"),
		RateRefreshCron: getEnv("RATE_REFRESH_CRON", "0 2 * * *"),

		SuperadminEmail:    os.Getenv("SUPERADMIN_EMAIL"),
		SuperadminPassword: os.Getenv("SUPERADMIN_PASSWORD"),
	}
}

// IsProduction reports whether ENVIRONMENT is "production".
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate returns the problems that must stop the server from starting.
// An unusable OpenAI key is not one of them; see AIEnabled.
func (c *Config) Validate() error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	} else if err := security.ValidateJWTSecret(c.JWTSecret); err != nil {
		errs = append(errs, fmt.Errorf("JWT_SECRET: %w", err))
	}

	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case DriverMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for the mongo store"))
		}
	case DriverMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("the memory store cannot be used in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	return errors.Join(errs...)
}

// AIEnabled reports whether OPENAI_API_KEY is present and well-formed. The
// returned error explains why AI features are disabled, if they are.
func (c *Config) AIEnabled() (bool, error) {
	if c.OpenAIAPIKey == "" {
		return false, errors.New("OPENAI_API_KEY is not set")
	}
	if err := security.ValidateOpenAIKey(c.OpenAIAPIKey); err != nil {
		return false, err
	}
	return true, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func upper(in []string) []string {
	for i := range in {
		in[i] = strings.ToUpper(in[i])
	}
	return in
}
