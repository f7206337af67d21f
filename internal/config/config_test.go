package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const strongSecret = "k9F2#xQv7Lm!pR4tZ8wB1nY6cH3dJ0sE"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SERVER_PORT", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("REPORT_POLL_CRON", "")
	t.Setenv("RATE_REFRESH_CRON", "")
	t.Setenv("RATE_BASE_CURRENCIES", "usd, eur ,")
	t.Setenv("JWT_TTL", "bogus")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, "*/5 * * * *", cfg.ReportPollCron)
	assert.Equal(t, "0 2 * * *", cfg.RateRefreshCron)
	assert.Equal(t, []string{"USD", "EUR"}, cfg.RateBaseCurrencies)
	assert.Equal(t, time.Hour, cfg.JWTTTL)
}

func TestValidate_JWTSecretIsFatal(t *testing.T) {
	cfg := &Config{StoreDriver: DriverMemory, JWTSecret: "secret"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")

	cfg.JWTSecret = ""
	require.ErrorContains(t, cfg.Validate(), "JWT_SECRET is required")

	cfg.JWTSecret = strongSecret
	assert.NoError(t, cfg.Validate())
}

func TestValidate_StoreDriver(t *testing.T) {
	cfg := &Config{StoreDriver: DriverPostgres, JWTSecret: strongSecret}
	assert.ErrorContains(t, cfg.Validate(), "DATABASE_URL")

	cfg.StoreDriver = "sqlite"
	assert.ErrorContains(t, cfg.Validate(), "unknown STORE_DRIVER")

	cfg.StoreDriver = DriverMemory
	cfg.Environment = "production"
	assert.Error(t, cfg.Validate())
}

func TestAIEnabled(t *testing.T) {
	cfg := &Config{}
	ok, err := cfg.AIEnabled()
	assert.False(t, ok)
	assert.Error(t, err)

	cfg.OpenAIAPIKey = "sk-tooshort"
	ok, _ = cfg.AIEnabled()
	assert.False(t, ok)

	cfg.OpenAIAPIKey = "sk-proj-0123456789abcdefghijklmnopqrstuvwxyz"
	ok, err = cfg.AIEnabled()
	assert.True(t, ok)
	assert.NoError(t, err)
}
