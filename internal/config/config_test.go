package config

import (
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultEconomics_Valid(t *testing.T) {
	require.NoError(t, DefaultEconomics().Validate())
	assert.Equal(t, 10, DefaultEconomics().TopGuesserSlots())
}

func TestEconomics_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *Economics)
	}{
		{"shares do not sum", func(e *Economics) { e.WinnerShareBps = 7000 }},
		{"redirect does not sum", func(e *Economics) { e.NoReferrerToSeedBps = 300 }},
		{"tiers do not sum", func(e *Economics) { e.TopGuesserTiersBps = []int64{5000, 4000} }},
		{"tiers increasing", func(e *Economics) { e.TopGuesserTiersBps = []int64{4000, 6000} }},
		{"empty tiers", func(e *Economics) { e.TopGuesserTiersBps = nil }},
		{"zero lock", func(e *Economics) { e.TopGuesserLockThreshold = 0 }},
		{"pool share out of range", func(e *Economics) { e.GuessPoolShareBps = 12000 }},
		{"negative cap", func(e *Economics) { e.SeedCapWei = math.NewInt(-1) }},
		{"nil price", func(e *Economics) { e.GuessPriceWei = math.Int{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := DefaultEconomics()
			tt.mutate(&e)
			assert.Error(t, e.Validate())
		})
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("GUESS_PRICE_WEI", "1000")
	t.Setenv("SEED_CAP_WEI", "5000")
	t.Setenv("TOP_GUESSER_LOCK_THRESHOLD", "850")
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("DATABASE_URL", "postgres://x@y/z")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "1000", cfg.Economics.GuessPriceWei.String())
	assert.Equal(t, "5000", cfg.Economics.SeedCapWei.String())
	assert.Equal(t, 850, cfg.Economics.TopGuesserLockThreshold)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, "postgres://x@y/z", cfg.DatabaseURL)
}

func TestLoad_InvalidPrice(t *testing.T) {
	t.Setenv("GUESS_PRICE_WEI", "0.1")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_Redis(t *testing.T) {
	t.Setenv("REDIS_URL", "cache:6380")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("REDIS_DB", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", cfg.RedisAddr)
	assert.Equal(t, "secret", cfg.RedisPassword)
	assert.Equal(t, 2, cfg.RedisDB)
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		defaultVal string
		envValue   string
		want       string
	}{
		{"Environment variable exists", "TEST_KEY_EXISTS", "default", "custom_value", "custom_value"},
		{"Environment variable does not exist", "TEST_KEY_NOT_EXISTS", "default_value", "", "default_value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}
			if got := getEnv(tt.key, tt.defaultVal); got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		defaultVal int
		envValue   string
		want       int
	}{
		{"Valid integer", "TEST_INT_VALID", 0, "42", 42},
		{"Invalid integer", "TEST_INT_INVALID", 10, "not_a_number", 10},
		{"Empty value", "TEST_INT_EMPTY", 5, "", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}
			if got := getEnvAsInt(tt.key, tt.defaultVal); got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}
