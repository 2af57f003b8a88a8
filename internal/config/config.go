package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"cosmossdk.io/math"
	_ "github.com/joho/godotenv/autoload"
)

const BPS_DENOMINATOR = 10_000

// Economics holds every monetary constant of a round. Amounts are in wei,
// shares in basis points.
type Economics struct {
	GuessPriceWei math.Int
	// Share of each paid guess that goes into the prize pool; the rest is
	// seed for the next round.
	GuessPoolShareBps int64
	SeedCapWei        math.Int

	WinnerShareBps     int64
	ReferrerShareBps   int64
	TopGuesserShareBps int64

	// When the winner has no referrer, the referrer share is split between
	// the top-guesser pool and the next round's seed.
	NoReferrerToTopGuessersBps int64
	NoReferrerToSeedBps        int64

	// Descending tier table applied to the top-guesser pool, rank 1 first.
	TopGuesserTiersBps []int64
	// Only guesses with a sequence index at or below this count toward
	// leaderboard rank.
	TopGuesserLockThreshold int

	BonusWordCount   int
	BonusRewardUnits int64
}

// DefaultEconomics is the 80/10/10 revision with the 7.5/2.5 no-referrer
// redirect and a 750 guess lock.
func DefaultEconomics() Economics {
	return Economics{
		GuessPriceWei:     math.NewInt(300_000_000_000_000), // 0.0003 ETH
		GuessPoolShareBps: 8000,
		SeedCapWei:        math.NewInt(30_000_000_000_000_000), // 0.03 ETH

		WinnerShareBps:     8000,
		ReferrerShareBps:   1000,
		TopGuesserShareBps: 1000,

		NoReferrerToTopGuessersBps: 750,
		NoReferrerToSeedBps:        250,

		TopGuesserTiersBps:      []int64{1900, 1600, 1400, 1100, 1000, 600, 600, 600, 600, 600},
		TopGuesserLockThreshold: 750,

		BonusWordCount:   10,
		BonusRewardUnits: 5_000_000,
	}
}

func (e Economics) TopGuesserSlots() int { return len(e.TopGuesserTiersBps) }

// Validate checks that every split accounts for the whole amount it divides.
func (e Economics) Validate() error {
	if e.GuessPriceWei.IsNil() || e.GuessPriceWei.IsNegative() {
		return fmt.Errorf("config: guess price must be non-negative")
	}
	if e.SeedCapWei.IsNil() || e.SeedCapWei.IsNegative() {
		return fmt.Errorf("config: seed cap must be non-negative")
	}
	if e.GuessPoolShareBps < 0 || e.GuessPoolShareBps > BPS_DENOMINATOR {
		return fmt.Errorf("config: guess pool share %d out of range", e.GuessPoolShareBps)
	}
	if sum := e.WinnerShareBps + e.ReferrerShareBps + e.TopGuesserShareBps; sum != BPS_DENOMINATOR {
		return fmt.Errorf("config: jackpot shares sum to %d bps, want %d", sum, BPS_DENOMINATOR)
	}
	if sum := e.NoReferrerToTopGuessersBps + e.NoReferrerToSeedBps; sum != e.ReferrerShareBps {
		return fmt.Errorf("config: no-referrer redirect sums to %d bps, want %d", sum, e.ReferrerShareBps)
	}
	if len(e.TopGuesserTiersBps) == 0 {
		return fmt.Errorf("config: empty top guesser tier table")
	}
	var tiers int64
	for i, t := range e.TopGuesserTiersBps {
		if t <= 0 {
			return fmt.Errorf("config: tier %d must be positive", i+1)
		}
		if i > 0 && t > e.TopGuesserTiersBps[i-1] {
			return fmt.Errorf("config: tier table must be non-increasing at rank %d", i+1)
		}
		tiers += t
	}
	if tiers != BPS_DENOMINATOR {
		return fmt.Errorf("config: tier table sums to %d bps, want %d", tiers, BPS_DENOMINATOR)
	}
	if e.TopGuesserLockThreshold <= 0 {
		return fmt.Errorf("config: top guesser lock threshold must be positive")
	}
	if e.BonusWordCount < 0 {
		return fmt.Errorf("config: bonus word count must be non-negative")
	}
	return nil
}

type Config struct {
	HTTPAddr      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SentryDSN     string
	AnswerKeyHex  string
	CommitProfile string
	Economics     Economics
}

// Load reads the environment (and .env through godotenv).
func Load() (Config, error) {
	econ := DefaultEconomics()
	if v := os.Getenv("GUESS_PRICE_WEI"); v != "" {
		price, ok := math.NewIntFromString(v)
		if !ok {
			return Config{}, fmt.Errorf("config: invalid GUESS_PRICE_WEI %q", v)
		}
		econ.GuessPriceWei = price
	}
	if v := os.Getenv("SEED_CAP_WEI"); v != "" {
		capWei, ok := math.NewIntFromString(v)
		if !ok {
			return Config{}, fmt.Errorf("config: invalid SEED_CAP_WEI %q", v)
		}
		econ.SeedCapWei = capWei
	}
	econ.TopGuesserLockThreshold = getEnvAsInt("TOP_GUESSER_LOCK_THRESHOLD", econ.TopGuesserLockThreshold)
	econ.BonusWordCount = getEnvAsInt("BONUS_WORD_COUNT", econ.BonusWordCount)

	if err := econ.Validate(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:   databaseURL(),
		RedisAddr:     getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		SentryDSN:     getEnv("SENTRY_DSN", ""),
		AnswerKeyHex:  getEnv("ANSWER_KEY", ""),
		CommitProfile: strings.ToLower(getEnv("COMMIT_PROFILE", "sha256")),
		Economics:     econ,
	}
	return cfg, nil
}

func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		getEnv("BLUEPRINT_DB_USERNAME", "postgres"),
		getEnv("BLUEPRINT_DB_PASSWORD", "postgres"),
		getEnv("BLUEPRINT_DB_HOST", "localhost"),
		getEnv("BLUEPRINT_DB_PORT", "5432"),
		getEnv("BLUEPRINT_DB_DATABASE", "wordpot"),
		getEnv("BLUEPRINT_DB_SCHEMA", "public"),
	)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
