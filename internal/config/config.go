package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the settings needed to run a backtest or a live paper-trade
// loop. It is intentionally small: the engine itself takes no
// configuration, only the driver/CLI layer around it does.
type Config struct {
	DataDir string

	LogLevel string

	StatusPort int

	// SeedCapital is the capital a root strategy is adjusted with before
	// the first tick of a backtest.
	SeedCapital float64

	// PaperSeedCapital is the PAPER_SEED_CAPITAL setting, a positive amount
	// for engine.Strategy.SetPaperSeedCapital. cmd/backtest does not pass it
	// on, so paper-trade twins there keep the engine default of 1,000,000.
	PaperSeedCapital float64

	// CronSchedule is a robfig/cron expression for driver.LiveDriver.Start.
	// cmd/backtest does not start a LiveDriver and does not read it.
	CronSchedule string

	// S3Bucket, when non-empty, enables archiving a completed run's
	// snapshot database to S3.
	S3Bucket string
}

// Load reads configuration from a .env file (if present) and the process
// environment, applying defaults for anything unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:          getEnv("DATA_DIR", "./data"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		StatusPort:       getEnvAsInt("STATUS_PORT", 8090),
		SeedCapital:      getEnvAsFloat("SEED_CAPITAL", 1_000_000),
		PaperSeedCapital: getEnvAsFloat("PAPER_SEED_CAPITAL", 1_000_000),
		CronSchedule:     getEnv("CRON_SCHEDULE", "@every 1m"),
		S3Bucket:         getEnv("S3_BUCKET", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	return cfg, nil
}

// Validate checks that the loaded configuration is internally consistent.
func (c *Config) Validate() error {
	if c.SeedCapital < 0 {
		return fmt.Errorf("config: SEED_CAPITAL must not be negative, got %v", c.SeedCapital)
	}
	if c.PaperSeedCapital <= 0 {
		return fmt.Errorf("config: PAPER_SEED_CAPITAL must be positive, got %v", c.PaperSeedCapital)
	}
	if c.StatusPort <= 0 || c.StatusPort > 65535 {
		return fmt.Errorf("config: STATUS_PORT out of range: %d", c.StatusPort)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
