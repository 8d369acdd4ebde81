package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the execution core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Execution
	MarginBufferPct  float64 // fraction of required margin kept free (0.20 = 20%)
	ExecutionEnabled bool
	DefaultLeverage  int

	// Reconciliation
	ReconcileInterval time.Duration
	PriceMaxAge       time.Duration

	// Copy trading
	FanOutWorkers int
	CopyFeeRate   float64 // share of fee-eligible profit (decimal)

	// Market data
	EnablePriceStream bool
	PriceStreamSymbols []string

	// Outbound pacing (requests per second per venue)
	VenueRequestsPerSec float64
	VenueBurst          int

	// Auth
	JWTSecret string

	// Instrument metadata
	InstrumentsPath string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                getEnv("PORT", "8080"),
		DBPath:              getEnv("DB_PATH", "./data/execution.db"),
		MarginBufferPct:     getEnvFloat("MARGIN_BUFFER_PCT", 0.20),
		ExecutionEnabled:    getEnv("EXECUTION_ENABLED", "true") == "true",
		DefaultLeverage:     getEnvInt("DEFAULT_LEVERAGE", 1),
		ReconcileInterval:   getEnvDuration("RECONCILE_INTERVAL", 30*time.Second),
		PriceMaxAge:         getEnvDuration("PRICE_MAX_AGE", 10*time.Second),
		FanOutWorkers:       getEnvInt("FANOUT_WORKERS", 4),
		CopyFeeRate:         getEnvFloat("COPY_FEE_RATE", 0.10),
		EnablePriceStream:   getEnv("ENABLE_PRICE_STREAM", "true") == "true",
		PriceStreamSymbols:   splitAndTrim(getEnv("PRICE_STREAM_SYMBOLS", "BTCUSDT,ETHUSDT")),
		VenueRequestsPerSec: getEnvFloat("VENUE_REQUESTS_PER_SEC", 5),
		VenueBurst:          getEnvInt("VENUE_BURST", 10),
		JWTSecret:           getEnv("JWT_SECRET", "dev-secret"),
		InstrumentsPath:     getEnv("INSTRUMENTS_PATH", "./config/instruments.yaml"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
