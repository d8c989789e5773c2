package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/uhyunpark/marketstake/pkg/app/core/market"
	"github.com/uhyunpark/marketstake/pkg/app/core/orderbook"
)

type Storage struct {
	// DataDir holds the Pebble database and the event log.
	// Empty keeps all state in memory.
	DataDir string
}

type API struct {
	Addr        string
	CORSOrigins []string
}

type Log struct {
	File    string // also log to this file when set
	Verbose bool   // debug level: log every committed operation
}

type Market struct {
	Variant            string // "metered" | "unmetered"
	SharedLedger       bool
	UnmeteredTolerance string // "bypass" | "enforce"
	MeteredTolerance   string // "enforce" | "bypass"
	EventHistory       int
}

type Config struct {
	Storage Storage
	API     API
	Log     Log
	Market  Market
}

func Default() Config {
	return Config{
		Storage: Storage{DataDir: "data"},
		API: API{
			Addr:        ":8080",
			CORSOrigins: []string{"*"},
		},
		Market: Market{
			Variant:            "unmetered",
			UnmeteredTolerance: "bypass",
			MeteredTolerance:   "enforce",
			EventHistory:       1024,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if dir, ok := os.LookupEnv("DATA_DIR"); ok {
		cfg.Storage.DataDir = dir
	}
	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.API.CORSOrigins = splitList(origins)
	}

	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	if v := os.Getenv("VERBOSE"); v != "" {
		cfg.Log.Verbose = v == "true" || v == "1"
	}

	cfg.Market.Variant = getEnv("MARKET_VARIANT", cfg.Market.Variant)
	if shared := os.Getenv("SHARED_LEDGER"); shared != "" {
		cfg.Market.SharedLedger = shared == "true"
	}
	cfg.Market.UnmeteredTolerance = getEnv("UNMETERED_TOLERANCE", cfg.Market.UnmeteredTolerance)
	cfg.Market.MeteredTolerance = getEnv("METERED_TOLERANCE", cfg.Market.MeteredTolerance)
	if n := os.Getenv("EVENT_HISTORY"); n != "" {
		if v, err := strconv.Atoi(n); err == nil && v > 0 {
			cfg.Market.EventHistory = v
		}
	}

	return cfg
}

// MarketVariant parses the configured variant
func (c Config) MarketVariant() (market.Variant, error) {
	return market.ParseVariant(c.Market.Variant)
}

// TolerancePolicy parses the per-variant tolerance modes
func (c Config) TolerancePolicy() (orderbook.Policy, error) {
	unmetered, err := orderbook.ParseToleranceMode(c.Market.UnmeteredTolerance)
	if err != nil {
		return orderbook.Policy{}, fmt.Errorf("UNMETERED_TOLERANCE: %w", err)
	}
	metered, err := orderbook.ParseToleranceMode(c.Market.MeteredTolerance)
	if err != nil {
		return orderbook.Policy{}, fmt.Errorf("METERED_TOLERANCE: %w", err)
	}
	return orderbook.Policy{Unmetered: unmetered, Metered: metered}, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
