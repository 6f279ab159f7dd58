package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config carries all runtime settings. Values come from the
// environment, with a .env file loaded when present so local
// development does not need exported variables.
type Config struct {
	Port         string
	DatabasePath string

	JWTSecret         string
	OperatorAPIKey    string
	OperatorAPISecret string

	// ChainRPCs maps chain id to RPC endpoint, parsed from
	// CHAIN_RPCS="8453=https://...,137=https://...".
	ChainRPCs    map[int64]string
	HotWalletKey string

	ConfirmTimeout  time.Duration
	ProcessInterval time.Duration

	OnRampMarkup    decimal.Decimal
	OffRampDiscount decimal.Decimal
	QuoteTTL        time.Duration
	RateAPIBaseURL  string
}

func Load() (*Config, error) {
	// Missing .env is fine; the environment may be fully exported.
	_ = godotenv.Load()

	confirmTimeout, err := getEnvDuration("CONFIRM_TIMEOUT", 2*time.Minute)
	if err != nil {
		return nil, err
	}

	processInterval, err := getEnvDuration("PROCESS_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}

	quoteTTL, err := getEnvDuration("QUOTE_TTL", 60*time.Second)
	if err != nil {
		return nil, err
	}

	onRampMarkup, err := getEnvDecimal("ON_RAMP_MARKUP_PERCENT", "1.5")
	if err != nil {
		return nil, err
	}

	offRampDiscount, err := getEnvDecimal("OFF_RAMP_DISCOUNT_PERCENT", "1.0")
	if err != nil {
		return nil, err
	}

	chainRPCs, err := parseChainRPCs(getEnvString("CHAIN_RPCS", ""))
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:              getEnvString("PORT", "8080"),
		DatabasePath:      getEnvString("DATABASE_PATH", "ramp.db"),
		JWTSecret:         getEnvString("JWT_SECRET", "ramp-dev-secret"),
		OperatorAPIKey:    getEnvString("OPERATOR_API_KEY", "operator-api-key"),
		OperatorAPISecret: getEnvString("OPERATOR_API_SECRET", "operator-api-secret"),
		ChainRPCs:         chainRPCs,
		HotWalletKey:      getEnvString("HOT_WALLET_KEY", ""),
		ConfirmTimeout:    confirmTimeout,
		ProcessInterval:   processInterval,
		OnRampMarkup:      onRampMarkup,
		OffRampDiscount:   offRampDiscount,
		QuoteTTL:          quoteTTL,
		RateAPIBaseURL:    getEnvString("RATE_API_BASE_URL", ""),
	}, nil
}

func parseChainRPCs(raw string) (map[int64]string, error) {
	rpcs := make(map[int64]string)
	if raw == "" {
		return rpcs, nil
	}

	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid CHAIN_RPCS entry %q, expected chainID=url", pair)
		}
		chainID, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain id in CHAIN_RPCS entry %q: %w", pair, err)
		}
		rpcs[chainID] = parts[1]
	}
	return rpcs, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvDecimal(key, defaultValue string) (decimal.Decimal, error) {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal for %s: %w", key, err)
	}
	return parsed, nil
}
