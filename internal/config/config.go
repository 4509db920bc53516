package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBSource string // empty selects the in-memory store (development only)
	Port     string
	Env      string

	OperatorKey string // operator credential; signs vouchers and claim txs
	AuthSecret  string
	AuthIssuer  string

	ChainRPCURL   string
	ChainPackage  string
	ChainCoinType string
	ChainNetwork  string

	SponsorURL    string
	SponsorAPIKey string

	PricePerCall   uint64
	SponsorTimeout time.Duration
	ExecuteTimeout time.Duration
}

func Load() (*Config, error) {
	operatorKey := os.Getenv("OPERATOR_API_KEY")
	if operatorKey == "" {
		return nil, fmt.Errorf("OPERATOR_API_KEY environment variable is required")
	}

	authSecret := os.Getenv("AUTH_SECRET")
	if authSecret == "" {
		return nil, fmt.Errorf("AUTH_SECRET environment variable is required")
	}

	price, err := envUint("PRICE_PER_CALL", 100_000)
	if err != nil {
		return nil, err
	}
	sponsorTimeout, err := envDuration("SPONSOR_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	executeTimeout, err := envDuration("EXECUTE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	return &Config{
		DBSource:       os.Getenv("DB_SOURCE"),
		Port:           envDefault("SERVER_PORT", "8080"),
		Env:            envDefault("ENVIRONMENT", "development"),
		OperatorKey:    operatorKey,
		AuthSecret:     authSecret,
		AuthIssuer:     envDefault("AUTH_ISSUER", "tunnelpay"),
		ChainRPCURL:    envDefault("CHAIN_RPC_URL", "https://fullnode.testnet.sui.io:443"),
		ChainPackage:   os.Getenv("CHAIN_PACKAGE_ID"),
		ChainCoinType:  os.Getenv("CHAIN_COIN_TYPE"),
		ChainNetwork:   envDefault("CHAIN_NETWORK", "testnet"),
		SponsorURL:     envDefault("GAS_STATION_URL", "https://gas.movevm.tools/api/sponsor"),
		SponsorAPIKey:  os.Getenv("GAS_STATION_API_KEY"),
		PricePerCall:   price,
		SponsorTimeout: sponsorTimeout,
		ExecuteTimeout: executeTimeout,
	}, nil
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envUint(key string, fallback uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an unsigned integer: %w", key, err)
	}
	return parsed, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return parsed, nil
}
