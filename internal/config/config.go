// Package config provides configuration management for the vault rebalancer.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Chain     ChainConfig
	Market    MarketConfig
	Ability   AbilityConfig
	Rebalance RebalanceConfig
	Scheduler SchedulerConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// ChainConfig holds configuration for the target chain
type ChainConfig struct {
	ChainID       int64
	Network       string
	RPCURL        string
	USDCAddress   string
	Confirmations int
}

// MarketConfig holds vault market data source configuration
type MarketConfig struct {
	BaseURL     string
	Timeout     time.Duration
	AssetSymbol string
}

// AbilityConfig holds delegated-signing ability service configuration
type AbilityConfig struct {
	BaseURL            string
	Timeout            time.Duration
	DelegateeAddress   string
	GasSponsor         bool
	GasSponsorAPIKey   string
	GasSponsorPolicyID string
}

// RebalanceConfig holds the rebalancing decision thresholds
type RebalanceConfig struct {
	// MinimumDepositBalance is expressed in whole-token units; the handler
	// scales it by the asset decimals before comparing raw balances.
	MinimumDepositBalance      float64
	MinimumYieldImprovementPct float64
	MinimumVaultTotalAssetsUSD float64
}

// SchedulerConfig holds the recurring-job runner configuration
type SchedulerConfig struct {
	PollInterval    time.Duration
	DefaultInterval string
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
}

// CacheConfig holds API read-cache configuration
type CacheConfig struct {
	TTL time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "vault_rebalancer"),
				User:           getEnv("POSTGRES_USER", "rebalancer"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "vault_rebalancer"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:     getEnv("REDIS_HOST", "localhost"),
				Port:     getEnv("REDIS_PORT", "6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvAsInt("REDIS_DB", 0),
			},
		},
		Chain: ChainConfig{
			ChainID:       int64(getEnvAsInt("CHAIN_ID", 8453)),
			Network:       getEnv("CHAIN_NETWORK", "base"),
			RPCURL:        getEnv("CHAIN_RPC_URL", ""),
			USDCAddress:   getEnv("USDC_ADDRESS", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
			Confirmations: getEnvAsInt("CHAIN_CONFIRMATIONS", 2),
		},
		Market: MarketConfig{
			BaseURL:     getEnv("MARKET_API_URL", "https://api.morpho.org"),
			Timeout:     getEnvAsDuration("MARKET_API_TIMEOUT", 30*time.Second),
			AssetSymbol: getEnv("MARKET_ASSET_SYMBOL", "USDC"),
		},
		Ability: AbilityConfig{
			BaseURL:            getEnv("ABILITY_API_URL", ""),
			Timeout:            getEnvAsDuration("ABILITY_API_TIMEOUT", 2*time.Minute),
			DelegateeAddress:   getEnv("ABILITY_DELEGATEE_ADDRESS", ""),
			GasSponsor:         getEnvAsBool("GAS_SPONSOR_ENABLED", false),
			GasSponsorAPIKey:   getEnv("GAS_SPONSOR_API_KEY", ""),
			GasSponsorPolicyID: getEnv("GAS_SPONSOR_POLICY_ID", ""),
		},
		Rebalance: RebalanceConfig{
			MinimumDepositBalance:      getEnvAsFloat("MINIMUM_DEPOSIT_BALANCE", 50),
			MinimumYieldImprovementPct: getEnvAsFloat("MINIMUM_YIELD_IMPROVEMENT_PERCENT", 1),
			MinimumVaultTotalAssetsUSD: getEnvAsFloat("MINIMUM_VAULT_TOTAL_ASSETS_USD", 1_000_000),
		},
		Scheduler: SchedulerConfig{
			PollInterval:    getEnvAsDuration("SCHEDULER_POLL_INTERVAL", 15*time.Second),
			DefaultInterval: getEnv("SCHEDULER_DEFAULT_INTERVAL", "weekly"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 10),
		},
		Cache: CacheConfig{
			TTL: getEnvAsDuration("CACHE_TTL", 5*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// Validate checks configuration values that have no sensible defaults
func (c *Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("CHAIN_RPC_URL is required")
	}
	if c.Ability.BaseURL == "" {
		return fmt.Errorf("ABILITY_API_URL is required")
	}
	if c.Chain.Confirmations < 1 {
		return fmt.Errorf("CHAIN_CONFIRMATIONS must be at least 1")
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
