// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Ledger settings
	XRPLURL        string // rippled websocket endpoint
	LedgerTimeout  time.Duration
	AdminWalletRef string // sysconfig row id holding the issuing wallet (optional override)

	// Settlement settings
	EarnRateBp        int64 // points earned per payment, in basis points of the final amount
	EscrowBufferDays  int   // CancelAfter = FinishAfter + buffer
	ReturnDaysDefault int   // product return window fallback
	SchedulerInterval time.Duration
	OrderLookbackDays int // how far back the order expiry sweep scans

	// Security
	JWTSecret   string
	AdminSecret string

	// Observability
	OTLPEndpoint string
}

// Defaults
const (
	DefaultXRPLURL           = "wss://s.altnet.rippletest.net:51233"
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultEarnRateBp        = 500 // 5%
	DefaultEscrowBufferDays  = 7
	DefaultReturnDays        = 7
	DefaultSchedulerInterval = 60 * time.Second
	DefaultOrderLookbackDays = 7
	DefaultLedgerTimeout     = 30 * time.Second
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		XRPLURL:           getEnv("XRPL_RPC_URL", DefaultXRPLURL),
		LedgerTimeout:     getEnvDuration("LEDGER_TIMEOUT", DefaultLedgerTimeout),
		EarnRateBp:        getEnvInt64("EARN_RATE_BP", DefaultEarnRateBp),
		EscrowBufferDays:  int(getEnvInt64("ESCROW_BUFFER_DAYS", DefaultEscrowBufferDays)),
		ReturnDaysDefault: int(getEnvInt64("RETURN_DAYS_DEFAULT", DefaultReturnDays)),
		SchedulerInterval: getEnvDuration("SCHEDULER_INTERVAL", DefaultSchedulerInterval),
		OrderLookbackDays: int(getEnvInt64("ORDER_LOOKBACK_DAYS", DefaultOrderLookbackDays)),
		JWTSecret:         os.Getenv("JWT_SECRET"), // Required, no default
		AdminSecret:       os.Getenv("ADMIN_SECRET"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and sane.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.XRPLURL == "" {
		return fmt.Errorf("XRPL_RPC_URL is required")
	}
	if c.EarnRateBp < 0 || c.EarnRateBp > 10_000 {
		return fmt.Errorf("EARN_RATE_BP must be between 0 and 10000, got %d", c.EarnRateBp)
	}
	if c.SchedulerInterval < time.Second {
		return fmt.Errorf("SCHEDULER_INTERVAL must be at least 1s, got %s", c.SchedulerInterval)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
