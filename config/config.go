package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tradebridge/internal/adapters/logger"
	"tradebridge/internal/vault"
)

// Config holds all application configuration.
type Config struct {
	// HTTP
	HTTPAddr      string
	WebhookSecret string

	// Credential encryption
	EncryptionKey string

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel

	// Position reconciliation
	SyncInterval time.Duration

	// Exchange HTTP client
	ExchangeTimeout time.Duration
}

// Load reads configuration from the environment (.env file honored).
func Load() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.WebhookSecret = getEnv("WEBHOOK_SECRET", "")
	if cfg.WebhookSecret == "" {
		errs = append(errs, "WEBHOOK_SECRET must be set")
	}

	cfg.EncryptionKey = getEnv("ENCRYPTION_KEY", "")
	if cfg.EncryptionKey == "" || cfg.EncryptionKey == vault.DefaultSecret {
		errs = append(errs, "ENCRYPTION_KEY must be set to a non-default value")
	}

	cfg.DBPath = getEnv("DB_PATH", "./data/tradebridge.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	syncSeconds := getEnvAsInt("SYNC_INTERVAL_SECONDS", 10)
	if syncSeconds <= 0 {
		errs = append(errs, "SYNC_INTERVAL_SECONDS must be positive")
	}
	cfg.SyncInterval = time.Duration(syncSeconds) * time.Second

	timeoutSeconds := getEnvAsInt("EXCHANGE_TIMEOUT_SECONDS", 15)
	if timeoutSeconds <= 0 {
		errs = append(errs, "EXCHANGE_TIMEOUT_SECONDS must be positive")
	}
	cfg.ExchangeTimeout = time.Duration(timeoutSeconds) * time.Second

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
