// Package config loads the risk engine's two-tier configuration (spec
// §6): environment variables for secrets and process-level settings, plus
// a YAML document (rules.go) for the rule set, general settings, and the
// daily reset timer. Grounded on the teacher's internal/config (env var
// helpers, godotenv) and its internal/modules/planning/config package
// (YAML-document + Validator shape for structured configuration).
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds process-level settings sourced from the environment (spec
// §6: "Required environment variables: broker API key and username.
// Optional: chat/notification credentials, log level, environment tag.").
type Config struct {
	Port    int
	DevMode bool

	DatabasePath string
	RulesPath    string

	BrokerAPIKey   string
	BrokerUsername string
	BrokerBaseURL  string

	NotificationWebhookURL string

	LogLevel    string
	Environment string
}

// Load reads process configuration from the environment, loading a .env
// file first if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnvAsInt("PORT", 8080),
		DevMode:                getEnvAsBool("DEV_MODE", false),
		DatabasePath:           getEnv("DATABASE_PATH", "./data/risk.db"),
		RulesPath:              getEnv("RULES_PATH", "./config/rules.yaml"),
		BrokerAPIKey:           getEnv("BROKER_API_KEY", ""),
		BrokerUsername:         getEnv("BROKER_USERNAME", ""),
		BrokerBaseURL:          getEnv("BROKER_BASE_URL", "http://localhost:9090"),
		NotificationWebhookURL: getEnv("NOTIFICATION_WEBHOOK_URL", ""),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		Environment:            getEnv("ENVIRONMENT", "production"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the environment-sourced fields a running process cannot
// do without (spec §7 ConfigInvalid: "detected at load time; process
// exits with code 2").
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.RulesPath == "" {
		return fmt.Errorf("RULES_PATH is required")
	}
	if c.BrokerAPIKey == "" {
		return fmt.Errorf("BROKER_API_KEY is required")
	}
	if c.BrokerUsername == "" {
		return fmt.Errorf("BROKER_USERNAME is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
