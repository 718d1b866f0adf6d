package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds infrastructure-level configuration
type Config struct {
	// Transaction backend
	BackendURL       string
	BackendRateLimit float64

	// Wallet deep-link handshake
	Cluster      string
	AppURL       string
	RedirectLink string

	// Signature resolution
	AwaitMode       string // poll or manual
	PollInterval    time.Duration
	MaxPollAttempts int

	// Platform capabilities
	SupportsDeepLink bool

	// Database (optional; journaling and key fallback are disabled without it)
	PostgresDSN             string
	InsecureKeyFallback     bool
	InsecureKeyFallbackName string

	// Server
	Port int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		BackendURL:       getEnv("BACKEND_URL", ""),
		BackendRateLimit: getEnvFloat("BACKEND_RATE_LIMIT", 0),

		Cluster:      getEnv("WALLET_CLUSTER", "mainnet-beta"),
		AppURL:       getEnv("APP_URL", ""),
		RedirectLink: getEnv("REDIRECT_LINK", ""),

		AwaitMode:       getEnv("AWAIT_MODE", "poll"),
		PollInterval:    getEnvDuration("POLL_INTERVAL", 2*time.Second),
		MaxPollAttempts: getEnvInt("MAX_POLL_ATTEMPTS", 30),

		SupportsDeepLink: getEnvBool("SUPPORTS_DEEP_LINK", true),

		PostgresDSN:             getEnv("POSTGRES_DSN", ""),
		InsecureKeyFallback:     getEnvBool("INSECURE_KEY_FALLBACK", false),
		InsecureKeyFallbackName: getEnv("INSECURE_KEY_FALLBACK_NAME", "default"),

		Port: getEnvInt("PORT", 8080),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}

	if c.AppURL == "" {
		return fmt.Errorf("APP_URL is required")
	}

	if c.RedirectLink == "" {
		return fmt.Errorf("REDIRECT_LINK is required")
	}

	if c.AwaitMode != "poll" && c.AwaitMode != "manual" {
		return fmt.Errorf("AWAIT_MODE must be 'poll' or 'manual', got: %s", c.AwaitMode)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}

	if c.MaxPollAttempts <= 0 {
		return fmt.Errorf("MAX_POLL_ATTEMPTS must be positive")
	}

	if c.InsecureKeyFallback && c.PostgresDSN == "" {
		return fmt.Errorf("INSECURE_KEY_FALLBACK requires POSTGRES_DSN")
	}

	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
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

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	valueStr = strings.ToLower(valueStr)
	return valueStr == "true" || valueStr == "1" || valueStr == "yes"
}
