package config

import (
	"os"
	"strconv"
	"time"
)

const (
	// Default Anthropic API URL
	defaultCompletionAPIURL = "https://api.anthropic.com/v1/messages"
	defaultModel            = "claude-sonnet-4-20250514"
)

// Config holds application configuration
type Config struct {
	Address           string
	CompletionAPIURL  string
	CompletionAPIKey  string
	CompletionModel   string
	CompletionTimeout time.Duration
	MaxTokens         int

	// Orchestrator tuning
	RecoveryRetryBound int           // automatic recovery attempts per step
	HistoryWindow      int           // chat turns interpolated into prompts
	IdleTimeout        time.Duration // abandoned sessions are reaped past this
	ReapInterval       time.Duration
}

// globalConfig holds the application configuration instance
var globalConfig *Config

// Initialize sets up the configuration from environment variables
func Initialize() {
	globalConfig = &Config{
		Address:            getEnv("SQLPILOT_ADDRESS", ":8000"),
		CompletionAPIURL:   getCompletionAPIURL(),
		CompletionAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		CompletionModel:    getEnv("SQLPILOT_MODEL", defaultModel),
		CompletionTimeout:  getEnvDuration("SQLPILOT_COMPLETION_TIMEOUT", 60*time.Second),
		MaxTokens:          getEnvInt("SQLPILOT_MAX_TOKENS", 4096),
		RecoveryRetryBound: getEnvInt("SQLPILOT_RETRY_BOUND", 2),
		HistoryWindow:      getEnvInt("SQLPILOT_HISTORY_WINDOW", 4),
		IdleTimeout:        getEnvDuration("SQLPILOT_IDLE_TIMEOUT", 30*time.Minute),
		ReapInterval:       getEnvDuration("SQLPILOT_REAP_INTERVAL", time.Minute),
	}
}

// Get returns the global configuration instance
func Get() *Config {
	if globalConfig == nil {
		Initialize()
	}
	return globalConfig
}

// getCompletionAPIURL returns the API URL from environment or default
func getCompletionAPIURL() string {
	// MSG_PROXY routes completions through a local proxy when set
	if proxyURL := os.Getenv("MSG_PROXY"); proxyURL != "" {
		return proxyURL + "/v1/messages"
	}
	return defaultCompletionAPIURL
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
