// Package config provides configuration for the conversation engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const defaultSystemPrompt = "You are a helpful AI assistant. You have access to tools that you can use to help answer questions."

// Config holds the engine configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// LLM settings
	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string
	LLMTimeout time.Duration

	// Conversation settings
	SystemPrompt string

	// WebSocket settings
	MaxMessageSize int64
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:       getEnvInt("HTTP_PORT", 8000),
		DatabaseURL:    getEnv("DATABASE_URL", "file:convoy.db?cache=shared&mode=rwc"),
		LLMBaseURL:     getEnv("LLM_BASE_URL", "https://api.openai.com"),
		LLMAPIKey:      getEnv("LLM_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4-turbo-preview"),
		LLMTimeout:     time.Duration(getEnvInt("LLM_TIMEOUT_MS", 120000)) * time.Millisecond,
		SystemPrompt:   getEnv("SYSTEM_PROMPT", defaultSystemPrompt),
		MaxMessageSize: int64(getEnvInt("WS_MAX_MESSAGE_BYTES", 65536)),
	}
}

// Validate checks that required settings are present. Missing provider
// configuration aborts startup rather than running degraded.
func (c *Config) Validate() error {
	if os.Getenv("CONVOY_MODE") == "MOCK" {
		return nil
	}
	if c.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY must be set (or CONVOY_MODE=MOCK for the mock client)")
	}
	if c.LLMBaseURL == "" {
		return fmt.Errorf("LLM_BASE_URL must be set")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
