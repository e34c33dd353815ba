package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	pkgerrors "engram/backend/pkg/errors"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Neo4j
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	// AI
	LiteLLMURL       string
	LLMAPIKey        string
	ChatModelID      string
	EmbeddingModelID string
	EmbeddingDims    int

	// Retrieval
	SignalTimeout      time.Duration // per-signal deadline in the gather phase
	DisambiguationTopK int           // candidates handed to the disambiguator
	MetricsEnabled     bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		Neo4jURI:           getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:          getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:      getEnv("NEO4J_PASSWORD", "password"),
		LiteLLMURL:         getEnv("LITELLM_URL", "http://localhost:4000"),
		LLMAPIKey:          getEnv("LLM_API_KEY", ""),
		ChatModelID:        getEnv("MODEL_ID", "openrouter/anthropic/claude-3.5-sonnet"),
		EmbeddingModelID:   getEnv("EMBEDDING_MODEL_ID", "text-embedding-3-small"),
		EmbeddingDims:      getEnvInt("EMBEDDING_DIMENSIONS", 1536),
		SignalTimeout:      time.Duration(getEnvInt("SIGNAL_TIMEOUT_MS", 5000)) * time.Millisecond,
		DisambiguationTopK: getEnvInt("DISAMBIGUATION_TOP_K", 5),
		MetricsEnabled:     getEnv("METRICS_ENABLED", "true") == "true",
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.Neo4jURI == "" {
		return pkgerrors.NewConfigMissingRequired("NEO4J_URI")
	}
	if c.Neo4jUser == "" {
		return pkgerrors.NewConfigMissingRequired("NEO4J_USER")
	}
	if c.Neo4jPassword == "" {
		return pkgerrors.NewConfigMissingRequired("NEO4J_PASSWORD")
	}
	if c.LiteLLMURL == "" {
		return pkgerrors.NewConfigMissingRequired("LITELLM_URL")
	}
	if c.ChatModelID == "" {
		return pkgerrors.NewConfigMissingRequired("MODEL_ID")
	}
	if c.EmbeddingModelID == "" {
		return pkgerrors.NewConfigMissingRequired("EMBEDDING_MODEL_ID")
	}
	if c.EmbeddingDims <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be positive")
	}
	if c.SignalTimeout <= 0 {
		return fmt.Errorf("SIGNAL_TIMEOUT_MS must be positive")
	}
	if c.DisambiguationTopK < 1 {
		return fmt.Errorf("DISAMBIGUATION_TOP_K must be at least 1")
	}
	// LLM API key is optional for development (LiteLLM may not require one)
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
