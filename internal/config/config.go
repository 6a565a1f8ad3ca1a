package config

import (
	"os"
	"strconv"
)

// Config is the process configuration, loaded from the environment.
type Config struct {
	Port            string
	LogLevel        string
	LogPretty       bool
	DatabaseDSN     string
	ProjectID       string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	RerankURL       string
	JWTSecret       string
	CellCeiling     int
	MaxWriteBatch   int
	DefaultModel    string
	EmbeddingModel  string
	RouterMaxRetry  int
	RouterCooldownS int
}

// Load reads configuration from the environment with sensible defaults. An
// empty DATABASE_DSN selects the in-memory store.
func Load() *Config {
	return &Config{
		Port:            getEnv("PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogPretty:       getEnvBool("LOG_PRETTY", false),
		DatabaseDSN:     getEnv("DATABASE_DSN", ""),
		ProjectID:       getEnv("PROJECT_ID", "default"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		RerankURL:       getEnv("RERANK_URL", ""),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		CellCeiling:     getEnvInt("CONCURRENT_CELL_LIMIT", 64),
		MaxWriteBatch:   getEnvInt("MAX_WRITE_BATCH_SIZE", 1000),
		DefaultModel:    getEnv("DEFAULT_MODEL", "gpt-4o-mini"),
		EmbeddingModel:  getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		RouterMaxRetry:  getEnvInt("ROUTER_MAX_RETRIES", 3),
		RouterCooldownS: getEnvInt("ROUTER_COOLDOWN_SECONDS", 30),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
