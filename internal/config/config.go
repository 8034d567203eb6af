// Package config loads the authoring engine's process configuration from
// the environment: godotenv for local .env convenience, go-playground/
// validator for struct-tag validation, sensible defaults applied before
// validation runs.
//
// This engine is a long-running HTTP service, not an interactive CLI tool
// — there is no config file and no "ask the user for an API key"
// fallback. Every setting comes from the environment, and a missing
// required one is a startup error, not a prompt.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is the engine's full process configuration.
type Config struct {
	HTTP HTTPConfig `validate:"required"`
	AI   AIConfig   `validate:"required"`
	DB   DBConfig   `validate:"required"`
}

// HTTPConfig controls the reader-facing HTTP surface (internal/httpapi).
type HTTPConfig struct {
	Port       string `validate:"required,numeric"`
	CORSOrigin string `validate:"omitempty,url|eq=*"`
}

// AIConfig configures the LLM Gateway (internal/llm).
type AIConfig struct {
	APIKey  string        `validate:"required,min=20"`
	BaseURL string        `validate:"required,url"`
	Model   string        `validate:"required"`
	Timeout time.Duration `validate:"required,min=1s"`
}

// DBConfig configures the persistence adapter (internal/persistence).
//
// The env var names (MONGO_URL, MONGO_DB) are a carryover from this
// engine's contract, which names its store's connection string and
// namespace after MongoDB (spec.md §6) — here repurposed since the concrete store is a
// CAS-capable SQLite file, not MongoDB, but the two keys still mean
// exactly "where is the store" and "what namespace within it".
//
// Defaults diverge from the connection-string shape of a real MONGO_URL
// (e.g. "mongodb://mongo:27017") since there is no Mongo server to dial;
// the default instead names a local SQLite file next to the process.
type DBConfig struct {
	Path        string `validate:"required"`
	TablePrefix string `validate:"required,alphanum"`
}

// Load reads and validates the process configuration from the
// environment, loading a .env file first if one is present (ignored if
// absent — a missing .env is a normal production deployment, not a
// startup error).
func Load() (*Config, error) {
	_ = godotenv.Load()

	timeout, err := parseDurationSeconds(getenvDefault("OPENAI_TIMEOUT_SECONDS", "120"))
	if err != nil {
		return nil, fmt.Errorf("config: OPENAI_TIMEOUT_SECONDS: %w", err)
	}

	cfg := &Config{
		HTTP: HTTPConfig{
			Port:       getenvDefault("PORT", "3000"),
			CORSOrigin: getenvDefault("CORS_ORIGIN", "*"),
		},
		AI: AIConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: getenvDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:   getenvDefault("OPENAI_MODEL", "gpt-4o-mini"),
			Timeout: timeout,
		},
		DB: DBConfig{
			Path:        getenvDefault("MONGO_URL", "taletwo.db"),
			TablePrefix: getenvDefault("MONGO_DB", "taletwo"),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDurationSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", raw)
	}
	return time.Duration(seconds) * time.Second, nil
}
