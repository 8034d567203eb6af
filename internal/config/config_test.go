package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "CORS_ORIGIN",
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL", "OPENAI_TIMEOUT_SECONDS",
		"MONGO_URL", "MONGO_DB",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_AppliesDefaultsWhenOptionalVarsUnset(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test-0123456789abcdef")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.HTTP.Port)
	assert.Equal(t, "*", cfg.HTTP.CORSOrigin)
	assert.Equal(t, "https://api.openai.com/v1", cfg.AI.BaseURL)
	assert.Equal(t, "gpt-4o-mini", cfg.AI.Model)
	assert.Equal(t, "taletwo.db", cfg.DB.Path)
	assert.Equal(t, "taletwo", cfg.DB.TablePrefix)
}

func TestLoad_HonorsExplicitOverrides(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test-0123456789abcdef")
	t.Setenv("PORT", "9090")
	t.Setenv("CORS_ORIGIN", "https://reader.example.com")
	t.Setenv("OPENAI_BASE_URL", "https://gateway.internal/v1")
	t.Setenv("OPENAI_MODEL", "gpt-4.1")
	t.Setenv("MONGO_URL", "/data/story.db")
	t.Setenv("MONGO_DB", "storyeng")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTP.Port)
	assert.Equal(t, "https://reader.example.com", cfg.HTTP.CORSOrigin)
	assert.Equal(t, "https://gateway.internal/v1", cfg.AI.BaseURL)
	assert.Equal(t, "gpt-4.1", cfg.AI.Model)
	assert.Equal(t, "/data/story.db", cfg.DB.Path)
	assert.Equal(t, "storyeng", cfg.DB.TablePrefix)
}

func TestLoad_FailsWhenAPIKeyMissing(t *testing.T) {
	clearAllEnv(t)

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_FailsWhenAPIKeyTooShort(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("OPENAI_API_KEY", "short")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_FailsOnMalformedTimeout(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test-0123456789abcdef")
	t.Setenv("OPENAI_TIMEOUT_SECONDS", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_FailsWhenPortNotNumeric(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test-0123456789abcdef")
	t.Setenv("PORT", "not-a-port")

	_, err := Load()
	assert.Error(t, err)
}
