package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SGID_AI_PROVIDERS_FILE", "")
	t.Setenv("SGID_AI_KIND", "")
	t.Setenv("SGID_LOCK_TTL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.LockTTL)
	assert.Equal(t, 1500*time.Millisecond, cfg.SaveDebounce)
	assert.Equal(t, time.Second, cfg.RecentlyUpdatedDelay)
	assert.Empty(t, cfg.AIProviders)
}

func TestLoadAIProfileFromEnv(t *testing.T) {
	t.Setenv("SGID_AI_PROVIDERS_FILE", "")
	t.Setenv("SGID_AI_KIND", "generic")
	t.Setenv("SGID_AI_BASE_URL", "http://localhost:11434")
	t.Setenv("SGID_AI_MODEL", "phi3")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.AIProviders, 1)
	assert.Equal(t, "generic", cfg.AIDefault)
	assert.Equal(t, "phi3", cfg.AIProviders[0].Model)
	assert.Equal(t, 60*time.Second, cfg.AIProviders[0].Timeout)
}

func TestLoadAIProfilesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-test")
	err := os.WriteFile(path, []byte(`
default: claude
providers:
  - name: claude
    kind: anthropic
    api_key: ${TEST_ANTHROPIC_KEY}
    model: claude-sonnet-4-5
    max_tokens: 2048
  - kind: openai
    base_url: https://api.openai.com/v1
    model: gpt-4o-mini
`), 0o644)
	require.NoError(t, err)

	t.Setenv("SGID_AI_PROVIDERS_FILE", path)
	t.Setenv("SGID_AI_DEFAULT", "")
	cfg, err := Load()
	require.NoError(t, err)

	require.Len(t, cfg.AIProviders, 2)
	assert.Equal(t, "claude", cfg.AIDefault)
	assert.Equal(t, "sk-test", cfg.AIProviders[0].APIKey)
	assert.Equal(t, "openai", cfg.AIProviders[1].Name)
}

func TestGetenvDurationFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SGID_SAVE_DEBOUNCE", "soon")
	assert.Equal(t, 1500*time.Millisecond, getenvDuration("SGID_SAVE_DEBOUNCE", 1500*time.Millisecond))
}
