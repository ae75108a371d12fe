package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FallsBackToDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Port, cfg.Server.Port)
	assert.Equal(t, "http://localhost:11434", cfg.Ollama.BaseURL)
}

func TestLoad_DecodesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[server]
port = 9090

[engine]
min_score = 9.5
strategy = "optimistic"
`
	require.NoError(t, writeFile(path, contents))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 9.5, cfg.Engine.MinScore)
	assert.Equal(t, "optimistic", cfg.Engine.Strategy)
	// fields untouched by the file keep their defaults.
	assert.Equal(t, "http://localhost:11434", cfg.Ollama.BaseURL)
}

func TestLoad_EnvOverridesWinOverFileAndDefaults(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://override:11434")
	t.Setenv("JWT_SECRET", "env-secret")

	// ollama.base_url is set in the file (env must win over it);
	// jwt_secret is left at its default (env must win over that).
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, writeFile(path, "[ollama]\nbase_url = \"http://from-file:11434\"\n"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://override:11434", cfg.Ollama.BaseURL)
	assert.Equal(t, "env-secret", cfg.Server.JWTSecret)
}

func TestSave_RoundTripsThroughLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	original := DefaultConfig()
	original.Engine.PrimaryModel = "qwen2.5-coder:7b"

	require.NoError(t, Save(original, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5-coder:7b", loaded.Engine.PrimaryModel)
}

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}
