package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "127.0.0.1:7860", cfg.Server.Listen)
	assert.Equal(t, 240*time.Second, cfg.Engine.Timeout)
	assert.Equal(t, "./voices", cfg.Storage.Root)
	assert.Equal(t, "./profiles", cfg.Storage.LegacyRoot)
	assert.Equal(t, DefaultLanguage, cfg.Synthesis.Language)
	assert.Equal(t, DefaultModelID, cfg.Synthesis.ModelID)
	assert.Zero(t, cfg.Synthesis.QueueSize)
	assert.Equal(t, int64(DefaultMaxUploadBytes), cfg.Limits.MaxUploadBytes)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VOICECLONE_DATA_DIR", "/srv/voices")
	t.Setenv("VOICECLONE_ENGINE_TIMEOUT", "5s")
	t.Setenv("VOICECLONE_QUEUE_SIZE", "3")
	t.Setenv("VOICECLONE_MAX_TEXT_LENGTH", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/voices", cfg.Storage.Root)
	assert.Equal(t, 5*time.Second, cfg.Engine.Timeout)
	assert.Equal(t, 3, cfg.Synthesis.QueueSize)
	assert.Equal(t, 0, cfg.Limits.MaxTextLength, "invalid numbers are ignored")
}

func TestLoadWithDefaultsOverrides(t *testing.T) {
	cfg, err := LoadWithDefaults(map[string]interface{}{
		"synthesis": map[string]interface{}{"language": "German"},
	})
	require.NoError(t, err)

	assert.Equal(t, "German", cfg.Synthesis.Language)
	assert.Equal(t, DefaultModelID, cfg.Synthesis.ModelID)
}
