package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsMissingModels(t *testing.T) {
	_, err := New()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), `role "text"`)
}

func TestNewAppliesOptionsOverEnvAndDefaults(t *testing.T) {
	t.Setenv("MODELGATE_PORT", "9090")

	cfg, err := New(
		WithPort(7070),
		WithModel("text", ModelConfig{Model: "qwen3", BaseURL: "https://example.test/v1", APIKey: "k"}),
		WithModel("multimodal", ModelConfig{Model: "qwen3-vl", BaseURL: "https://example.test/v1", APIKey: "k"}),
	)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Port, "explicit option must win over env var")
	assert.Equal(t, 4, cfg.Executor.NumWorkers, "default preserved when unset")
	assert.Equal(t, "qwen3", cfg.Models["text"].Model)
}

func TestNewRejectsNonPositiveExecutorBounds(t *testing.T) {
	_, err := New(
		WithModel("text", ModelConfig{Model: "m", BaseURL: "u", APIKey: "k"}),
		WithModel("multimodal", ModelConfig{Model: "m", BaseURL: "u", APIKey: "k"}),
		func(c *Config) error {
			c.Executor.NumWorkers = 0
			return nil
		},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "num_workers")
}
