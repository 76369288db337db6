package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ROUTER_STRATEGY", "ROUTER_MAX_RETRIES", "HEALTH_PROBE_INTERVAL", "EMBEDDING_DIM", "QDRANT_PORT", "USER_TOKEN_LIMIT"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "performance-first", cfg.Strategy)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.ProbeInterval)
	assert.Equal(t, uint64(768), cfg.EmbeddingDim)
	assert.Equal(t, 6334, cfg.QdrantPort)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ROUTER_STRATEGY", "provider-diversity")
	t.Setenv("ROUTER_MAX_RETRIES", "5")
	t.Setenv("HEALTH_PROBE_INTERVAL", "30s")
	t.Setenv("USER_TOKEN_LIMIT", "1000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "provider-diversity", cfg.Strategy)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.ProbeInterval)
	assert.Equal(t, 1000, cfg.UserTokenLimit)
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"ROUTER_MAX_RETRIES", "three"},
		{"HEALTH_PROBE_INTERVAL", "5 minutes"},
		{"EMBEDDING_DIM", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}
