// File: internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "formweaver", cfg.Logger.ServiceName)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 60*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 3, cfg.Engine.MaxRetries)
	assert.Equal(t, time.Second, cfg.Engine.RetryDelay)
	assert.InDelta(t, 0.70, cfg.Engine.MatchThreshold, 0.001)
	assert.InDelta(t, 0.78, cfg.Engine.SelectVerifyThreshold, 0.001)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
logger:
  level: debug
engine:
  max_retries: 5
  match_threshold: 0.85
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, 5, cfg.Engine.MaxRetries)
	assert.InDelta(t, 0.85, cfg.Engine.MatchThreshold, 0.001)
	// Untouched knobs keep their defaults.
	assert.InDelta(t, 0.70, cfg.Engine.VerificationThreshold, 0.001)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(viper.New(), "")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Engine.MaxRetries = 0
	assert.ErrorContains(t, cfg.Validate(), "max_retries")

	cfg = base()
	cfg.Engine.MatchThreshold = 1.5
	assert.ErrorContains(t, cfg.Validate(), "match_threshold")

	cfg = base()
	cfg.Engine.VerificationThreshold = 0
	assert.ErrorContains(t, cfg.Validate(), "verification_threshold")

	cfg = base()
	cfg.Engine.RetryDelay = -time.Second
	assert.ErrorContains(t, cfg.Validate(), "retry_delay")
}
