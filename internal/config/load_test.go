package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "switchboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, meta, err := Load(WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")))
	require.NoError(t, err)

	assert.Equal(t, Default().SemanticLowThreshold, cfg.SemanticLowThreshold)
	assert.Empty(t, meta.ConfigFile())
	assert.Equal(t, SourceDefault, meta.Source("semantic_low_threshold"))
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, "semantic_low_threshold: 0.2\ntime_gap_prompt_hours: 6\n")

	cfg, meta, err := Load(WithConfigFile(path))
	require.NoError(t, err)

	assert.Equal(t, 0.2, cfg.SemanticLowThreshold)
	assert.Equal(t, 6.0, cfg.TimeGapPromptHours)
	// Untouched fields keep defaults.
	assert.Equal(t, Default().ContextCriticalPct, cfg.ContextCriticalPct)

	assert.Equal(t, path, meta.ConfigFile())
	assert.Equal(t, SourceFile, meta.Source("semantic_low_threshold"))
	assert.Equal(t, SourceDefault, meta.Source("context_critical_pct"))
}

func TestLoadEnvBeatsFile(t *testing.T) {
	path := writeConfigFile(t, "time_gap_prompt_hours: 6\n")
	t.Setenv("SWITCHBOARD_TIME_GAP_PROMPT_HOURS", "8")

	cfg, meta, err := Load(WithConfigFile(path))
	require.NoError(t, err)

	assert.Equal(t, 8.0, cfg.TimeGapPromptHours)
	assert.Equal(t, SourceEnv, meta.Source("time_gap_prompt_hours"))
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := writeConfigFile(t, "context_critical_pct: 1.5\n")

	_, _, err := Load(WithConfigFile(path))
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "context_critical_pct", cfgErr.Field)
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := writeConfigFile(t, "{{not yaml")

	_, _, err := Load(WithConfigFile(path))
	require.Error(t, err)
}
