package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestDefaultCoversTwoLocales(t *testing.T) {
	cfg := Default()
	assert.Contains(t, cfg.IntentKeywords, "en")
	assert.Contains(t, cfg.IntentKeywords, "zh")
	assert.Contains(t, cfg.ForkKeywords, "en")
	assert.Contains(t, cfg.ForkKeywords, "zh")
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RouterConfig)
		field  string
	}{
		{
			name:   "pct above one",
			mutate: func(c *RouterConfig) { c.ContextCriticalPct = 1.2 },
			field:  "context_critical_pct",
		},
		{
			name:   "negative pct",
			mutate: func(c *RouterConfig) { c.SemanticLowThreshold = -0.1 },
			field:  "semantic_low_threshold",
		},
		{
			name:   "semantic bands inverted",
			mutate: func(c *RouterConfig) { c.SemanticLowThreshold = 0.8 },
			field:  "semantic_low_threshold",
		},
		{
			name: "context bands unordered",
			mutate: func(c *RouterConfig) {
				c.ContextWarningPct = 0.9
			},
			field: "context_critical_pct",
		},
		{
			name:   "gap thresholds inverted",
			mutate: func(c *RouterConfig) { c.TimeGapPromptHours = 48 },
			field:  "time_gap_prompt_hours",
		},
		{
			name:   "zero gap threshold",
			mutate: func(c *RouterConfig) { c.TimeGapPromptHours = 0 },
			field:  "time_gap_prompt_hours",
		},
		{
			name:   "error repeat threshold too low",
			mutate: func(c *RouterConfig) { c.HealthErrorRepeatThreshold = 1 },
			field:  "health_error_repeat_threshold",
		},
		{
			name:   "zero slow path timeout",
			mutate: func(c *RouterConfig) { c.SlowPathTimeout = 0 },
			field:  "slow_path_timeout",
		},
		{
			name: "single locale",
			mutate: func(c *RouterConfig) {
				c.IntentKeywords = map[string][]string{"en": {"new chat"}}
			},
			field: "intent_keywords",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestMergeNilKeepsBase(t *testing.T) {
	base := Default()
	merged := base.Merge(nil)
	assert.Equal(t, base.SemanticLowThreshold, merged.SemanticLowThreshold)
	assert.Equal(t, base.IntentKeywords, merged.IntentKeywords)
}

func TestMergeAppliesOnlySetFields(t *testing.T) {
	base := Default()
	low := 0.25
	timeoutMS := 500
	merged := base.Merge(&Overrides{
		SemanticLowThreshold: &low,
		SlowPathTimeoutMS:    &timeoutMS,
		IntentKeywords:       map[string][]string{"fr": {"nouvelle conversation"}},
	})

	assert.Equal(t, 0.25, merged.SemanticLowThreshold)
	assert.Equal(t, base.SemanticHighThreshold, merged.SemanticHighThreshold)
	assert.Equal(t, 500*time.Millisecond, merged.SlowPathTimeout)
	assert.Equal(t, []string{"nouvelle conversation"}, merged.IntentKeywords["fr"])
	assert.Equal(t, base.IntentKeywords["en"], merged.IntentKeywords["en"])
}

func TestMergeNeverMutatesBase(t *testing.T) {
	base := Default()
	enBefore := len(base.IntentKeywords["en"])

	merged := base.Merge(&Overrides{
		IntentKeywords: map[string][]string{"en": {"only this"}},
	})
	merged.IntentKeywords["en"][0] = "tampered"

	assert.Len(t, base.IntentKeywords["en"], enBefore)
	assert.NotContains(t, base.IntentKeywords["en"], "only this")
	assert.NotContains(t, base.IntentKeywords["en"], "tampered")
}
