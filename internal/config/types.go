package config

import (
	"fmt"
	"time"
)

// RouterConfig holds every threshold and keyword list the decision engine
// consults. It is constructed once (Load or Default) and treated as immutable
// for the duration of a routing call; per-user overrides go through Merge,
// which returns a new value and never mutates the receiver.
type RouterConfig struct {
	// Semantic relevance bands. Scores above High are strongly related,
	// below Low unrelated, anything between is ambiguous.
	SemanticLowThreshold  float64 `yaml:"semantic_low_threshold" mapstructure:"semantic_low_threshold"`
	SemanticHighThreshold float64 `yaml:"semantic_high_threshold" mapstructure:"semantic_high_threshold"`

	// Context-window utilization bands, as fractions of the model window.
	ContextWarningPct   float64 `yaml:"context_warning_pct" mapstructure:"context_warning_pct"`
	ContextCriticalPct  float64 `yaml:"context_critical_pct" mapstructure:"context_critical_pct"`
	ContextEmergencyPct float64 `yaml:"context_emergency_pct" mapstructure:"context_emergency_pct"`

	// Time-gap thresholds. Gaps above PromptHours are medium severity, above
	// NewSessionHours high. Comparisons are strict at the upper edge.
	TimeGapPromptHours     float64 `yaml:"time_gap_prompt_hours" mapstructure:"time_gap_prompt_hours"`
	TimeGapNewSessionHours float64 `yaml:"time_gap_new_session_hours" mapstructure:"time_gap_new_session_hours"`

	// Explicit-intent keyword sets keyed by locale ("en", "zh", ...).
	IntentKeywords map[string][]string `yaml:"intent_keywords" mapstructure:"intent_keywords"`
	// Fork-intent keyword sets, same shape. A fork match spawns a linked
	// child session instead of replacing the current one.
	ForkKeywords map[string][]string `yaml:"fork_keywords" mapstructure:"fork_keywords"`

	// Maximum Levenshtein distance for the fuzzy intent tier.
	FuzzyEditDistanceMax int `yaml:"fuzzy_edit_distance_max" mapstructure:"fuzzy_edit_distance_max"`

	// Conversation health tuning.
	HealthErrorRepeatThreshold int `yaml:"health_error_repeat_threshold" mapstructure:"health_error_repeat_threshold"`
	HealthWindowMessages       int `yaml:"health_window_messages" mapstructure:"health_window_messages"`
	FrustrationMaxRunes        int `yaml:"frustration_max_runes" mapstructure:"frustration_max_runes"`

	// Slow-path budget: one aggregate timeout covers the semantic scorer and
	// any external health classifier.
	SlowPathTimeout time.Duration `yaml:"slow_path_timeout" mapstructure:"slow_path_timeout"`
}

// Default returns the shipped configuration. Keyword sets cover English and
// Chinese; the engine requires at least two locales so single-language
// hardcoding can never creep back in.
func Default() RouterConfig {
	return RouterConfig{
		SemanticLowThreshold:  0.3,
		SemanticHighThreshold: 0.7,

		ContextWarningPct:   0.60,
		ContextCriticalPct:  0.80,
		ContextEmergencyPct: 0.95,

		TimeGapPromptHours:     4,
		TimeGapNewSessionHours: 24,

		IntentKeywords: map[string][]string{
			"en": {"new chat", "new conversation", "start over", "new topic", "let's start fresh", "clear context"},
			"zh": {"新对话", "新会话", "重新开始", "换个话题", "清空上下文"},
		},
		ForkKeywords: map[string][]string{
			"en": {"fork this", "branch off", "side quest", "fork the conversation"},
			"zh": {"分支讨论", "开个分支", "另开一条线"},
		},

		FuzzyEditDistanceMax: 2,

		HealthErrorRepeatThreshold: 3,
		HealthWindowMessages:       5,
		FrustrationMaxRunes:        30,

		SlowPathTimeout: 250 * time.Millisecond,
	}
}

// ConfigError reports a fatal validation failure. Routing calls are never
// served with an invalid config.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid router config: %s: %s", e.Field, e.Reason)
}

// Validate rejects malformed threshold values before any routing call runs.
func (c RouterConfig) Validate() error {
	pctFields := []struct {
		name  string
		value float64
	}{
		{"semantic_low_threshold", c.SemanticLowThreshold},
		{"semantic_high_threshold", c.SemanticHighThreshold},
		{"context_warning_pct", c.ContextWarningPct},
		{"context_critical_pct", c.ContextCriticalPct},
		{"context_emergency_pct", c.ContextEmergencyPct},
	}
	for _, f := range pctFields {
		if f.value < 0 || f.value > 1 {
			return &ConfigError{Field: f.name, Reason: fmt.Sprintf("must be in [0,1], got %v", f.value)}
		}
	}
	if c.SemanticLowThreshold > c.SemanticHighThreshold {
		return &ConfigError{Field: "semantic_low_threshold", Reason: "must not exceed semantic_high_threshold"}
	}
	if !(c.ContextWarningPct < c.ContextCriticalPct && c.ContextCriticalPct < c.ContextEmergencyPct) {
		return &ConfigError{Field: "context_critical_pct", Reason: "bands must be ordered warning < critical < emergency"}
	}
	if c.TimeGapPromptHours <= 0 || c.TimeGapNewSessionHours <= 0 {
		return &ConfigError{Field: "time_gap_prompt_hours", Reason: "gap thresholds must be positive"}
	}
	if c.TimeGapPromptHours >= c.TimeGapNewSessionHours {
		return &ConfigError{Field: "time_gap_prompt_hours", Reason: "must be below time_gap_new_session_hours"}
	}
	if c.FuzzyEditDistanceMax < 0 {
		return &ConfigError{Field: "fuzzy_edit_distance_max", Reason: "must be >= 0"}
	}
	if c.HealthErrorRepeatThreshold < 2 {
		return &ConfigError{Field: "health_error_repeat_threshold", Reason: "must be >= 2"}
	}
	if c.HealthWindowMessages <= 0 {
		return &ConfigError{Field: "health_window_messages", Reason: "must be positive"}
	}
	if c.SlowPathTimeout <= 0 {
		return &ConfigError{Field: "slow_path_timeout", Reason: "must be positive"}
	}
	if len(c.IntentKeywords) < 2 {
		return &ConfigError{Field: "intent_keywords", Reason: "at least two locales are required"}
	}
	return nil
}

// Overrides is a partial RouterConfig for per-user adjustments. Nil fields
// keep the base value; Merge is a pure shallow merge.
type Overrides struct {
	SemanticLowThreshold       *float64            `json:"semantic_low_threshold,omitempty"`
	SemanticHighThreshold      *float64            `json:"semantic_high_threshold,omitempty"`
	ContextWarningPct          *float64            `json:"context_warning_pct,omitempty"`
	ContextCriticalPct         *float64            `json:"context_critical_pct,omitempty"`
	ContextEmergencyPct        *float64            `json:"context_emergency_pct,omitempty"`
	TimeGapPromptHours         *float64            `json:"time_gap_prompt_hours,omitempty"`
	TimeGapNewSessionHours     *float64            `json:"time_gap_new_session_hours,omitempty"`
	IntentKeywords             map[string][]string `json:"intent_keywords,omitempty"`
	ForkKeywords               map[string][]string `json:"fork_keywords,omitempty"`
	FuzzyEditDistanceMax       *int                `json:"fuzzy_edit_distance_max,omitempty"`
	HealthErrorRepeatThreshold *int                `json:"health_error_repeat_threshold,omitempty"`
	SlowPathTimeoutMS          *int                `json:"slow_path_timeout_ms,omitempty"`
}

// Merge applies overrides on top of the receiver and returns the merged
// config. The receiver is never mutated; keyword maps replace wholesale
// per-locale (shallow merge).
func (c RouterConfig) Merge(o *Overrides) RouterConfig {
	merged := c
	merged.IntentKeywords = cloneKeywords(c.IntentKeywords)
	merged.ForkKeywords = cloneKeywords(c.ForkKeywords)
	if o == nil {
		return merged
	}

	if o.SemanticLowThreshold != nil {
		merged.SemanticLowThreshold = *o.SemanticLowThreshold
	}
	if o.SemanticHighThreshold != nil {
		merged.SemanticHighThreshold = *o.SemanticHighThreshold
	}
	if o.ContextWarningPct != nil {
		merged.ContextWarningPct = *o.ContextWarningPct
	}
	if o.ContextCriticalPct != nil {
		merged.ContextCriticalPct = *o.ContextCriticalPct
	}
	if o.ContextEmergencyPct != nil {
		merged.ContextEmergencyPct = *o.ContextEmergencyPct
	}
	if o.TimeGapPromptHours != nil {
		merged.TimeGapPromptHours = *o.TimeGapPromptHours
	}
	if o.TimeGapNewSessionHours != nil {
		merged.TimeGapNewSessionHours = *o.TimeGapNewSessionHours
	}
	for locale, words := range o.IntentKeywords {
		merged.IntentKeywords[locale] = append([]string(nil), words...)
	}
	for locale, words := range o.ForkKeywords {
		merged.ForkKeywords[locale] = append([]string(nil), words...)
	}
	if o.FuzzyEditDistanceMax != nil {
		merged.FuzzyEditDistanceMax = *o.FuzzyEditDistanceMax
	}
	if o.HealthErrorRepeatThreshold != nil {
		merged.HealthErrorRepeatThreshold = *o.HealthErrorRepeatThreshold
	}
	if o.SlowPathTimeoutMS != nil {
		merged.SlowPathTimeout = time.Duration(*o.SlowPathTimeoutMS) * time.Millisecond
	}
	return merged
}

func cloneKeywords(src map[string][]string) map[string][]string {
	dst := make(map[string][]string, len(src))
	for locale, words := range src {
		dst[locale] = append([]string(nil), words...)
	}
	return dst
}
