package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// ValueSource records where a config field's effective value came from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "env"
	SourceOverride ValueSource = "override"
)

// Metadata carries per-field provenance for the loaded config, used by the
// explain output of the CLI and by threshold-tuning reports.
type Metadata struct {
	sources    map[string]ValueSource
	configFile string
	loadedAt   time.Time
}

// Source reports where the named field came from, defaulting to SourceDefault
// for untouched fields.
func (m Metadata) Source(field string) ValueSource {
	if src, ok := m.sources[field]; ok {
		return src
	}
	return SourceDefault
}

// ConfigFile returns the path of the file that was read, if any.
func (m Metadata) ConfigFile() string { return m.configFile }

// LoadedAt returns when the config was assembled.
func (m Metadata) LoadedAt() time.Time { return m.loadedAt }

// Overridden lists every field whose value did not come from defaults.
func (m Metadata) Overridden() map[string]ValueSource {
	out := make(map[string]ValueSource, len(m.sources))
	for field, src := range m.sources {
		out[field] = src
	}
	return out
}

type loadOptions struct {
	configFile string
	paths      []string
}

// Option customizes Load.
type Option func(*loadOptions)

// WithConfigFile pins the loader to an explicit config file path.
func WithConfigFile(path string) Option {
	return func(o *loadOptions) { o.configFile = path }
}

// WithSearchPath adds a directory to the config search path.
func WithSearchPath(dir string) Option {
	return func(o *loadOptions) { o.paths = append(o.paths, dir) }
}

// knownKeys mirrors the yaml/mapstructure tags on RouterConfig so provenance
// tracking stays in sync with the struct.
var knownKeys = []string{
	"semantic_low_threshold",
	"semantic_high_threshold",
	"context_warning_pct",
	"context_critical_pct",
	"context_emergency_pct",
	"time_gap_prompt_hours",
	"time_gap_new_session_hours",
	"intent_keywords",
	"fork_keywords",
	"fuzzy_edit_distance_max",
	"health_error_repeat_threshold",
	"health_window_messages",
	"frustration_max_runes",
	"slow_path_timeout",
}

// Load assembles the router config from defaults, an optional
// switchboard.yaml, and SWITCHBOARD_* environment variables, in that
// precedence order. Validation failures are fatal: a routing engine is never
// constructed from a config Load rejected.
func Load(opts ...Option) (RouterConfig, Metadata, error) {
	options := loadOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: time.Now()}

	v := viper.New()
	if options.configFile != "" {
		v.SetConfigFile(options.configFile)
	} else {
		v.SetConfigName("switchboard")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME")
		v.AddConfigPath(".")
		for _, dir := range options.paths {
			v.AddConfigPath(dir)
		}
	}
	v.SetEnvPrefix("SWITCHBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range knownKeys {
		// Unmarshal only sees env values for keys viper knows about.
		_ = v.BindEnv(key)
	}

	fileRead := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			fileRead = false
		} else if options.configFile == "" {
			// Search-path mode tolerates a missing file but not a corrupt one.
			return RouterConfig{}, Metadata{}, fmt.Errorf("read config: %w", err)
		} else {
			return RouterConfig{}, Metadata{}, fmt.Errorf("read config %s: %w", options.configFile, err)
		}
	}
	if fileRead {
		meta.configFile = v.ConfigFileUsed()
	}

	cfg := Default()
	// Env values arrive as strings; weak typing lets them land in numeric
	// fields.
	weak := func(dc *mapstructure.DecoderConfig) { dc.WeaklyTypedInput = true }
	if err := v.Unmarshal(&cfg, weak); err != nil {
		return RouterConfig{}, Metadata{}, fmt.Errorf("decode config: %w", err)
	}

	for _, key := range knownKeys {
		envKey := "SWITCHBOARD_" + strings.ToUpper(key)
		if _, ok := os.LookupEnv(envKey); ok {
			meta.sources[key] = SourceEnv
			continue
		}
		if fileRead && v.InConfig(key) {
			meta.sources[key] = SourceFile
		}
	}

	if err := cfg.Validate(); err != nil {
		return RouterConfig{}, Metadata{}, err
	}
	return cfg, meta, nil
}
