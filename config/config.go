// Package config loads codepipe settings from a file, the environment
// (CODEPIPE_ prefix, "." replaced by "_") and built-in defaults, in that
// order of precedence after the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/codepipe/core"
	"github.com/hupe1980/codepipe/logging"
	"github.com/hupe1980/codepipe/model"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// CODEPIPE_MODELS_GENERATION=anthropic:claude-sonnet-4-0.
const EnvPrefix = "CODEPIPE"

// Topologies.
const (
	TopologySequence = "sequence"
	TopologyRouter   = "router"
)

// Config is the complete application configuration.
type Config struct {
	AppName         string        `mapstructure:"app_name" yaml:"app_name" toml:"app_name" json:"app_name"`
	UserID          string        `mapstructure:"user_id" yaml:"user_id" toml:"user_id" json:"user_id"`
	SessionID       string        `mapstructure:"session_id" yaml:"session_id" toml:"session_id" json:"session_id"`
	Topology        string        `mapstructure:"topology" yaml:"topology" toml:"topology" json:"topology"`
	Models          Models        `mapstructure:"models" yaml:"models" toml:"models" json:"models"`
	GroundingPath   string        `mapstructure:"grounding_path" yaml:"grounding_path" toml:"grounding_path" json:"grounding_path"`
	MaxModelCalls   int           `mapstructure:"max_model_calls" yaml:"max_model_calls" toml:"max_model_calls" json:"max_model_calls"`
	EventBufferSize int           `mapstructure:"event_buffer_size" yaml:"event_buffer_size" toml:"event_buffer_size" json:"event_buffer_size"`
	ToolTimeout     time.Duration `mapstructure:"tool_timeout" yaml:"-" toml:"-" json:"-"`
	Streaming       bool          `mapstructure:"streaming" yaml:"streaming" toml:"streaming" json:"streaming"`
	Logging         Logging       `mapstructure:"logging" yaml:"logging" toml:"logging" json:"logging"`
	Metrics         Metrics       `mapstructure:"metrics" yaml:"metrics" toml:"metrics" json:"metrics"`
}

// Models holds "provider:model" references per worker.
type Models struct {
	Grounding  string `mapstructure:"grounding" yaml:"grounding" toml:"grounding" json:"grounding"`
	Generation string `mapstructure:"generation" yaml:"generation" toml:"generation" json:"generation"`
	Evaluation string `mapstructure:"evaluation" yaml:"evaluation" toml:"evaluation" json:"evaluation"`
	Router     string `mapstructure:"router" yaml:"router" toml:"router" json:"router"`
	// Generator backs the generate_sample tool; empty reuses Generation.
	Generator string `mapstructure:"generator" yaml:"generator" toml:"generator" json:"generator"`
}

// Logging configures the logger.
type Logging struct {
	Backend string `mapstructure:"backend" yaml:"backend" toml:"backend" json:"backend"`
	Level   string `mapstructure:"level" yaml:"level" toml:"level" json:"level"`
	Format  string `mapstructure:"format" yaml:"format" toml:"format" json:"format"`
}

// Metrics configures the Prometheus collectors.
type Metrics struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled" toml:"enabled" json:"enabled"`
	Namespace string `mapstructure:"namespace" yaml:"namespace" toml:"namespace" json:"namespace"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		AppName:   "CodeGenerator",
		UserID:    "CodeGeneratorUser",
		SessionID: "CodeGeneratorSession",
		Topology:  TopologySequence,
		Models: Models{
			Grounding:  "openai:gpt-4o-mini",
			Generation: "openai:gpt-4o-mini",
			Evaluation: "openai:gpt-4o-mini",
			Router:     "openai:gpt-4o-mini",
		},
		MaxModelCalls:   50,
		EventBufferSize: 100,
		ToolTimeout:     30 * time.Second,
		Logging: Logging{
			Backend: "slog",
			Level:   "info",
			Format:  "text",
		},
		Metrics: Metrics{
			Namespace: "codepipe",
		},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("app_name", d.AppName)
	v.SetDefault("user_id", d.UserID)
	v.SetDefault("session_id", d.SessionID)
	v.SetDefault("topology", d.Topology)
	v.SetDefault("models.grounding", d.Models.Grounding)
	v.SetDefault("models.generation", d.Models.Generation)
	v.SetDefault("models.evaluation", d.Models.Evaluation)
	v.SetDefault("models.router", d.Models.Router)
	v.SetDefault("models.generator", d.Models.Generator)
	v.SetDefault("grounding_path", d.GroundingPath)
	v.SetDefault("max_model_calls", d.MaxModelCalls)
	v.SetDefault("event_buffer_size", d.EventBufferSize)
	v.SetDefault("tool_timeout", d.ToolTimeout)
	v.SetDefault("streaming", d.Streaming)
	v.SetDefault("logging.backend", d.Logging.Backend)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
}

// Load reads path (YAML, JSON or TOML by extension; optional) and applies
// environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports the first invalid setting as *core.ConfigurationError.
func (c *Config) Validate() error {
	required := map[string]string{
		"app_name":   c.AppName,
		"user_id":    c.UserID,
		"session_id": c.SessionID,
	}
	for _, field := range []string{"app_name", "user_id", "session_id"} {
		if strings.TrimSpace(required[field]) == "" {
			return invalid(field, "must not be empty")
		}
	}

	if c.Topology != TopologySequence && c.Topology != TopologyRouter {
		return invalid("topology", fmt.Sprintf("must be %q or %q, got %q", TopologySequence, TopologyRouter, c.Topology))
	}

	refs := map[string]string{
		"models.grounding":  c.Models.Grounding,
		"models.generation": c.Models.Generation,
		"models.evaluation": c.Models.Evaluation,
	}
	if c.Topology == TopologyRouter {
		refs["models.router"] = c.Models.Router
	}
	if c.Models.Generator != "" {
		refs["models.generator"] = c.Models.Generator
	}

	fields := make([]string, 0, len(refs))
	for f := range refs {
		fields = append(fields, f)
	}
	slices.Sort(fields)

	for _, f := range fields {
		if _, err := model.ParseRef(refs[f]); err != nil {
			return invalid(f, err.Error())
		}
	}

	if c.MaxModelCalls < 0 {
		return invalid("max_model_calls", "must not be negative")
	}

	if c.EventBufferSize < 0 {
		return invalid("event_buffer_size", "must not be negative")
	}

	if c.ToolTimeout < 0 {
		return invalid("tool_timeout", "must not be negative")
	}

	if !slices.Contains([]string{"", "slog", "zap", "none"}, strings.ToLower(c.Logging.Backend)) {
		return invalid("logging.backend", fmt.Sprintf("unknown backend %q", c.Logging.Backend))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return invalid("logging.level", err.Error())
	}

	if !slices.Contains([]string{"", "text", "json", "console"}, strings.ToLower(c.Logging.Format)) {
		return invalid("logging.format", fmt.Sprintf("unknown format %q", c.Logging.Format))
	}

	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return invalid("metrics.namespace", "required when metrics are enabled")
	}

	return nil
}

func invalid(field, reason string) error {
	return core.NewConfigurationError("config", field, reason)
}

// Save writes cfg to path; the extension selects YAML, JSON or TOML.
func Save(path string, cfg *Config) error {
	data, err := Marshal(cfg, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Marshal encodes cfg as yaml, json or toml. Durations are written as
// strings so Load reads them back.
func Marshal(cfg *Config, format string) ([]byte, error) {
	out := fileConfig{Config: *cfg, ToolTimeout: cfg.ToolTimeout.String()}

	switch strings.ToLower(format) {
	case "yaml", "yml":
		return yaml.Marshal(out)
	case "json":
		return json.MarshalIndent(out, "", "  ")
	case "toml":
		return toml.Marshal(out)
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
}

// fileConfig adds the string form of ToolTimeout.
type fileConfig struct {
	Config      `yaml:",inline"`
	ToolTimeout string `yaml:"tool_timeout" toml:"tool_timeout" json:"tool_timeout"`
}
