// Package config loads process configuration from environment variables.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	apperr "github.com/llmcompare/core/pkg/errors"
)

// Config is the fully-resolved process configuration.
type Config struct {
	ListenAddr     string        `mapstructure:"listen_addr"`
	LogLevel       string        `mapstructure:"log_level"`
	AuthUsername   string        `mapstructure:"auth_username"`
	AuthPassword   string        `mapstructure:"auth_password"`
	StreamTimeout  time.Duration `mapstructure:"stream_timeout"`
	AnthropicKey   string        `mapstructure:"anthropic_api_key"`
	GeminiKey      string        `mapstructure:"gemini_api_key"`
	ConfiguredModels []string    `mapstructure:"-"`
}

// AuthEnabled reports whether HTTP Basic auth should be enforced.
func (c *Config) AuthEnabled() bool {
	return c.AuthPassword != ""
}

// Load reads configuration from the environment (with the documented
// defaults applied first), then validates that every configured model has a
// matching vendor credential.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("")
	v.AutomaticEnv()
	for _, key := range []string{
		"listen_addr", "log_level", "auth_username", "auth_password",
		"stream_timeout_seconds", "anthropic_api_key", "gemini_api_key",
		"configured_models",
	} {
		_ = v.BindEnv(key)
	}

	cfg := &Config{
		ListenAddr:    v.GetString("listen_addr"),
		LogLevel:      v.GetString("log_level"),
		AuthUsername:  v.GetString("auth_username"),
		AuthPassword:  v.GetString("auth_password"),
		StreamTimeout: time.Duration(v.GetInt("stream_timeout_seconds")) * time.Second,
		AnthropicKey:  v.GetString("anthropic_api_key"),
		GeminiKey:     v.GetString("gemini_api_key"),
	}

	models := v.GetString("configured_models")
	for _, m := range strings.Split(models, ",") {
		m = strings.TrimSpace(m)
		if m != "" {
			cfg.ConfiguredModels = append(cfg.ConfiguredModels, m)
		}
	}
	if len(cfg.ConfiguredModels) == 0 {
		return nil, apperr.NewConfigError("CONFIGURED_MODELS must list at least one model")
	}

	for _, m := range cfg.ConfiguredModels {
		if err := validateModelCredential(m, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func validateModelCredential(modelID string, cfg *Config) error {
	switch {
	case strings.HasPrefix(modelID, "claude-"):
		if cfg.AnthropicKey == "" {
			return apperr.NewConfigError("model " + modelID + " configured but ANTHROPIC_API_KEY is unset")
		}
	case strings.HasPrefix(modelID, "gemini-"):
		if cfg.GeminiKey == "" {
			return apperr.NewConfigError("model " + modelID + " configured but GEMINI_API_KEY is unset")
		}
	default:
		return apperr.NewConfigError("model " + modelID + " has no known vendor prefix (claude-/gemini-)")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("stream_timeout_seconds", 25)
}
