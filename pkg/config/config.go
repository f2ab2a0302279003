package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process-level configuration. Provider blocks keep their
// settings as loose maps so each vendor can validate its own schema at
// wiring time; per-tenant overrides come from the tenant store, not from
// here.
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	Transport VendorConfig    `mapstructure:"transport"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Session   SessionConfig   `mapstructure:"session"`
	Store     VendorConfig    `mapstructure:"store"`
	Privacy   PrivacyConfig   `mapstructure:"privacy"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type ProvidersConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
}

type SessionConfig struct {
	DebounceMS       int     `mapstructure:"debounce_ms"`
	BargeInThreshold int     `mapstructure:"barge_in_threshold"`
	IdleTimeoutS     int     `mapstructure:"idle_timeout_s"`
	EndFailSafeS     int     `mapstructure:"end_failsafe_s"`
	MaxTokens        int     `mapstructure:"max_tokens"`
	Temperature      float64 `mapstructure:"temperature"`
	DrainTimeoutS    int     `mapstructure:"drain_timeout_s"`
}

func (s SessionConfig) DebounceWindow() time.Duration {
	return time.Duration(s.DebounceMS) * time.Millisecond
}

func (s SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutS) * time.Second
}

func (s SessionConfig) EndFailSafe() time.Duration {
	return time.Duration(s.EndFailSafeS) * time.Second
}

func (s SessionConfig) DrainTimeout() time.Duration {
	return time.Duration(s.DrainTimeoutS) * time.Second
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("transport.provider", "twilio")
	v.SetDefault("store.provider", "memory")
	v.SetDefault("session.debounce_ms", 500)
	v.SetDefault("session.barge_in_threshold", 5)
	v.SetDefault("session.idle_timeout_s", 30)
	v.SetDefault("session.end_failsafe_s", 8)
	v.SetDefault("session.max_tokens", 150)
	v.SetDefault("session.temperature", 0.7)
	v.SetDefault("session.drain_timeout_s", 10)
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Transport.Provider) == "" {
		return fmt.Errorf("transport.provider is required")
	}
	if strings.TrimSpace(c.Providers.STT.Provider) == "" {
		return fmt.Errorf("providers.stt.provider is required")
	}
	if strings.TrimSpace(c.Providers.TTS.Provider) == "" {
		return fmt.Errorf("providers.tts.provider is required")
	}
	if strings.TrimSpace(c.Providers.LLM.Provider) == "" {
		return fmt.Errorf("providers.llm.provider is required")
	}
	if strings.TrimSpace(c.Store.Provider) == "" {
		return fmt.Errorf("store.provider is required")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Transport.Settings = expandSettings(cfg.Transport.Settings)
	cfg.Providers.STT.Settings = expandSettings(cfg.Providers.STT.Settings)
	cfg.Providers.TTS.Settings = expandSettings(cfg.Providers.TTS.Settings)
	cfg.Providers.LLM.Settings = expandSettings(cfg.Providers.LLM.Settings)
	cfg.Store.Settings = expandSettings(cfg.Store.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
