package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
transport:
  provider: twilio
providers:
  stt:
    provider: deepgram
  tts:
    provider: deepgram
  llm:
    provider: openai
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Session.DebounceMS != 500 {
		t.Fatalf("debounce default = %d, want 500", cfg.Session.DebounceMS)
	}
	if cfg.Session.BargeInThreshold != 5 {
		t.Fatalf("barge-in default = %d, want 5", cfg.Session.BargeInThreshold)
	}
	if cfg.Session.IdleTimeoutS != 30 || cfg.Session.EndFailSafeS != 8 {
		t.Fatalf("timer defaults = %d/%d", cfg.Session.IdleTimeoutS, cfg.Session.EndFailSafeS)
	}
	if cfg.Store.Provider != "memory" {
		t.Fatalf("store default = %q, want memory", cfg.Store.Provider)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("log level default = %q", cfg.LogLevel)
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("TEST_DG_KEY", "dg-secret")
	path := writeConfig(t, `
transport:
  provider: twilio
  settings:
    auth_token: plain
providers:
  stt:
    provider: deepgram
    settings:
      api_key: ${TEST_DG_KEY}
  tts:
    provider: deepgram
  llm:
    provider: openai
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Providers.STT.Settings["api_key"]; got != "dg-secret" {
		t.Fatalf("api_key = %v, want expanded env", got)
	}
}

func TestLoadConfigRequiresProviders(t *testing.T) {
	path := writeConfig(t, `
transport:
  provider: twilio
providers:
  stt:
    provider: deepgram
  tts:
    provider: deepgram
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error for missing llm provider")
	}
}
