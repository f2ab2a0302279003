package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/voxdesk/voxdesk/pkg/adapters/stt"
	"github.com/voxdesk/voxdesk/pkg/adapters/tts"
	"github.com/voxdesk/voxdesk/pkg/config"
	"github.com/voxdesk/voxdesk/pkg/configutil"
	"github.com/voxdesk/voxdesk/pkg/engine"
	"github.com/voxdesk/voxdesk/pkg/llm"
	"github.com/voxdesk/voxdesk/pkg/logging"
	"github.com/voxdesk/voxdesk/pkg/metrics"
	"github.com/voxdesk/voxdesk/pkg/observers"
	"github.com/voxdesk/voxdesk/pkg/providers/deepgram"
	"github.com/voxdesk/voxdesk/pkg/providers/elevenlabs"
	"github.com/voxdesk/voxdesk/pkg/providers/mock"
	"github.com/voxdesk/voxdesk/pkg/providers/openai"
	"github.com/voxdesk/voxdesk/pkg/redact"
	"github.com/voxdesk/voxdesk/pkg/resilience"
	"github.com/voxdesk/voxdesk/pkg/runner"
	"github.com/voxdesk/voxdesk/pkg/session"
	"github.com/voxdesk/voxdesk/pkg/tenant"
	"github.com/voxdesk/voxdesk/pkg/tools"
	"github.com/voxdesk/voxdesk/pkg/transports"
	mocktransport "github.com/voxdesk/voxdesk/pkg/transports/mock"
	twiliotransport "github.com/voxdesk/voxdesk/pkg/transports/twilio"
)

type deepgramSTTSettings struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	SampleRate     int    `mapstructure:"sample_rate"`
	Encoding       string `mapstructure:"encoding"`
	Punctuate      *bool  `mapstructure:"punctuate"`
	Interim        *bool  `mapstructure:"interim"`
	VADEvents      *bool  `mapstructure:"vad_events"`
	UtteranceEndMS int    `mapstructure:"utterance_end_ms"`
	EndpointingMS  int    `mapstructure:"endpointing_ms"`
	MaxReconnects  int    `mapstructure:"max_reconnects"`
}

type deepgramTTSSettings struct {
	APIKey     string `mapstructure:"api_key"`
	Voice      string `mapstructure:"voice"`
	SampleRate int    `mapstructure:"sample_rate"`
	Encoding   string `mapstructure:"encoding"`
}

type elevenlabsSettings struct {
	APIKey       string `mapstructure:"api_key"`
	VoiceID      string `mapstructure:"voice_id"`
	ModelID      string `mapstructure:"model_id"`
	OutputFormat string `mapstructure:"output_format"`
	SampleRate   int    `mapstructure:"sample_rate"`
}

type openAISettings struct {
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"`
	BaseURL           string `mapstructure:"base_url"`
	UseCircuitBreaker *bool  `mapstructure:"use_circuit_breaker"`
	CircuitThreshold  int    `mapstructure:"circuit_threshold"`
	CircuitCooldownMs int    `mapstructure:"circuit_cooldown_ms"`
}

type twilioSettings struct {
	AccountSID         string   `mapstructure:"account_sid"`
	AuthToken          string   `mapstructure:"auth_token"`
	PublicURL          string   `mapstructure:"public_url"`
	ServerAddr         string   `mapstructure:"server_addr"`
	IncomingPath       string   `mapstructure:"incoming_path"`
	WebsocketPath      string   `mapstructure:"ws_path"`
	StatusPath         string   `mapstructure:"status_path"`
	StatusCallbackPath string   `mapstructure:"status_callback_path"`
	SMSFrom            string   `mapstructure:"sms_from"`
	AllowAnyOrigin     bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
}

type supabaseSettings struct {
	URL         string `mapstructure:"url"`
	APIKey      string `mapstructure:"api_key"`
	CacheTTLSec int    `mapstructure:"cache_ttl_s"`
}

func parseLogLevel(v string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logger := logging.InitLogger(parseLogLevel(cfg.LogLevel))
	slog.SetDefault(logger)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	obs := metrics.NewAsyncObserver(observers.NewMultiObserver(
		observers.NewLoggerObserver(logger),
		observers.NewLatencyObserver(logger),
	), 1024)
	defer obs.Close()

	store, cacheTTL, err := buildStore(cfg)
	if err != nil {
		logger.Error("store_unavailable", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	resolver := tenant.NewResolver(store, cacheTTL, logger)
	router := tools.NewRouter(store, obs, logger)

	adapter, err := buildLLM(cfg)
	if err != nil {
		logger.Error("llm_unavailable", "error", err)
		os.Exit(1)
	}
	if cb, ok := adapter.(*llm.CircuitBreakerAdapter); ok {
		cb.SetObserver(obs)
	}
	eng := engine.New(adapter, router, obs, logger)

	providers, err := buildProviders(cfg, obs)
	if err != nil {
		logger.Error("providers_unavailable", "error", err)
		os.Exit(1)
	}

	transport, sms, err := buildTransport(cfg, resolver)
	if err != nil {
		logger.Error("transport_unavailable", "error", err)
		os.Exit(1)
	}

	ender, _ := transport.(transports.CallEnder)
	registry := session.NewRegistry(session.Config{
		DebounceWindow:   cfg.Session.DebounceWindow(),
		BargeInThreshold: cfg.Session.BargeInThreshold,
		IdleTimeout:      cfg.Session.IdleTimeout(),
		EndFailSafe:      cfg.Session.EndFailSafe(),
		MaxTokens:        cfg.Session.MaxTokens,
		Temperature:      cfg.Session.Temperature,
	}, session.RegistryDeps{
		Transport: transport,
		Ender:     ender,
		Resolver:  resolver,
		Providers: providers,
		Engine:    eng,
		Store:     store,
		SMS:       sms,
		Obs:       obs,
		Log:       logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := transport.Start(ctx); err != nil {
		logger.Error("transport_start_failed", "error", err)
		os.Exit(1)
	}
	go registry.Run(ctx)

	lr := runner.NewLifecycleRunner(drainFunc(func() error {
		cancel()
		return transport.Stop()
	}), runner.Hooks{
		OnStart: func() {
			fields := []any{"transport", transport.Name(), "environment", cfg.Environment}
			if rr, ok := transport.(transports.ReadyReporter); ok {
				for k, v := range rr.ReadyFields() {
					fields = append(fields, k, v)
				}
			}
			logger.Info("voxdesk_ready", fields...)
		},
		OnStop: func() {
			logger.Info("voxdesk_stopped", "active_sessions", registry.ActiveSessions())
		},
	}, cfg.Session.DrainTimeout())

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		_ = lr.Stop()
	}()

	if err := lr.Run(ctx); err != nil {
		logger.Error("shutdown_error", "error", err)
	}
}

type drainFunc func() error

func (f drainFunc) Drain() error { return f() }

func buildStore(cfg config.Config) (tenant.Store, time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Provider)) {
	case "supabase":
		if err := validateSettings("store.settings", cfg.Store.Settings, configutil.Schema{
			Required: []string{"url", "api_key"},
			Optional: []string{"cache_ttl_s"},
		}); err != nil {
			return nil, 0, err
		}
		var settings supabaseSettings
		if err := configutil.DecodeSettings(cfg.Store.Settings, &settings); err != nil {
			return nil, 0, err
		}
		store, err := tenant.NewSupabaseStore(tenant.SupabaseConfig{
			URL:    settings.URL,
			APIKey: settings.APIKey,
		})
		if err != nil {
			return nil, 0, err
		}
		ttl := 5 * time.Minute
		if settings.CacheTTLSec > 0 {
			ttl = time.Duration(settings.CacheTTLSec) * time.Second
		}
		return store, ttl, nil
	case "memory", "":
		return tenant.NewMemoryStore(), 5 * time.Minute, nil
	default:
		return nil, 0, fmt.Errorf("unsupported store provider: %s", cfg.Store.Provider)
	}
}

func buildLLM(cfg config.Config) (llm.Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Providers.LLM.Provider)) {
	case "openai":
		if err := validateSettings("providers.llm.settings", cfg.Providers.LLM.Settings, configutil.Schema{
			Required: []string{"api_key", "model"},
			Optional: []string{"base_url", "use_circuit_breaker", "circuit_threshold", "circuit_cooldown_ms"},
		}); err != nil {
			return nil, err
		}
		var settings openAISettings
		if err := configutil.DecodeSettings(cfg.Providers.LLM.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "providers.llm.settings.api_key"); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.Model, "providers.llm.settings.model"); err != nil {
			return nil, err
		}
		adapter := openai.NewAdapter(settings.APIKey, settings.Model)
		if settings.BaseURL != "" {
			adapter.BaseURL = settings.BaseURL
		}
		if !configutil.BoolValue(settings.UseCircuitBreaker, true) {
			return adapter, nil
		}
		threshold := settings.CircuitThreshold
		if threshold == 0 {
			threshold = 3
		}
		cooldown := settings.CircuitCooldownMs
		if cooldown == 0 {
			cooldown = 30000
		}
		breaker := resilience.NewCircuitBreaker(threshold, time.Duration(cooldown)*time.Millisecond)
		return llm.NewCircuitBreakerAdapter(adapter, breaker), nil
	case "mock":
		return mock.NewLLMAdapter(mock.LLMConfig{}), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Providers.LLM.Provider)
	}
}

// providerFactory builds per-call Deepgram sockets. TTS voice and audio
// format come from the tenant snapshot so each business keeps its own
// voice.
type providerFactory struct {
	stt       deepgramSTTSettings
	tts       deepgramTTSSettings
	el        elevenlabsSettings
	ttsVendor string
	useMock   bool
	obs       metrics.Observer
}

func buildProviders(cfg config.Config, obs metrics.Observer) (*providerFactory, error) {
	f := &providerFactory{obs: obs}

	switch strings.ToLower(strings.TrimSpace(cfg.Providers.STT.Provider)) {
	case "deepgram":
		if err := validateSettings("providers.stt.settings", cfg.Providers.STT.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language", "sample_rate", "encoding", "punctuate", "interim", "vad_events", "utterance_end_ms", "endpointing_ms", "max_reconnects"},
		}); err != nil {
			return nil, err
		}
		if err := configutil.DecodeSettings(cfg.Providers.STT.Settings, &f.stt); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(f.stt.APIKey, "providers.stt.settings.api_key"); err != nil {
			return nil, err
		}
	case "mock":
		f.useMock = true
	default:
		return nil, fmt.Errorf("unsupported stt provider: %s", cfg.Providers.STT.Provider)
	}

	f.ttsVendor = strings.ToLower(strings.TrimSpace(cfg.Providers.TTS.Provider))
	switch f.ttsVendor {
	case "deepgram":
		if err := validateSettings("providers.tts.settings", cfg.Providers.TTS.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"voice", "sample_rate", "encoding"},
		}); err != nil {
			return nil, err
		}
		if err := configutil.DecodeSettings(cfg.Providers.TTS.Settings, &f.tts); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(f.tts.APIKey, "providers.tts.settings.api_key"); err != nil {
			return nil, err
		}
	case "elevenlabs":
		if err := validateSettings("providers.tts.settings", cfg.Providers.TTS.Settings, configutil.Schema{
			Required: []string{"api_key", "voice_id"},
			Optional: []string{"model_id", "output_format", "sample_rate"},
		}); err != nil {
			return nil, err
		}
		if err := configutil.DecodeSettings(cfg.Providers.TTS.Settings, &f.el); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(f.el.APIKey, "providers.tts.settings.api_key"); err != nil {
			return nil, err
		}
	case "mock":
		if !f.useMock {
			return nil, fmt.Errorf("mock tts requires mock stt")
		}
	default:
		return nil, fmt.Errorf("unsupported tts provider: %s", cfg.Providers.TTS.Provider)
	}

	return f, nil
}

func (f *providerFactory) NewSTT(info session.Info, snap tenant.Snapshot) stt.StreamingSTT {
	if f.useMock {
		return mock.NewSTT(mock.STTConfig{
			StreamID: info.StreamID,
			CallSID:  info.CallSID,
			TraceID:  info.TraceID,
		})
	}
	language := f.stt.Language
	if snap.Language != "" {
		language = snap.Language
	}
	interim := configutil.BoolValue(f.stt.Interim, true)
	vadEvents := configutil.BoolValue(f.stt.VADEvents, true)
	return deepgram.NewSTT(deepgram.STTConfig{
		APIKey:         f.stt.APIKey,
		Model:          f.stt.Model,
		Language:       language,
		SampleRate:     f.stt.SampleRate,
		Encoding:       f.stt.Encoding,
		Punctuate:      f.stt.Punctuate,
		Interim:        interim,
		VADEvents:      vadEvents,
		UtteranceEndMS: f.stt.UtteranceEndMS,
		EndpointingMS:  f.stt.EndpointingMS,
		MaxReconnects:  f.stt.MaxReconnects,
		StreamID:       info.StreamID,
		CallSID:        info.CallSID,
		TraceID:        info.TraceID,
	}, f.obs)
}

func (f *providerFactory) NewTTS(info session.Info, snap tenant.Snapshot) tts.StreamingTTS {
	if f.useMock {
		return mock.NewTTS(mock.TTSConfig{
			StreamID: info.StreamID,
			CallSID:  info.CallSID,
		})
	}
	if f.ttsVendor == "elevenlabs" {
		voiceID := f.el.VoiceID
		if snap.Voice.Provider == "elevenlabs" && snap.Voice.VoiceID != "" {
			voiceID = snap.Voice.VoiceID
		}
		return elevenlabs.New(elevenlabs.Config{
			APIKey:       f.el.APIKey,
			VoiceID:      voiceID,
			ModelID:      f.el.ModelID,
			OutputFormat: f.el.OutputFormat,
			SampleRate:   f.el.SampleRate,
			StreamID:     info.StreamID,
			CallSID:      info.CallSID,
			TraceID:      info.TraceID,
		})
	}
	voice := f.tts.Voice
	if snap.Voice.VoiceID != "" {
		voice = snap.Voice.VoiceID
	}
	sampleRate := f.tts.SampleRate
	if snap.Voice.SampleRate > 0 {
		sampleRate = snap.Voice.SampleRate
	}
	encoding := f.tts.Encoding
	if snap.Voice.Encoding != "" {
		encoding = snap.Voice.Encoding
	}
	return deepgram.NewTTS(deepgram.TTSConfig{
		APIKey:     f.tts.APIKey,
		Voice:      voice,
		SampleRate: sampleRate,
		Encoding:   encoding,
		StreamID:   info.StreamID,
		CallSID:    info.CallSID,
		TraceID:    info.TraceID,
	})
}

func buildTransport(cfg config.Config, resolver *tenant.Resolver) (transports.Transport, session.SMSSender, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport.Provider)) {
	case "twilio":
		if err := validateSettings("transport.settings", cfg.Transport.Settings, configutil.Schema{
			Required: []string{"account_sid", "auth_token"},
			Optional: []string{"public_url", "server_addr", "incoming_path", "ws_path", "status_path", "status_callback_path", "sms_from", "allow_any_origin", "allowed_origins"},
		}); err != nil {
			return nil, nil, err
		}
		var settings twilioSettings
		if err := configutil.DecodeSettings(cfg.Transport.Settings, &settings); err != nil {
			return nil, nil, err
		}
		if err := configutil.RequireString(settings.AccountSID, "transport.settings.account_sid"); err != nil {
			return nil, nil, err
		}
		if err := configutil.RequireString(settings.AuthToken, "transport.settings.auth_token"); err != nil {
			return nil, nil, err
		}
		t := twiliotransport.New(twiliotransport.Config{
			ServerAddr:         settings.ServerAddr,
			PublicURL:          settings.PublicURL,
			AuthToken:          settings.AuthToken,
			AccountSID:         settings.AccountSID,
			IncomingPath:       settings.IncomingPath,
			WebsocketPath:      settings.WebsocketPath,
			StatusPath:         settings.StatusPath,
			StatusCallbackPath: settings.StatusCallbackPath,
			AllowAnyOrigin:     settings.AllowAnyOrigin,
			AllowedOrigins:     settings.AllowedOrigins,
		}, resolver)
		var sms session.SMSSender
		if settings.SMSFrom != "" {
			sms = twiliotransport.NewSMSSender(settings.AccountSID, settings.AuthToken, settings.SMSFrom)
		}
		return t, sms, nil
	case "mock":
		return mocktransport.New(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported transport provider: %s", cfg.Transport.Provider)
	}
}

func validateSettings(path string, input map[string]any, schema configutil.Schema) error {
	if err := configutil.ValidateSettings(input, schema); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
