package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingLoader struct{}

func (failingLoader) LoadRaw(context.Context) (map[string]any, error) {
	return nil, errors.New("loader down")
}

func TestLoadConfig_LayeringPrecedence(t *testing.T) {
	loader := StaticRawConfigLoader{Values: map[string]any{
		"service_name": "relay-from-config",
		"webhook": map[string]any{
			"verify_token": "from-config",
			"workers":      3,
		},
		"realtime": map[string]any{
			"send_buffer": 16,
		},
	}}
	runtime := Config{
		Webhook:  WebhookConfig{VerifyToken: "from-runtime"},
		Realtime: RealtimeConfig{PingInterval: 2 * time.Second},
	}

	cfg, err := LoadConfig(context.Background(), loader, runtime)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ServiceName != "relay-from-config" {
		t.Fatalf("expected config layer service name, got %q", cfg.ServiceName)
	}
	if cfg.Webhook.VerifyToken != "from-runtime" {
		t.Fatalf("expected runtime layer to win, got %q", cfg.Webhook.VerifyToken)
	}
	if cfg.Webhook.Workers != 3 || cfg.Realtime.SendBuffer != 16 {
		t.Fatalf("expected config layer values, got workers=%d buffer=%d", cfg.Webhook.Workers, cfg.Realtime.SendBuffer)
	}
	if cfg.Realtime.PingInterval != 2*time.Second {
		t.Fatalf("expected runtime ping interval, got %s", cfg.Realtime.PingInterval)
	}
	if cfg.Webhook.Path != "/webhook" || cfg.Realtime.Path != "/ws" {
		t.Fatalf("expected default paths, got %q %q", cfg.Webhook.Path, cfg.Realtime.Path)
	}
}

func TestLoadConfig_PropagatesLoaderAndValidationErrors(t *testing.T) {
	if _, err := LoadConfig(context.Background(), failingLoader{}, Config{}); err == nil {
		t.Fatalf("expected loader error")
	}
	_, err := LoadConfig(context.Background(), nil, Config{Database: DatabaseConfig{Driver: "oracle"}})
	if err == nil {
		t.Fatalf("expected unsupported driver to fail validation")
	}
}

func TestEnvConfigLoader_ParsesBindings(t *testing.T) {
	env := map[string]string{
		"GUARDRELAY_WEBHOOK_APP_SECRET":         "s3cr3t",
		"GUARDRELAY_WEBHOOK_MAX_BODY_BYTES":     "2048",
		"GUARDRELAY_REALTIME_PING_INTERVAL":     "15s",
		"GUARDRELAY_REALTIME_ORIGIN_PATTERNS":   "ops.example.com, *.example.org,",
		"GUARDRELAY_REALTIME_EVENTS_PER_SECOND": "2.5",
		"GUARDRELAY_DATABASE_DEBUG":             "true",
		"GUARDRELAY_LOG_LEVEL":                  "  ",
		"OTHER_HTTP_ADDR":                       ":9999",
	}
	loader := EnvConfigLoader{Lookup: func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}}

	cfg, err := LoadConfig(context.Background(), loader, Config{})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Webhook.AppSecret != "s3cr3t" || cfg.Webhook.MaxBodyBytes != 2048 {
		t.Fatalf("unexpected webhook config %+v", cfg.Webhook)
	}
	if cfg.Realtime.PingInterval != 15*time.Second || cfg.Realtime.EventsPerSecond != 2.5 {
		t.Fatalf("unexpected realtime config %+v", cfg.Realtime)
	}
	if len(cfg.Realtime.OriginPatterns) != 2 || cfg.Realtime.OriginPatterns[1] != "*.example.org" {
		t.Fatalf("unexpected origin patterns %v", cfg.Realtime.OriginPatterns)
	}
	if !cfg.Database.Debug {
		t.Fatalf("expected database debug from env")
	}
	if cfg.LogLevel != "info" || cfg.HTTP.Addr != ":8080" {
		t.Fatalf("expected blank and foreign variables to be ignored, got level=%q addr=%q", cfg.LogLevel, cfg.HTTP.Addr)
	}
}

func TestEnvConfigLoader_InvalidValue(t *testing.T) {
	loader := EnvConfigLoader{Prefix: "relay_", Lookup: func(key string) (string, bool) {
		if key == "RELAY_WEBHOOK_WORKERS" {
			return "many", true
		}
		return "", false
	}}
	if _, err := loader.LoadRaw(context.Background()); err == nil {
		t.Fatalf("expected invalid integer to fail")
	}
}

func TestLoadConfig_ExplicitZeroOverridesDefaults(t *testing.T) {
	env := map[string]string{
		"GUARDRELAY_REALTIME_PING_INTERVAL":     "0s",
		"GUARDRELAY_AUTH_CACHE_TTL":             "0s",
		"GUARDRELAY_REALTIME_EVENTS_PER_SECOND": "0",
	}
	loader := EnvConfigLoader{Lookup: func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}}

	cfg, err := LoadConfig(context.Background(), loader, Config{})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Realtime.PingInterval != 0 {
		t.Fatalf("expected ping disabled, got %s", cfg.Realtime.PingInterval)
	}
	if cfg.Auth.CacheTTL != 0 {
		t.Fatalf("expected token cache disabled, got %s", cfg.Auth.CacheTTL)
	}
	if cfg.Realtime.EventsPerSecond != 0 {
		t.Fatalf("expected rate limit disabled, got %v", cfg.Realtime.EventsPerSecond)
	}
	if cfg.Realtime.PingTimeout != 10*time.Second || cfg.Realtime.EventBurst != 20 {
		t.Fatalf("expected untouched keys to keep defaults, got timeout=%s burst=%d", cfg.Realtime.PingTimeout, cfg.Realtime.EventBurst)
	}
}

func TestLoadConfig_StaticZeroAndRuntimePrecedence(t *testing.T) {
	loader := StaticRawConfigLoader{Values: map[string]any{
		"webhook": map[string]any{"workers": 0, "queue_size": 0},
	}}
	cfg, err := LoadConfig(context.Background(), loader, Config{Webhook: WebhookConfig{Workers: 2}})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Webhook.QueueSize != 0 {
		t.Fatalf("expected explicit zero queue size, got %d", cfg.Webhook.QueueSize)
	}
	if cfg.Webhook.Workers != 2 {
		t.Fatalf("expected runtime workers to win over config zero, got %d", cfg.Webhook.Workers)
	}
}
