package core

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// LoadConfig resolves defaults, loader values and runtime overrides, in that precedence order.
// Loader keys are layered as supplied, so an explicit zero (for example ping_interval=0s)
// overrides the default.
func LoadConfig(ctx context.Context, loader RawConfigLoader, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	provider := NewCfgxConfigProvider(loader)
	raw, err := provider.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	if _, err := provider.build(raw, defaults); err != nil {
		return Config{}, err
	}
	return GoOptionsResolver{}.ResolveRaw(defaults, raw, runtime)
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	raw, err := p.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	return p.build(raw, defaults)
}

// LoadRaw returns a private copy of the loader's raw map.
func (p *CfgxConfigProvider) LoadRaw(ctx context.Context) (map[string]any, error) {
	loader := RawConfigLoader(StaticRawConfigLoader{})
	if p != nil && p.Loader != nil {
		loader = p.Loader
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return nil, err
	}
	return cloneRaw(raw), nil
}

func (p *CfgxConfigProvider) build(raw map[string]any, defaults Config) (Config, error) {
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func cloneRaw(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for key, value := range raw {
		if nested, ok := value.(map[string]any); ok {
			out[key] = cloneRaw(nested)
			continue
		}
		out[key] = value
	}
	return out
}

type GoOptionsResolver struct{}

// Resolve layers a typed loaded config. Zero fields in loaded and runtime read as unset; use
// ResolveRaw to layer explicit zeros.
func (r GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	return r.ResolveRaw(defaults, configToLayerMap(loaded, false), runtime)
}

// ResolveRaw layers defaults < loadedLayer < runtime, where loadedLayer holds exactly the keys
// a loader supplied.
func (GoOptionsResolver) ResolveRaw(defaults Config, loadedLayer map[string]any, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	if loadedLayer == nil {
		loadedLayer = map[string]any{}
	}
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setLayerValue(layer, "service_name", cfg.ServiceName, includeZero)
	setLayerValue(layer, "log_level", cfg.LogLevel, includeZero)

	httpLayer := map[string]any{}
	setLayerValue(httpLayer, "addr", cfg.HTTP.Addr, includeZero)
	setLayerValue(httpLayer, "read_header_timeout", cfg.HTTP.ReadHeaderTimeout, includeZero)
	setLayerValue(httpLayer, "shutdown_timeout", cfg.HTTP.ShutdownTimeout, includeZero)
	setLayerSection(layer, "http", httpLayer, includeZero)

	webhookLayer := map[string]any{}
	setLayerValue(webhookLayer, "path", cfg.Webhook.Path, includeZero)
	setLayerValue(webhookLayer, "verify_token", cfg.Webhook.VerifyToken, includeZero)
	setLayerValue(webhookLayer, "app_secret", cfg.Webhook.AppSecret, includeZero)
	setLayerValue(webhookLayer, "object", cfg.Webhook.Object, includeZero)
	setLayerValue(webhookLayer, "max_body_bytes", cfg.Webhook.MaxBodyBytes, includeZero)
	setLayerValue(webhookLayer, "queue_size", cfg.Webhook.QueueSize, includeZero)
	setLayerValue(webhookLayer, "workers", cfg.Webhook.Workers, includeZero)
	setLayerSection(layer, "webhook", webhookLayer, includeZero)

	realtimeLayer := map[string]any{}
	setLayerValue(realtimeLayer, "path", cfg.Realtime.Path, includeZero)
	setLayerValue(realtimeLayer, "auth_timeout", cfg.Realtime.AuthTimeout, includeZero)
	setLayerValue(realtimeLayer, "send_buffer", cfg.Realtime.SendBuffer, includeZero)
	setLayerValue(realtimeLayer, "write_timeout", cfg.Realtime.WriteTimeout, includeZero)
	setLayerValue(realtimeLayer, "ping_interval", cfg.Realtime.PingInterval, includeZero)
	setLayerValue(realtimeLayer, "ping_timeout", cfg.Realtime.PingTimeout, includeZero)
	if includeZero || len(cfg.Realtime.OriginPatterns) > 0 {
		realtimeLayer["origin_patterns"] = append([]string(nil), cfg.Realtime.OriginPatterns...)
	}
	setLayerValue(realtimeLayer, "events_per_second", cfg.Realtime.EventsPerSecond, includeZero)
	setLayerValue(realtimeLayer, "event_burst", cfg.Realtime.EventBurst, includeZero)
	setLayerSection(layer, "realtime", realtimeLayer, includeZero)

	authLayer := map[string]any{}
	setLayerValue(authLayer, "jwt_secret", cfg.Auth.JWTSecret, includeZero)
	setLayerValue(authLayer, "issuer", cfg.Auth.Issuer, includeZero)
	setLayerValue(authLayer, "audience", cfg.Auth.Audience, includeZero)
	setLayerValue(authLayer, "cache_ttl", cfg.Auth.CacheTTL, includeZero)
	setLayerSection(layer, "auth", authLayer, includeZero)

	databaseLayer := map[string]any{}
	setLayerValue(databaseLayer, "driver", cfg.Database.Driver, includeZero)
	setLayerValue(databaseLayer, "dsn", cfg.Database.DSN, includeZero)
	setLayerValue(databaseLayer, "debug", cfg.Database.Debug, includeZero)
	setLayerSection(layer, "database", databaseLayer, includeZero)
	return layer
}

func setLayerValue[T comparable](layer map[string]any, key string, value T, includeZero bool) {
	var zero T
	if !includeZero && value == zero {
		return
	}
	if text, ok := any(value).(string); ok && !includeZero && strings.TrimSpace(text) == "" {
		return
	}
	layer[key] = value
}

func setLayerSection(layer map[string]any, key string, section map[string]any, includeZero bool) {
	if includeZero || len(section) > 0 {
		layer[key] = section
	}
}

type envKind int

const (
	envString envKind = iota
	envDuration
	envInt
	envInt64
	envFloat
	envBool
	envCSV
)

type envBinding struct {
	path []string
	kind envKind
}

var envBindings = map[string]envBinding{
	"SERVICE_NAME":               {path: []string{"service_name"}, kind: envString},
	"LOG_LEVEL":                  {path: []string{"log_level"}, kind: envString},
	"HTTP_ADDR":                  {path: []string{"http", "addr"}, kind: envString},
	"HTTP_READ_HEADER_TIMEOUT":   {path: []string{"http", "read_header_timeout"}, kind: envDuration},
	"HTTP_SHUTDOWN_TIMEOUT":      {path: []string{"http", "shutdown_timeout"}, kind: envDuration},
	"WEBHOOK_PATH":               {path: []string{"webhook", "path"}, kind: envString},
	"WEBHOOK_VERIFY_TOKEN":       {path: []string{"webhook", "verify_token"}, kind: envString},
	"WEBHOOK_APP_SECRET":         {path: []string{"webhook", "app_secret"}, kind: envString},
	"WEBHOOK_OBJECT":             {path: []string{"webhook", "object"}, kind: envString},
	"WEBHOOK_MAX_BODY_BYTES":     {path: []string{"webhook", "max_body_bytes"}, kind: envInt64},
	"WEBHOOK_QUEUE_SIZE":         {path: []string{"webhook", "queue_size"}, kind: envInt},
	"WEBHOOK_WORKERS":            {path: []string{"webhook", "workers"}, kind: envInt},
	"REALTIME_PATH":              {path: []string{"realtime", "path"}, kind: envString},
	"REALTIME_AUTH_TIMEOUT":      {path: []string{"realtime", "auth_timeout"}, kind: envDuration},
	"REALTIME_SEND_BUFFER":       {path: []string{"realtime", "send_buffer"}, kind: envInt},
	"REALTIME_WRITE_TIMEOUT":     {path: []string{"realtime", "write_timeout"}, kind: envDuration},
	"REALTIME_PING_INTERVAL":     {path: []string{"realtime", "ping_interval"}, kind: envDuration},
	"REALTIME_PING_TIMEOUT":      {path: []string{"realtime", "ping_timeout"}, kind: envDuration},
	"REALTIME_ORIGIN_PATTERNS":   {path: []string{"realtime", "origin_patterns"}, kind: envCSV},
	"REALTIME_EVENTS_PER_SECOND": {path: []string{"realtime", "events_per_second"}, kind: envFloat},
	"REALTIME_EVENT_BURST":       {path: []string{"realtime", "event_burst"}, kind: envInt},
	"AUTH_JWT_SECRET":            {path: []string{"auth", "jwt_secret"}, kind: envString},
	"AUTH_ISSUER":                {path: []string{"auth", "issuer"}, kind: envString},
	"AUTH_AUDIENCE":              {path: []string{"auth", "audience"}, kind: envString},
	"AUTH_CACHE_TTL":             {path: []string{"auth", "cache_ttl"}, kind: envDuration},
	"DATABASE_DRIVER":            {path: []string{"database", "driver"}, kind: envString},
	"DATABASE_DSN":               {path: []string{"database", "dsn"}, kind: envString},
	"DATABASE_DEBUG":             {path: []string{"database", "debug"}, kind: envBool},
}

// EnvConfigLoader reads PREFIX_* variables (default GUARDRELAY) into a nested raw map.
type EnvConfigLoader struct {
	Prefix string
	Lookup func(key string) (string, bool)
}

func NewEnvConfigLoader(prefix string) EnvConfigLoader {
	return EnvConfigLoader{Prefix: prefix, Lookup: os.LookupEnv}
}

func (l EnvConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	prefix := strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(l.Prefix)), "_")
	if prefix == "" {
		prefix = "GUARDRELAY"
	}
	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	raw := map[string]any{}
	for suffix, binding := range envBindings {
		key := prefix + "_" + suffix
		value, ok := lookup(key)
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		parsed, err := parseEnvValue(binding.kind, value)
		if err != nil {
			return nil, fmt.Errorf("core: env %s is invalid: %w", key, err)
		}
		setPath(raw, binding.path, parsed)
	}
	return raw, nil
}

func parseEnvValue(kind envKind, value string) (any, error) {
	switch kind {
	case envDuration:
		return time.ParseDuration(value)
	case envInt:
		return strconv.Atoi(value)
	case envInt64:
		return strconv.ParseInt(value, 10, 64)
	case envFloat:
		return strconv.ParseFloat(value, 64)
	case envBool:
		return strconv.ParseBool(value)
	case envCSV:
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	default:
		return value, nil
	}
}

func setPath(root map[string]any, path []string, value any) {
	current := root
	for _, segment := range path[:len(path)-1] {
		next, ok := current[segment].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[segment] = next
		}
		current = next
	}
	current[path[len(path)-1]] = value
}
