package core

import (
	"fmt"
	"strings"
	"time"
)

const DefaultWebhookObject = "whatsapp_business_account"

type HTTPConfig struct {
	Addr              string        `koanf:"addr" mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout" mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

type WebhookConfig struct {
	Path         string `koanf:"path" mapstructure:"path"`
	VerifyToken  string `koanf:"verify_token" mapstructure:"verify_token"`
	AppSecret    string `koanf:"app_secret" mapstructure:"app_secret"`
	Object       string `koanf:"object" mapstructure:"object"`
	MaxBodyBytes int64  `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
	QueueSize    int    `koanf:"queue_size" mapstructure:"queue_size"`
	Workers      int    `koanf:"workers" mapstructure:"workers"`
}

type RealtimeConfig struct {
	Path            string        `koanf:"path" mapstructure:"path"`
	AuthTimeout     time.Duration `koanf:"auth_timeout" mapstructure:"auth_timeout"`
	SendBuffer      int           `koanf:"send_buffer" mapstructure:"send_buffer"`
	WriteTimeout    time.Duration `koanf:"write_timeout" mapstructure:"write_timeout"`
	PingInterval    time.Duration `koanf:"ping_interval" mapstructure:"ping_interval"`
	PingTimeout     time.Duration `koanf:"ping_timeout" mapstructure:"ping_timeout"`
	OriginPatterns  []string      `koanf:"origin_patterns" mapstructure:"origin_patterns"`
	EventsPerSecond float64       `koanf:"events_per_second" mapstructure:"events_per_second"`
	EventBurst      int           `koanf:"event_burst" mapstructure:"event_burst"`
}

type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret" mapstructure:"jwt_secret"`
	Issuer    string        `koanf:"issuer" mapstructure:"issuer"`
	Audience  string        `koanf:"audience" mapstructure:"audience"`
	CacheTTL  time.Duration `koanf:"cache_ttl" mapstructure:"cache_ttl"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
	Debug  bool   `koanf:"debug" mapstructure:"debug"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	LogLevel    string         `koanf:"log_level" mapstructure:"log_level"`
	HTTP        HTTPConfig     `koanf:"http" mapstructure:"http"`
	Webhook     WebhookConfig  `koanf:"webhook" mapstructure:"webhook"`
	Realtime    RealtimeConfig `koanf:"realtime" mapstructure:"realtime"`
	Auth        AuthConfig     `koanf:"auth" mapstructure:"auth"`
	Database    DatabaseConfig `koanf:"database" mapstructure:"database"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "guardrelay",
		LogLevel:    "info",
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Webhook: WebhookConfig{
			Path:         "/webhook",
			Object:       DefaultWebhookObject,
			MaxBodyBytes: 1 << 20,
			QueueSize:    256,
			Workers:      1,
		},
		Realtime: RealtimeConfig{
			Path:            "/ws",
			AuthTimeout:     5 * time.Second,
			SendBuffer:      64,
			WriteTimeout:    10 * time.Second,
			PingInterval:    25 * time.Second,
			PingTimeout:     10 * time.Second,
			EventsPerSecond: 10,
			EventBurst:      20,
		},
		Auth: AuthConfig{
			CacheTTL: time.Minute,
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if !strings.HasPrefix(strings.TrimSpace(c.Webhook.Path), "/") {
		return fmt.Errorf("core: webhook.path must start with /")
	}
	if !strings.HasPrefix(strings.TrimSpace(c.Realtime.Path), "/") {
		return fmt.Errorf("core: realtime.path must start with /")
	}
	if strings.TrimSpace(c.Webhook.Path) == strings.TrimSpace(c.Realtime.Path) {
		return fmt.Errorf("core: webhook.path and realtime.path must differ")
	}
	if c.Webhook.MaxBodyBytes < 0 {
		return fmt.Errorf("core: webhook.max_body_bytes is invalid")
	}
	if c.Webhook.QueueSize < 0 || c.Webhook.Workers < 0 {
		return fmt.Errorf("core: webhook queue settings are invalid")
	}
	if c.Realtime.SendBuffer < 0 {
		return fmt.Errorf("core: realtime.send_buffer is invalid")
	}
	if c.Realtime.EventsPerSecond < 0 || c.Realtime.EventBurst < 0 {
		return fmt.Errorf("core: realtime rate limit is invalid")
	}
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "", "sqlite3", "sqlite", "postgres":
	default:
		return fmt.Errorf("core: database.driver %q is not supported", c.Database.Driver)
	}
	return nil
}

// SigningDisabled reports whether webhook signature checks are skipped.
func (c Config) SigningDisabled() bool {
	return strings.TrimSpace(c.Webhook.AppSecret) == ""
}
