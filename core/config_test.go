package core

import (
	"strings"
	"testing"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate: %v", err)
	}
	if !cfg.SigningDisabled() {
		t.Fatalf("expected signing disabled without an app secret")
	}
	cfg.Webhook.AppSecret = "s3cr3t"
	if cfg.SigningDisabled() {
		t.Fatalf("expected signing enabled with an app secret")
	}
}

func TestConfigValidate_Rejections(t *testing.T) {
	cases := map[string]func(*Config){
		"service_name":     func(c *Config) { c.ServiceName = " " },
		"webhook.path":     func(c *Config) { c.Webhook.Path = "webhook" },
		"realtime.path":    func(c *Config) { c.Realtime.Path = "" },
		"must differ":      func(c *Config) { c.Realtime.Path = c.Webhook.Path },
		"max_body_bytes":   func(c *Config) { c.Webhook.MaxBodyBytes = -1 },
		"queue settings":   func(c *Config) { c.Webhook.Workers = -1 },
		"send_buffer":      func(c *Config) { c.Realtime.SendBuffer = -4 },
		"rate limit":       func(c *Config) { c.Realtime.EventBurst = -1 },
		"is not supported": func(c *Config) { c.Database.Driver = "mysql" },
	}
	for want, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", want)
		}
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("%s: unexpected error %v", want, err)
		}
	}
}
