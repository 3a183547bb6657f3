package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Concurrency != 4 {
		t.Fatalf("concurrency default: %d", cfg.Concurrency)
	}
	if cfg.VisibilitySeconds != 30 || cfg.ExtensionIntervalSeconds != 15 {
		t.Fatalf("visibility defaults: %d/%d", cfg.VisibilitySeconds, cfg.ExtensionIntervalSeconds)
	}
	if cfg.MaxRetries != 3 {
		t.Fatalf("max retries default: %d", cfg.MaxRetries)
	}
	if cfg.PollWaitSeconds != 20 {
		t.Fatalf("poll wait default: %d", cfg.PollWaitSeconds)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.json")
	data := []byte(`{
		"queueUrl": "https://sqs.us-east-1.amazonaws.com/123/work",
		"deadLetterQueueUrl": "https://sqs.us-east-1.amazonaws.com/123/work-dlq",
		"concurrency": 8,
		"maxRetries": 5,
		"adapter": {"maxAttempts": 7}
	}`)
	if err := os.WriteFile(file, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.QueueURL != "https://sqs.us-east-1.amazonaws.com/123/work" {
		t.Fatalf("queue url: %q", cfg.QueueURL)
	}
	if cfg.Concurrency != 8 || cfg.MaxRetries != 5 {
		t.Fatalf("overrides not applied: %d/%d", cfg.Concurrency, cfg.MaxRetries)
	}
	// untouched fields keep defaults
	if cfg.VisibilitySeconds != 30 {
		t.Fatalf("visibility lost default: %d", cfg.VisibilitySeconds)
	}
	if cfg.Adapter.MaxAttempts != 7 || cfg.Adapter.BackoffBaseMS != 100 {
		t.Fatalf("adapter section: %+v", cfg.Adapter)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Concurrency != Default().Concurrency {
		t.Fatalf("expected defaults")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("SQSORC_QUEUE_URL", "https://sqs.eu-west-1.amazonaws.com/123/env-queue")
	t.Setenv("SQSORC_CONCURRENCY", "16")
	t.Setenv("SQSORC_RETRY_DELAY_SECONDS", "-1")
	t.Setenv("SQSORC_LOG_LEVEL", "debug")

	cfg := Default()
	if err := FromEnv(&cfg); err != nil {
		t.Fatalf("env overlay: %v", err)
	}
	if cfg.QueueURL != "https://sqs.eu-west-1.amazonaws.com/123/env-queue" {
		t.Fatalf("queue url: %q", cfg.QueueURL)
	}
	if cfg.Concurrency != 16 {
		t.Fatalf("concurrency: %d", cfg.Concurrency)
	}
	if cfg.RetryDelaySeconds != -1 {
		t.Fatalf("retry delay: %d", cfg.RetryDelaySeconds)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level: %q", cfg.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	good := Default()
	good.QueueURL = "https://sqs.us-east-1.amazonaws.com/123/work"
	if err := good.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing queue url", func(c *Config) { c.QueueURL = "" }},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }},
		{"interval at visibility", func(c *Config) { c.ExtensionIntervalSeconds = c.VisibilitySeconds }},
		{"poll wait past service cap", func(c *Config) { c.PollWaitSeconds = 21 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := good
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestOptionConversion(t *testing.T) {
	cfg := Default()
	cfg.QueueURL = "https://sqs.us-east-1.amazonaws.com/123/work"
	cfg.RetryDelaySeconds = -1

	ao := cfg.AdapterOptions()
	if ao.QueueURL != cfg.QueueURL || ao.VisibilityTimeout != 30*time.Second {
		t.Fatalf("adapter options: %+v", ao)
	}
	if ao.BackoffBase != 100*time.Millisecond || ao.BackoffCap != 5*time.Second {
		t.Fatalf("backoff options: %+v", ao)
	}

	oo := cfg.OrchestratorOptions()
	if oo.Concurrency != 4 || oo.BaseVisibility != 30*time.Second || oo.ExtensionInterval != 15*time.Second {
		t.Fatalf("orchestrator options: %+v", oo)
	}
	if oo.RetryDelay >= 0 {
		t.Fatalf("negative retry delay not preserved: %v", oo.RetryDelay)
	}
	if oo.HandlerTimeout != time.Minute || oo.DrainTimeout != 30*time.Second {
		t.Fatalf("timeout options: %+v", oo)
	}
}
