package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Kshitij-M/sqs-orchestrator/pkg/log"
	"github.com/Kshitij-M/sqs-orchestrator/pkg/orchestrator"
	"github.com/Kshitij-M/sqs-orchestrator/pkg/sqsclient"
)

// Config is the top-level configuration loaded from file and
// environment. Durations are expressed in seconds so the JSON surface
// stays plain numbers.
type Config struct {
	QueueURL           string `json:"queueUrl" env:"QUEUE_URL"`
	DeadLetterQueueURL string `json:"deadLetterQueueUrl" env:"DEAD_LETTER_QUEUE_URL"`
	Region             string `json:"region" env:"REGION"`

	// ConsumerID labels this process in logs. Random when empty.
	ConsumerID string `json:"consumerId" env:"CONSUMER_ID"`

	Concurrency              int `json:"concurrency" env:"CONCURRENCY"`
	VisibilitySeconds        int `json:"visibilitySeconds" env:"VISIBILITY_SECONDS"`
	ExtensionIntervalSeconds int `json:"extensionIntervalSeconds" env:"EXTENSION_INTERVAL_SECONDS"`
	MaxLeaseLifetimeSeconds  int `json:"maxLeaseLifetimeSeconds" env:"MAX_LEASE_LIFETIME_SECONDS"`
	PollWaitSeconds          int `json:"pollWaitSeconds" env:"POLL_WAIT_SECONDS"`
	HandlerTimeoutSeconds    int `json:"handlerTimeoutSeconds" env:"HANDLER_TIMEOUT_SECONDS"`
	DrainTimeoutSeconds      int `json:"drainTimeoutSeconds" env:"DRAIN_TIMEOUT_SECONDS"`

	// MaxRetries bounds delivery attempts before dead-lettering.
	// Negative disables the ceiling.
	MaxRetries int `json:"maxRetries" env:"MAX_RETRIES"`

	// RetryDelaySeconds is the visibility applied after a retryable
	// failure; 0 releases immediately, negative leaves the original
	// visibility to lapse on its own.
	RetryDelaySeconds int `json:"retryDelaySeconds" env:"RETRY_DELAY_SECONDS"`

	// Filter is an optional CEL expression over message id, body, and
	// attributes; non-matching messages are skipped without processing.
	Filter string `json:"filter" env:"FILTER"`

	// HandlerCommand, when set, runs each message through a subprocess
	// instead of an in-process handler.
	HandlerCommand []string `json:"handlerCommand" env:"HANDLER_COMMAND" envSeparator:" "`

	Adapter AdapterConfig `json:"adapter"`
	HTTP    HTTPConfig    `json:"http"`
	Log     LogConfig     `json:"log"`
}

// AdapterConfig tunes the queue adapter's retry behavior.
type AdapterConfig struct {
	MaxAttempts   int `json:"maxAttempts" env:"ADAPTER_MAX_ATTEMPTS"`
	BackoffBaseMS int `json:"backoffBaseMs" env:"ADAPTER_BACKOFF_BASE_MS"`
	BackoffCapMS  int `json:"backoffCapMs" env:"ADAPTER_BACKOFF_CAP_MS"`
}

// HTTPConfig configures the health/stats listener. Empty Addr disables it.
type HTTPConfig struct {
	Addr string `json:"addr" env:"HTTP_ADDR"`
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level  string `json:"level" env:"LOG_LEVEL"`
	Format string `json:"format" env:"LOG_FORMAT"`
}

// Default returns built-in defaults. QueueURL has no default and must
// come from the file, environment, or flags.
func Default() Config {
	return Config{
		Concurrency:              4,
		VisibilitySeconds:        30,
		ExtensionIntervalSeconds: 15,
		MaxLeaseLifetimeSeconds:  int((12 * time.Hour).Seconds()),
		PollWaitSeconds:          20,
		HandlerTimeoutSeconds:    60,
		DrainTimeoutSeconds:      30,
		MaxRetries:               3,
		RetryDelaySeconds:        0,
		Adapter: AdapterConfig{
			MaxAttempts:   5,
			BackoffBaseMS: 100,
			BackoffCapMS:  5000,
		},
		HTTP: HTTPConfig{Addr: ":8089"},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON file layered over defaults. An
// empty path returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv overlays SQSORC_* environment variables onto cfg.
func FromEnv(cfg *Config) error {
	return env.ParseWithOptions(cfg, env.Options{Prefix: "SQSORC_"})
}

// Validate rejects configurations the supervisor cannot run with.
func (c Config) Validate() error {
	if c.QueueURL == "" {
		return errors.New("queueUrl is required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.VisibilitySeconds < 1 {
		return fmt.Errorf("visibilitySeconds must be positive, got %d", c.VisibilitySeconds)
	}
	if c.ExtensionIntervalSeconds < 1 || c.ExtensionIntervalSeconds >= c.VisibilitySeconds {
		return fmt.Errorf("extensionIntervalSeconds must be in [1, visibilitySeconds), got %d", c.ExtensionIntervalSeconds)
	}
	if c.PollWaitSeconds < 0 || c.PollWaitSeconds > 20 {
		return fmt.Errorf("pollWaitSeconds must be in [0, 20], got %d", c.PollWaitSeconds)
	}
	if c.HandlerTimeoutSeconds < 1 {
		return fmt.Errorf("handlerTimeoutSeconds must be positive, got %d", c.HandlerTimeoutSeconds)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// AdapterOptions converts the adapter section for sqsclient.New. The
// Logger field is left for the caller.
func (c Config) AdapterOptions() sqsclient.Options {
	return sqsclient.Options{
		QueueURL:           c.QueueURL,
		DeadLetterQueueURL: c.DeadLetterQueueURL,
		VisibilityTimeout:  seconds(c.VisibilitySeconds),
		MaxAttempts:        c.Adapter.MaxAttempts,
		BackoffBase:        time.Duration(c.Adapter.BackoffBaseMS) * time.Millisecond,
		BackoffCap:         time.Duration(c.Adapter.BackoffCapMS) * time.Millisecond,
	}
}

// OrchestratorOptions converts the engine section for orchestrator.New.
// Client, Handler, and Logger fields are left for the caller.
func (c Config) OrchestratorOptions() orchestrator.Options {
	return orchestrator.Options{
		ConsumerID:        c.ConsumerID,
		Concurrency:       c.Concurrency,
		BaseVisibility:    seconds(c.VisibilitySeconds),
		ExtensionInterval: seconds(c.ExtensionIntervalSeconds),
		MaxLeaseLifetime:  seconds(c.MaxLeaseLifetimeSeconds),
		PollWait:          seconds(c.PollWaitSeconds),
		HandlerTimeout:    seconds(c.HandlerTimeoutSeconds),
		DrainTimeout:      seconds(c.DrainTimeoutSeconds),
		MaxRetries:        c.MaxRetries,
		RetryDelay:        seconds(c.RetryDelaySeconds),
		FilterExpression:  c.Filter,
	}
}

// LogOptions converts the log section for log.ApplyConfig.
func (c Config) LogOptions() log.Config {
	return log.Config{Level: c.Log.Level, Format: c.Log.Format}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
