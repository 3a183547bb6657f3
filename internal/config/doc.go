// Package config provides loading and environment overlay for the
// consumer's runtime configuration. It exposes a Default() baseline,
// JSON file loading, and an SQSORC_* environment overlay, and converts
// the result into orchestrator and queue adapter options.
//
// Precedence is defaults < file < environment:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/sqs-orchestrator.json"); err == nil {
//	    cfg = fileCfg
//	}
//	if err := config.FromEnv(&cfg); err != nil { ... }
//	if err := cfg.Validate(); err != nil { ... }
package config
