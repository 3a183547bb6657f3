package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	runcmd "github.com/Kshitij-M/sqs-orchestrator/internal/cmd/run"
	cfgpkg "github.com/Kshitij-M/sqs-orchestrator/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sqs-orchestrator",
		Short: "SQS consumer orchestrator",
		Long:  "sqs-orchestrator polls an SQS queue and fans messages out to a bounded worker pool with lease tracking, visibility extension, and dead-letter routing.",
	}

	runCommand := &cobra.Command{
		Use:   "run",
		Short: "Run the consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := runcmd.Run(context.Background(), runcmd.Options{Config: cfg}); err != nil {
				return fmt.Errorf("consumer error: %w", err)
			}
			return nil
		},
	}
	addConfigFlags(runCommand)
	rootCmd.AddCommand(runCommand)

	validateCommand := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate configuration, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("configuration ok")
			return nil
		},
	}
	addConfigFlags(validateCommand)
	rootCmd.AddCommand(validateCommand)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Config file path (JSON; default searches XDG/etc locations)")
	cmd.Flags().String("queue-url", "", "Source queue URL")
	cmd.Flags().String("dlq-url", "", "Dead-letter queue URL")
	cmd.Flags().String("region", "", "AWS region (falls back to the SDK's resolution)")
	cmd.Flags().Int("concurrency", 0, "Worker slots")
	cmd.Flags().Int("max-retries", 0, "Delivery attempts before dead-lettering (negative disables)")
	cmd.Flags().String("filter", "", "CEL expression; non-matching messages are skipped")
	cmd.Flags().String("handler", "", "Handler command, split on spaces; body on stdin, attributes as SQSORC_MSG_* env")
	cmd.Flags().String("http", "", "Health/stats listen address (empty disables)")
	cmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	cmd.Flags().String("log-format", "", "Log format: text|json")
}

// loadConfig layers defaults, file, environment, and flags in that order.
func loadConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = cfgpkg.DefaultPath()
	}
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfgpkg.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfgpkg.FromEnv(&cfg); err != nil {
		return cfgpkg.Config{}, fmt.Errorf("env overlay: %w", err)
	}

	if v, _ := cmd.Flags().GetString("queue-url"); v != "" {
		cfg.QueueURL = v
	}
	if v, _ := cmd.Flags().GetString("dlq-url"); v != "" {
		cfg.DeadLetterQueueURL = v
	}
	if v, _ := cmd.Flags().GetString("region"); v != "" {
		cfg.Region = v
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Concurrency, _ = cmd.Flags().GetInt("concurrency")
	}
	if cmd.Flags().Changed("max-retries") {
		cfg.MaxRetries, _ = cmd.Flags().GetInt("max-retries")
	}
	if v, _ := cmd.Flags().GetString("filter"); v != "" {
		cfg.Filter = v
	}
	if v, _ := cmd.Flags().GetString("handler"); v != "" {
		cfg.HandlerCommand = strings.Fields(v)
	}
	if cmd.Flags().Changed("http") {
		cfg.HTTP.Addr, _ = cmd.Flags().GetString("http")
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.Log.Format = v
	}
	return cfg, nil
}
