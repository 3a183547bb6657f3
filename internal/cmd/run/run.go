// Package runcmd wires configuration, the queue adapter, the handler,
// and the supervisor into a running consumer process.
package runcmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	cfgpkg "github.com/Kshitij-M/sqs-orchestrator/internal/config"
	"github.com/Kshitij-M/sqs-orchestrator/internal/handler"
	httpserver "github.com/Kshitij-M/sqs-orchestrator/internal/server/http"
	logpkg "github.com/Kshitij-M/sqs-orchestrator/pkg/log"
	"github.com/Kshitij-M/sqs-orchestrator/pkg/orchestrator"
	"github.com/Kshitij-M/sqs-orchestrator/pkg/sqsclient"
)

type Options struct {
	Config cfgpkg.Config

	// Handler overrides the subprocess handler built from
	// Config.HandlerCommand; used by embedders and tests.
	Handler orchestrator.Handler
}

// Run starts the consumer and blocks until ctx is cancelled, then
// drains. It layers a local signal context over the provided one so
// SIGINT/SIGTERM always trigger a graceful drain.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logCfg := cfg.LogOptions()
	logger, err := logpkg.ApplyConfig(&logCfg)
	if err != nil {
		logger = logpkg.NewLogger()
	}

	h := opts.Handler
	if h == nil {
		if len(cfg.HandlerCommand) == 0 {
			return errors.New("no handler: set handlerCommand or provide one in code")
		}
		exec, err := handler.NewExec(cfg.HandlerCommand, logger)
		if err != nil {
			return err
		}
		h = exec.Handler()
	}

	var awsOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		awsOpts = append(awsOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(sctx, awsOpts...)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	adapterOpts := cfg.AdapterOptions()
	adapterOpts.Logger = logger
	client := sqsclient.New(sqs.NewFromConfig(awsCfg), adapterOpts)

	engineOpts := cfg.OrchestratorOptions()
	engineOpts.Client = client
	engineOpts.Handler = h
	engineOpts.Logger = logger
	supervisor, err := orchestrator.New(engineOpts)
	if err != nil {
		return err
	}

	logger.Info("starting consumer",
		logpkg.Str("queue_url", cfg.QueueURL),
		logpkg.Bool("dead_letter", cfg.DeadLetterQueueURL != ""),
		logpkg.Int("concurrency", cfg.Concurrency),
		logpkg.Str("http", cfg.HTTP.Addr),
	)

	var wg sync.WaitGroup
	var hsrv *httpserver.Server
	if cfg.HTTP.Addr != "" {
		hsrv = httpserver.New(supervisor, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hsrv.ListenAndServe(sctx, cfg.HTTP.Addr); err != nil && sctx.Err() == nil {
				logger.Error("http server failed", logpkg.Err(err))
			}
		}()
	}

	runErr := supervisor.Run(sctx)

	stop()
	if hsrv != nil {
		hsrv.Close()
	}
	wg.Wait()
	return runErr
}
