package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	logpkg "github.com/Kshitij-M/sqs-orchestrator/pkg/log"
	"github.com/Kshitij-M/sqs-orchestrator/pkg/sqsclient"
)

// ExtenderConfig tunes the visibility extension loop.
type ExtenderConfig struct {
	Interval       time.Duration // scan cadence (default: half the base visibility)
	BaseVisibility time.Duration // extension granted per renewal
	MaxLifetime    time.Duration // total lease lifetime ceiling (default 12h)
}

// Extender periodically scans the Tracker and renews the visibility
// deadline of leases whose handlers are still running, so the queue does
// not redeliver mid-flight messages. Leases it cannot renew (expired on
// the service side, or past the lifetime ceiling) are surfaced to the
// supervisor as lease-loss events.
type Extender struct {
	client   QueueClient
	tracker  *Tracker
	interval time.Duration
	base     time.Duration
	maxLife  time.Duration
	logger   logpkg.Logger
	lost     chan<- Lease

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewExtender creates an Extender reporting lost leases on lost.
func NewExtender(client QueueClient, tracker *Tracker, cfg ExtenderConfig, lost chan<- Lease, logger logpkg.Logger) *Extender {
	if cfg.BaseVisibility <= 0 {
		cfg.BaseVisibility = 30 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = cfg.BaseVisibility / 2
	}
	if cfg.MaxLifetime <= 0 {
		cfg.MaxLifetime = 12 * time.Hour
	}
	if logger == nil {
		logger = logpkg.NopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Extender{
		client:   client,
		tracker:  tracker,
		interval: cfg.Interval,
		base:     cfg.BaseVisibility,
		maxLife:  cfg.MaxLifetime,
		logger:   logger.WithComponent("extender"),
		lost:     lost,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the extension loop.
func (e *Extender) Start() {
	e.wg.Add(1)
	go e.run()
}

// Stop halts the loop and waits for the current tick to finish.
func (e *Extender) Stop() {
	e.cancel()
	e.wg.Wait()
}

func (e *Extender) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Debug("extender started",
		logpkg.Dur("interval", e.interval),
		logpkg.Dur("base_visibility", e.base),
		logpkg.Dur("max_lifetime", e.maxLife),
	)

	for {
		select {
		case <-e.ctx.Done():
			e.logger.Debug("extender stopped")
			return
		case <-ticker.C:
			e.tick(time.Now())
		}
	}
}

// tick sweeps expired leases, then proactively renews leases whose
// deadline falls within roughly one and a half intervals.
func (e *Extender) tick(now time.Time) {
	for _, l := range e.tracker.ExpireSweep(now) {
		e.logger.Warn("lease lost",
			logpkg.Str("message_id", l.MessageID),
			logpkg.Time("deadline", l.Deadline),
			logpkg.Bool("extension_stopped", l.ExtensionStopped),
		)
		e.notifyLost(l)
	}

	window := e.interval + e.interval/2
	for _, l := range e.tracker.DueForExtension(now, window) {
		if now.Sub(l.AcquiredAt) >= e.maxLife {
			if e.tracker.MarkExtensionStopped(l.MessageID) {
				e.logger.Warn("lease lifetime exhausted, letting it expire",
					logpkg.Str("message_id", l.MessageID),
					logpkg.Dur("lifetime", now.Sub(l.AcquiredAt)),
				)
			}
			continue
		}

		newDeadline := now.Add(e.base)
		err := e.client.ChangeVisibility(e.ctx, l.ReceiptHandle, e.base)
		switch {
		case err == nil:
			e.tracker.Extend(l.MessageID, newDeadline)
			e.logger.Debug("lease extended",
				logpkg.Str("message_id", l.MessageID),
				logpkg.Time("deadline", newDeadline),
			)
		case errors.Is(err, sqsclient.ErrLeaseGone):
			// Ownership already reverted to the service; nothing to do
			// but stop tracking and tell the supervisor.
			e.tracker.Release(l.MessageID)
			l.Status = LeaseExpired
			e.logger.Warn("lease lost",
				logpkg.Str("message_id", l.MessageID),
				logpkg.Err(err),
			)
			e.notifyLost(l)
		default:
			e.logger.Error("extend failed",
				logpkg.Str("message_id", l.MessageID),
				logpkg.Err(err),
			)
		}
	}
}

func (e *Extender) notifyLost(l Lease) {
	select {
	case e.lost <- l:
	case <-e.ctx.Done():
	}
}
