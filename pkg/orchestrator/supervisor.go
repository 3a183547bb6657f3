package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	logpkg "github.com/Kshitij-M/sqs-orchestrator/pkg/log"
	"github.com/Kshitij-M/sqs-orchestrator/pkg/sqsclient"
)

// QueueClient is the queue surface the supervisor and extender consume.
// *sqsclient.Client implements it; tests substitute fakes.
type QueueClient interface {
	Receive(ctx context.Context, max int, wait time.Duration) ([]sqsclient.Message, error)
	Delete(ctx context.Context, receiptHandle string) error
	ChangeVisibility(ctx context.Context, receiptHandle string, d time.Duration) error
	SendToDeadLetter(ctx context.Context, msg sqsclient.Message, reason string) error
	HasDeadLetter() bool
}

// Options configures a Supervisor.
type Options struct {
	Client  QueueClient
	Handler Handler
	Logger  logpkg.Logger

	// ConsumerID identifies this process in logs. Random when empty.
	ConsumerID string

	Concurrency       int           // worker slots (default 1)
	BaseVisibility    time.Duration // visibility granted per receive/extension (default 30s)
	ExtensionInterval time.Duration // extender cadence (default BaseVisibility/2)
	MaxLeaseLifetime  time.Duration // total per-message lease ceiling (default 12h)
	PollWait          time.Duration // receive long-poll bound (default 20s)
	HandlerTimeout    time.Duration // per-message handler budget (default 60s)
	DrainTimeout      time.Duration // shutdown drain bound (default 30s)

	// MaxRetries bounds delivery attempts before dead-lettering,
	// measured against the service's receive count. Negative disables
	// the ceiling.
	MaxRetries int

	// RetryDelay is the visibility applied to retryable failures so
	// redelivery happens sooner than natural expiry. Negative skips the
	// visibility call entirely.
	RetryDelay time.Duration

	// FilterExpression is an optional CEL expression; messages that do
	// not match are made immediately visible again without processing.
	FilterExpression string

	// PollBackoff is the pause after a receive that failed past the
	// adapter's retry ceiling (default 1s).
	PollBackoff time.Duration
}

// Stats is a point-in-time snapshot of supervisor counters.
type Stats struct {
	ConsumerID     string `json:"consumer_id"`
	Received       int64  `json:"received"`
	Assigned       int64  `json:"assigned"`
	Filtered       int64  `json:"filtered"`
	Completed      int64  `json:"completed"`
	Retried        int64  `json:"retried"`
	Timeouts       int64  `json:"timeouts"`
	Fatal          int64  `json:"fatal"`
	DeadLettered   int64  `json:"dead_lettered"`
	LeaseLost      int64  `json:"lease_lost"`
	WorkerRestarts int64  `json:"worker_restarts"`
	InFlight       int    `json:"in_flight"`
	IdleSlots      int    `json:"idle_slots"`
}

type counters struct {
	received     atomic.Int64
	assigned     atomic.Int64
	filtered     atomic.Int64
	completed    atomic.Int64
	retried      atomic.Int64
	timeouts     atomic.Int64
	fatal        atomic.Int64
	deadLettered atomic.Int64
	leaseLost    atomic.Int64
}

// Supervisor is the control loop tying adapter, tracker, pool, and
// extender together. Build with New, drive with Run.
type Supervisor struct {
	opts     Options
	client   QueueClient
	handler  Handler
	logger   logpkg.Logger
	tracker  *Tracker
	pool     *Pool
	extender *Extender
	filter   Filter
	lost     chan Lease
	stats    counters
	running  atomic.Bool
}

// New validates opts, fills defaults, and wires a Supervisor.
func New(opts Options) (*Supervisor, error) {
	if opts.Client == nil {
		return nil, errors.New("orchestrator: Client is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("orchestrator: Handler is required")
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NopLogger()
	}
	if opts.ConsumerID == "" {
		opts.ConsumerID = uuid.NewString()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.BaseVisibility <= 0 {
		opts.BaseVisibility = 30 * time.Second
	}
	if opts.ExtensionInterval <= 0 {
		opts.ExtensionInterval = opts.BaseVisibility / 2
	}
	if opts.ExtensionInterval >= opts.BaseVisibility {
		return nil, fmt.Errorf("orchestrator: extension interval %s must be below base visibility %s",
			opts.ExtensionInterval, opts.BaseVisibility)
	}
	if opts.MaxLeaseLifetime <= 0 {
		opts.MaxLeaseLifetime = 12 * time.Hour
	}
	if opts.PollWait <= 0 {
		opts.PollWait = 20 * time.Second
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 60 * time.Second
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 30 * time.Second
	}
	if opts.PollBackoff <= 0 {
		opts.PollBackoff = time.Second
	}

	filter, err := NewFilter(opts.FilterExpression)
	if err != nil {
		return nil, fmt.Errorf("compile filter: %w", err)
	}

	logger := opts.Logger.With(logpkg.Str("consumer_id", opts.ConsumerID))
	tracker := NewTracker()
	lost := make(chan Lease, 64)

	s := &Supervisor{
		opts:    opts,
		client:  opts.Client,
		handler: opts.Handler,
		logger:  logger.WithComponent("supervisor"),
		tracker: tracker,
		filter:  filter,
		lost:    lost,
	}
	s.pool = NewPool(opts.Concurrency, opts.Handler, opts.HandlerTimeout, logger)
	s.extender = NewExtender(opts.Client, tracker, ExtenderConfig{
		Interval:       opts.ExtensionInterval,
		BaseVisibility: opts.BaseVisibility,
		MaxLifetime:    opts.MaxLeaseLifetime,
	}, lost, logger)
	return s, nil
}

// Healthy reports whether the control loop is running.
func (s *Supervisor) Healthy() bool { return s.running.Load() }

// Stats returns a snapshot of the supervisor's counters.
func (s *Supervisor) Stats() Stats {
	return Stats{
		ConsumerID:     s.opts.ConsumerID,
		Received:       s.stats.received.Load(),
		Assigned:       s.stats.assigned.Load(),
		Filtered:       s.stats.filtered.Load(),
		Completed:      s.stats.completed.Load(),
		Retried:        s.stats.retried.Load(),
		Timeouts:       s.stats.timeouts.Load(),
		Fatal:          s.stats.fatal.Load(),
		DeadLettered:   s.stats.deadLettered.Load(),
		LeaseLost:      s.stats.leaseLost.Load(),
		WorkerRestarts: s.pool.Restarts(),
		InFlight:       s.tracker.Len(),
		IdleSlots:      s.pool.Idle(),
	}
}

// Run drives the control loop until ctx is cancelled, then drains
// in-flight work bounded by DrainTimeout. In-flight leases still active
// at the drain deadline are released undeleted, so their messages become
// redeliverable rather than lost.
func (s *Supervisor) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	// Slots outlive ctx so handlers can finish during the drain window.
	slotCtx, stopSlots := context.WithCancel(context.Background())
	defer stopSlots()
	s.pool.Start(slotCtx)
	s.extender.Start()

	s.logger.Info("supervisor started",
		logpkg.Int("concurrency", s.opts.Concurrency),
		logpkg.Dur("base_visibility", s.opts.BaseVisibility),
		logpkg.Dur("poll_wait", s.opts.PollWait),
		logpkg.Bool("dead_letter", s.client.HasDeadLetter()),
		logpkg.Bool("filter", s.filter.Enabled()),
	)

loop:
	for {
		// Settle finished work and lease-loss reports before polling so
		// bookkeeping never queues behind a long poll.
	settle:
		for {
			select {
			case out := <-s.pool.Outcomes():
				s.settle(ctx, out)
			case l := <-s.lost:
				s.leaseLost(l)
			case <-ctx.Done():
				break loop
			default:
				break settle
			}
		}

		idle := s.pool.Idle()
		if idle == 0 {
			select {
			case out := <-s.pool.Outcomes():
				s.settle(ctx, out)
			case l := <-s.lost:
				s.leaseLost(l)
			case <-ctx.Done():
				break loop
			}
			continue
		}

		wait := s.opts.PollWait
		if s.tracker.Len() > 0 && wait > time.Second {
			// Keep outcome handling responsive while work is in flight;
			// full-length long polls are for the idle queue.
			wait = time.Second
		}
		msgs, err := s.client.Receive(ctx, idle, wait)
		if err != nil {
			if ctx.Err() != nil {
				break loop
			}
			s.logger.Error("receive failed, backing off", logpkg.Err(err))
			select {
			case <-time.After(s.opts.PollBackoff):
			case <-ctx.Done():
				break loop
			}
			continue
		}
		for _, msg := range msgs {
			s.admit(ctx, msg)
		}
	}

	return s.drain(stopSlots)
}

// admit registers a received message and dispatches it to a slot.
func (s *Supervisor) admit(ctx context.Context, msg sqsclient.Message) {
	s.stats.received.Add(1)
	s.logger.Info("message received",
		logpkg.Str("message_id", msg.ID),
		logpkg.Int("receive_count", msg.ReceiveCount),
	)

	if s.filter.Enabled() && !s.filter.Match(msg) {
		s.stats.filtered.Add(1)
		s.logger.Debug("message filtered", logpkg.Str("message_id", msg.ID))
		if err := s.client.ChangeVisibility(ctx, msg.ReceiptHandle, 0); err != nil && !errors.Is(err, sqsclient.ErrLeaseGone) {
			s.logger.Warn("filter release failed", logpkg.Str("message_id", msg.ID), logpkg.Err(err))
		}
		return
	}

	lease, err := s.tracker.Register(msg, time.Now().Add(s.opts.BaseVisibility))
	if err != nil {
		// Redelivery racing an in-flight lease. The original lease
		// wins; this delivery expires on its own.
		s.logger.Warn("duplicate delivery rejected",
			logpkg.Str("message_id", msg.ID),
			logpkg.Err(err),
		)
		return
	}

	slot, err := s.pool.Submit(lease, msg)
	if err != nil {
		// Receive is capped at idle slots, so this indicates a logic
		// fault; release and make the message visible again.
		s.logger.Error("submit failed", logpkg.Str("message_id", msg.ID), logpkg.Err(err))
		s.tracker.Release(msg.ID)
		_ = s.client.ChangeVisibility(ctx, msg.ReceiptHandle, 0)
		return
	}
	s.tracker.Assign(msg.ID, slot)
	s.stats.assigned.Add(1)
	s.logger.Info("message assigned",
		logpkg.Str("message_id", msg.ID),
		logpkg.Int("slot", slot),
	)
}

// settle consumes one handler outcome and transitions the message to a
// terminal state.
func (s *Supervisor) settle(ctx context.Context, out Outcome) {
	lease, ok := s.tracker.Get(out.Msg.ID)
	if !ok {
		// Lease was lost while the handler ran; the service owns the
		// message now. Terminal, nothing to do.
		s.logger.Debug("outcome for lost lease discarded",
			logpkg.Str("message_id", out.Msg.ID),
			logpkg.Str("outcome", out.Code.String()),
		)
		return
	}

	s.logger.Info("message completed",
		logpkg.Str("message_id", out.Msg.ID),
		logpkg.Str("outcome", out.Code.String()),
		logpkg.Int("slot", out.SlotID),
		logpkg.Dur("elapsed", out.Elapsed),
	)

	switch out.Code {
	case OutcomeSuccess:
		s.deleteAndRelease(ctx, lease)
		s.stats.completed.Add(1)
	case OutcomeRetryable:
		s.stats.retried.Add(1)
		s.settleRetry(ctx, lease, out)
	case OutcomeTimeout:
		s.stats.timeouts.Add(1)
		s.settleRetry(ctx, lease, out)
	case OutcomeFatal:
		s.stats.fatal.Add(1)
		reason := out.Reason
		if reason == "" {
			reason = "fatal failure"
		}
		s.deadLetterOrRelease(ctx, lease, out, reason)
	}
}

// deleteAndRelease acknowledges the message. A lease-gone delete still
// releases: the service owns the final state and may redeliver.
func (s *Supervisor) deleteAndRelease(ctx context.Context, lease Lease) {
	err := s.client.Delete(ctx, lease.ReceiptHandle)
	switch {
	case err == nil:
	case errors.Is(err, sqsclient.ErrLeaseGone):
		s.logger.Warn("delete found lease expired; message may be redelivered",
			logpkg.Str("message_id", lease.MessageID))
	default:
		s.logger.Error("delete failed; message will be redelivered",
			logpkg.Str("message_id", lease.MessageID),
			logpkg.Err(err),
		)
	}
	s.tracker.Release(lease.MessageID)
}

// settleRetry releases a retryable failure for redelivery, or routes it
// to the dead-letter queue once past the retry ceiling.
func (s *Supervisor) settleRetry(ctx context.Context, lease Lease, out Outcome) {
	if s.opts.MaxRetries >= 0 && lease.ReceiveCount > s.opts.MaxRetries {
		reason := out.Reason
		if reason == "" {
			reason = "retryable failure"
		}
		s.deadLetterOrRelease(ctx, lease, out, fmt.Sprintf("retry ceiling exceeded (%d): %s", s.opts.MaxRetries, reason))
		return
	}
	if s.opts.RetryDelay >= 0 {
		if err := s.client.ChangeVisibility(ctx, lease.ReceiptHandle, s.opts.RetryDelay); err != nil && !errors.Is(err, sqsclient.ErrLeaseGone) {
			s.logger.Warn("retry visibility change failed",
				logpkg.Str("message_id", lease.MessageID),
				logpkg.Err(err),
			)
		}
	}
	s.tracker.Release(lease.MessageID)
}

// deadLetterOrRelease forwards the message to the dead-letter queue and
// deletes it, or releases it undeleted when no dead-letter queue is
// configured.
func (s *Supervisor) deadLetterOrRelease(ctx context.Context, lease Lease, out Outcome, reason string) {
	if s.client.HasDeadLetter() {
		if err := s.client.SendToDeadLetter(ctx, out.Msg, reason); err != nil {
			s.logger.Error("dead-letter send failed; releasing for redelivery",
				logpkg.Str("message_id", lease.MessageID),
				logpkg.Err(err),
			)
			s.tracker.Release(lease.MessageID)
			return
		}
		s.deleteAndRelease(ctx, lease)
		s.stats.deadLettered.Add(1)
		s.logger.Warn("dead-lettered",
			logpkg.Str("message_id", lease.MessageID),
			logpkg.Str("reason", reason),
		)
		return
	}
	s.logger.Error("permanent failure released for redelivery; operator attention required",
		logpkg.Str("message_id", lease.MessageID),
		logpkg.Str("reason", reason),
	)
	s.tracker.Release(lease.MessageID)
}

func (s *Supervisor) leaseLost(l Lease) {
	s.stats.leaseLost.Add(1)
	s.logger.Debug("lease loss recorded", logpkg.Str("message_id", l.MessageID))
}

// drain waits for in-flight assignments to settle, bounded by
// DrainTimeout, then releases whatever is left undeleted.
func (s *Supervisor) drain(stopSlots context.CancelFunc) error {
	s.logger.Info("shutdown started", logpkg.Int("in_flight", s.tracker.Len()))
	s.pool.Close()

	dctx, cancel := context.WithTimeout(context.Background(), s.opts.DrainTimeout)
	defer cancel()

	drained := 0
drainLoop:
	for s.tracker.Len() > 0 {
		select {
		case out := <-s.pool.Outcomes():
			s.settle(dctx, out)
			drained++
		case l := <-s.lost:
			s.leaseLost(l)
		case <-dctx.Done():
			break drainLoop
		}
	}

	abandoned := 0
	for _, l := range s.tracker.Snapshot() {
		// Redeliverable once their visibility lapses; never dropped.
		s.tracker.Release(l.MessageID)
		abandoned++
	}

	s.extender.Stop()
	stopSlots()
	s.pool.Wait()

	s.logger.Info("shutdown completed",
		logpkg.Int("drained", drained),
		logpkg.Int("abandoned", abandoned),
		logpkg.Int64("completed", s.stats.completed.Load()),
		logpkg.Int64("dead_lettered", s.stats.deadLettered.Load()),
	)
	return nil
}
