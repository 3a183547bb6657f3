package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	logpkg "github.com/Kshitij-M/sqs-orchestrator/pkg/log"
	"github.com/Kshitij-M/sqs-orchestrator/pkg/sqsclient"
)

// ErrPoolSaturated is returned by Submit when no idle slot exists. The
// supervisor's polling cadence is expected to prevent this; back-pressure
// lives there, not in blocking here.
var ErrPoolSaturated = errors.New("orchestrator: pool saturated")

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("orchestrator: pool closed")

type slotState int

const (
	slotIdle slotState = iota
	slotBusy
	slotDraining
)

type slotWork struct {
	lease Lease
	msg   sqsclient.Message
}

type slot struct {
	id    int
	state slotState
	ch    chan slotWork
}

// Pool maintains a fixed set of reusable worker slots. Each slot runs
// one handler at a time under the per-message timeout and reports an
// Outcome on the shared outcomes channel. A handler panic becomes a
// fatal outcome; a timeout reclaims the slot by abandoning the runaway
// invocation and starting a replacement slot goroutine.
type Pool struct {
	handler Handler
	timeout time.Duration
	logger  logpkg.Logger

	mu     sync.Mutex
	slots  []*slot
	closed bool

	outcomes chan Outcome
	restarts atomic.Int64
	wg       sync.WaitGroup
}

// NewPool creates a pool with n slots.
func NewPool(n int, handler Handler, timeout time.Duration, logger logpkg.Logger) *Pool {
	if n < 1 {
		n = 1
	}
	if logger == nil {
		logger = logpkg.NopLogger()
	}
	p := &Pool{
		handler:  handler,
		timeout:  timeout,
		logger:   logger.WithComponent("pool"),
		outcomes: make(chan Outcome, 2*n),
	}
	for i := 0; i < n; i++ {
		p.slots = append(p.slots, &slot{id: i, ch: make(chan slotWork, 1)})
	}
	return p
}

// Start launches the slot goroutines. They exit when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		p.wg.Add(1)
		go p.runSlot(ctx, s)
	}
}

// Outcomes is the channel the supervisor consumes handler results from.
// Results arrive in the order workers report them.
func (p *Pool) Outcomes() <-chan Outcome { return p.outcomes }

// Idle returns the number of slots ready for a submission.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0
	}
	n := 0
	for _, s := range p.slots {
		if s.state == slotIdle {
			n++
		}
	}
	return n
}

// Restarts returns how many slots were reclaimed after handler timeouts.
func (p *Pool) Restarts() int64 { return p.restarts.Load() }

// Submit hands a leased message to an idle slot, returning the slot id.
func (p *Pool) Submit(lease Lease, msg sqsclient.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return -1, ErrPoolClosed
	}
	for _, s := range p.slots {
		if s.state != slotIdle {
			continue
		}
		s.state = slotBusy
		s.ch <- slotWork{lease: lease, msg: msg}
		return s.id, nil
	}
	return -1, ErrPoolSaturated
}

// Close stops the pool from accepting submissions. Running handlers are
// unaffected; their outcomes still arrive on the outcomes channel.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// Wait blocks until every slot goroutine has exited. Call after the
// Start context is cancelled.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) runSlot(ctx context.Context, s *slot) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case w := <-s.ch:
			out, timedOut := p.invoke(ctx, s.id, w)
			if timedOut {
				// The runaway invocation keeps its goroutine; the slot
				// identity moves to a fresh one.
				p.reclaimSlot(ctx, s)
				p.report(ctx, out)
				return
			}
			p.setState(s, slotIdle)
			p.report(ctx, out)
		}
	}
}

// invoke runs the handler under the per-message timeout, translating
// panics to fatal outcomes.
func (p *Pool) invoke(ctx context.Context, slotID int, w slotWork) (Outcome, bool) {
	start := time.Now()
	hctx := ctx
	var cancel context.CancelFunc
	if p.timeout > 0 {
		hctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	resCh := make(chan Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- FatalFailure("handler panic", fmt.Errorf("panic: %v", r))
			}
		}()
		resCh <- p.handler(hctx, w.msg.Body, w.msg.Attributes)
	}()

	var out Outcome
	timedOut := false
	select {
	case out = <-resCh:
	case <-hctx.Done():
		if ctx.Err() != nil {
			// Shutdown, not a slow handler.
			out = RetryableFailure("shutdown", ctx.Err())
		} else {
			out = Outcome{Code: OutcomeTimeout, Reason: "handler timeout"}
			timedOut = true
		}
	}

	out.Msg = w.msg
	out.SlotID = slotID
	out.Elapsed = time.Since(start)
	return out, timedOut
}

func (p *Pool) reclaimSlot(ctx context.Context, s *slot) {
	p.mu.Lock()
	s.state = slotDraining
	replacement := &slot{id: s.id, ch: make(chan slotWork, 1)}
	for i, old := range p.slots {
		if old == s {
			p.slots[i] = replacement
		}
	}
	closed := p.closed
	p.mu.Unlock()

	p.restarts.Add(1)
	p.logger.Warn("worker restarted", logpkg.Int("slot", s.id))
	if !closed {
		p.wg.Add(1)
		go p.runSlot(ctx, replacement)
	}
}

func (p *Pool) setState(s *slot, state slotState) {
	p.mu.Lock()
	s.state = state
	p.mu.Unlock()
}

func (p *Pool) report(ctx context.Context, out Outcome) {
	select {
	case p.outcomes <- out:
	case <-ctx.Done():
	}
}
