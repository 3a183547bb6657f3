package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	logpkg "github.com/Kshitij-M/sqs-orchestrator/pkg/log"
	"github.com/Kshitij-M/sqs-orchestrator/pkg/sqsclient"
)

func leaseFor(id string, slot int) Lease {
	return Lease{MessageID: id, ReceiptHandle: "rh-" + id, Slot: slot}
}

func TestPoolSubmitAndOutcome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPool(2, func(ctx context.Context, body []byte, attrs map[string]string) Outcome {
		return Succeed()
	}, time.Second, logpkg.NopLogger())
	p.Start(ctx)

	slot, err := p.Submit(leaseFor("m1", -1), sqsclient.Message{ID: "m1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if slot < 0 || slot > 1 {
		t.Fatalf("slot id: %d", slot)
	}

	select {
	case out := <-p.Outcomes():
		if out.Code != OutcomeSuccess || out.Msg.ID != "m1" || out.SlotID != slot {
			t.Fatalf("outcome: %+v", out)
		}
		if out.Elapsed <= 0 {
			t.Fatalf("elapsed not recorded")
		}
	case <-time.After(time.Second):
		t.Fatalf("no outcome")
	}
}

func TestPoolSaturation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gate := make(chan struct{})
	p := NewPool(1, func(ctx context.Context, body []byte, attrs map[string]string) Outcome {
		<-gate
		return Succeed()
	}, time.Minute, logpkg.NopLogger())
	p.Start(ctx)

	if _, err := p.Submit(leaseFor("m1", -1), sqsclient.Message{ID: "m1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := p.Submit(leaseFor("m2", -1), sqsclient.Message{ID: "m2"}); !errors.Is(err, ErrPoolSaturated) {
		t.Fatalf("want ErrPoolSaturated, got %v", err)
	}
	close(gate)
	<-p.Outcomes()
}

func TestPoolPanicBecomesFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPool(1, func(ctx context.Context, body []byte, attrs map[string]string) Outcome {
		panic("boom")
	}, time.Second, logpkg.NopLogger())
	p.Start(ctx)

	p.Submit(leaseFor("m1", -1), sqsclient.Message{ID: "m1"})
	out := <-p.Outcomes()
	if out.Code != OutcomeFatal {
		t.Fatalf("outcome: %+v", out)
	}
	// slot must survive the panic
	if p.Idle() != 1 {
		t.Fatalf("idle after panic: %d", p.Idle())
	}
}

func TestPoolTimeoutReclaimsSlot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPool(1, func(ctx context.Context, body []byte, attrs map[string]string) Outcome {
		<-ctx.Done() // overruns the budget; cooperates only with cancellation
		time.Sleep(50 * time.Millisecond)
		return Succeed()
	}, 30*time.Millisecond, logpkg.NopLogger())
	p.Start(ctx)

	p.Submit(leaseFor("m1", -1), sqsclient.Message{ID: "m1"})
	out := <-p.Outcomes()
	if out.Code != OutcomeTimeout {
		t.Fatalf("outcome: %+v", out)
	}
	if p.Restarts() != 1 {
		t.Fatalf("restarts: %d", p.Restarts())
	}

	// replacement slot becomes available and processes new work
	deadline := time.Now().Add(time.Second)
	for p.Idle() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("slot never returned to idle")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPoolClosedRejectsSubmit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPool(1, func(ctx context.Context, body []byte, attrs map[string]string) Outcome {
		return Succeed()
	}, time.Second, logpkg.NopLogger())
	p.Start(ctx)
	p.Close()

	if _, err := p.Submit(leaseFor("m1", -1), sqsclient.Message{ID: "m1"}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("want ErrPoolClosed, got %v", err)
	}
	if p.Idle() != 0 {
		t.Fatalf("closed pool reports idle slots")
	}
}
