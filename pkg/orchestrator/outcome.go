package orchestrator

import (
	"context"
	"time"

	"github.com/Kshitij-M/sqs-orchestrator/pkg/sqsclient"
)

// OutcomeCode classifies the result of one handler invocation.
type OutcomeCode int

const (
	// OutcomeSuccess: the message was processed and can be deleted.
	OutcomeSuccess OutcomeCode = iota
	// OutcomeRetryable: processing failed but another attempt may work.
	OutcomeRetryable
	// OutcomeFatal: processing can never succeed for this message.
	OutcomeFatal
	// OutcomeTimeout: the handler exceeded its time budget and the slot
	// was reclaimed.
	OutcomeTimeout
)

// String returns the code's event name.
func (c OutcomeCode) String() string {
	switch c {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Outcome is produced once per dispatched message by a worker slot and
// consumed exactly once by the supervisor.
type Outcome struct {
	Code   OutcomeCode
	Reason string
	Err    error

	// Filled in by the pool.
	Msg     sqsclient.Message
	SlotID  int
	Elapsed time.Duration
}

// Handler processes one delivery attempt. It must not assume exclusive
// access to shared mutable state beyond what it is given, and should be
// idempotent under redelivery.
type Handler func(ctx context.Context, body []byte, attrs map[string]string) Outcome

// Succeed returns a success outcome.
func Succeed() Outcome { return Outcome{Code: OutcomeSuccess} }

// RetryableFailure returns a retryable failure outcome.
func RetryableFailure(reason string, err error) Outcome {
	return Outcome{Code: OutcomeRetryable, Reason: reason, Err: err}
}

// FatalFailure returns a fatal failure outcome.
func FatalFailure(reason string, err error) Outcome {
	return Outcome{Code: OutcomeFatal, Reason: reason, Err: err}
}
