// Package sqsclient wraps the SQS operations the orchestrator consumes
// behind a narrow interface: receive, delete, change-visibility, and
// optional dead-letter send. It owns retry of transient service errors;
// lease-loss conditions surface as ErrLeaseGone for the caller to handle.
package sqsclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"

	logpkg "github.com/Kshitij-M/sqs-orchestrator/pkg/log"
)

const (
	// MaxBatchSize is the SQS ReceiveMessage ceiling per request.
	MaxBatchSize = 10
	// MaxLongPoll is the SQS long-poll ceiling.
	MaxLongPoll = 20 * time.Second
)

// ErrLeaseGone indicates the receipt handle no longer identifies an
// in-flight delivery: the visibility timeout expired and the service has
// reclaimed ownership. Callers must treat the associated lease as void.
var ErrLeaseGone = errors.New("sqsclient: lease gone")

// TransientError is returned after the adapter exhausts its internal
// retries for a throttle/server/network failure.
type TransientError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("sqsclient: %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Message is one received delivery. The orchestrator holds a borrowed
// lease on it, identified by ReceiptHandle; the record itself stays with
// the service until deleted.
type Message struct {
	ID            string
	Body          []byte
	ReceiptHandle string
	ReceiveCount  int
	SentAt        time.Time
	Attributes    map[string]string
}

// API is the subset of *sqs.Client the adapter uses.
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Options configures a Client.
type Options struct {
	QueueURL           string
	DeadLetterQueueURL string        // empty disables SendToDeadLetter
	VisibilityTimeout  time.Duration // applied on receive
	MaxAttempts        int           // transient retry ceiling (default 5)
	BackoffBase        time.Duration // default 100ms
	BackoffCap         time.Duration // default 5s
	Logger             logpkg.Logger
}

// Client adapts SQS to the orchestrator's queue contract.
type Client struct {
	api    API
	opts   Options
	bo     backoff
	logger logpkg.Logger
}

// New builds a Client. Each supervisor process should build its own
// client rather than sharing one across processes.
func New(api API, opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 100 * time.Millisecond
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NopLogger()
	}
	return &Client{
		api:    api,
		opts:   opts,
		bo:     backoff{base: opts.BackoffBase, cap: opts.BackoffCap},
		logger: logger.WithComponent("sqsclient"),
	}
}

// HasDeadLetter reports whether a dead-letter destination is configured.
func (c *Client) HasDeadLetter() bool { return c.opts.DeadLetterQueueURL != "" }

// Receive long-polls for up to max messages, bounded by wait. Returns an
// empty slice when the poll times out without messages.
func (c *Client) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if max < 1 {
		max = 1
	}
	if max > MaxBatchSize {
		max = MaxBatchSize
	}
	if wait < 0 {
		wait = 0
	}
	if wait > MaxLongPoll {
		wait = MaxLongPoll
	}

	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.opts.QueueURL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     int32(wait / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
			types.MessageSystemAttributeNameSentTimestamp,
		},
		MessageAttributeNames: []string{"All"},
	}
	if c.opts.VisibilityTimeout > 0 {
		input.VisibilityTimeout = int32(c.opts.VisibilityTimeout / time.Second)
	}

	var out *sqs.ReceiveMessageOutput
	err := c.do(ctx, "receive", func(ctx context.Context) error {
		var err error
		out, err = c.api.ReceiveMessage(ctx, input)
		return err
	})
	if err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, fromSQS(m))
	}
	return msgs, nil
}

// Delete acknowledges a delivery. ErrLeaseGone means the handle already
// expired; the message is either gone or redelivered elsewhere.
func (c *Client) Delete(ctx context.Context, receiptHandle string) error {
	err := c.do(ctx, "delete", func(ctx context.Context) error {
		_, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(c.opts.QueueURL),
			ReceiptHandle: aws.String(receiptHandle),
		})
		return err
	})
	if isLeaseGone(err) {
		return fmt.Errorf("delete: %w", ErrLeaseGone)
	}
	return err
}

// ChangeVisibility moves the delivery's visibility deadline to now+d.
// d of zero makes the message immediately visible again.
func (c *Client) ChangeVisibility(ctx context.Context, receiptHandle string, d time.Duration) error {
	err := c.do(ctx, "change_visibility", func(ctx context.Context) error {
		_, err := c.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
			QueueUrl:          aws.String(c.opts.QueueURL),
			ReceiptHandle:     aws.String(receiptHandle),
			VisibilityTimeout: int32(d / time.Second),
		})
		return err
	})
	if isLeaseGone(err) {
		return fmt.Errorf("change visibility: %w", ErrLeaseGone)
	}
	return err
}

// SendToDeadLetter forwards a permanently failed message to the
// configured dead-letter queue, tagging it with the failure reason and
// the source message id.
func (c *Client) SendToDeadLetter(ctx context.Context, msg Message, reason string) error {
	if c.opts.DeadLetterQueueURL == "" {
		return errors.New("sqsclient: no dead-letter queue configured")
	}
	attrs := map[string]types.MessageAttributeValue{
		"failure-reason": {
			DataType:    aws.String("String"),
			StringValue: aws.String(reason),
		},
		"source-message-id": {
			DataType:    aws.String("String"),
			StringValue: aws.String(msg.ID),
		},
	}
	for k, v := range msg.Attributes {
		attrs[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}
	return c.do(ctx, "send_dead_letter", func(ctx context.Context) error {
		_, err := c.api.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:          aws.String(c.opts.DeadLetterQueueURL),
			MessageBody:       aws.String(string(msg.Body)),
			MessageAttributes: attrs,
		})
		return err
	})
}

// do runs fn, retrying transient failures with jittered exponential
// backoff up to the attempt ceiling. Non-transient errors return as-is.
func (c *Client) do(ctx context.Context, op string, fn func(context.Context) error) error {
	var last error
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		last = err
		if attempt >= c.opts.MaxAttempts {
			return &TransientError{Op: op, Attempts: attempt, Err: last}
		}
		delay := c.bo.delay(attempt)
		c.logger.Debug("transient service error, backing off",
			logpkg.Str("op", op),
			logpkg.Int("attempt", attempt),
			logpkg.Dur("delay", delay),
			logpkg.Err(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func fromSQS(m types.Message) Message {
	msg := Message{
		ID:         aws.ToString(m.MessageId),
		Body:       []byte(aws.ToString(m.Body)),
		Attributes: map[string]string{},
	}
	if m.ReceiptHandle != nil {
		msg.ReceiptHandle = *m.ReceiptHandle
	}
	if v, ok := m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			msg.ReceiveCount = n
		}
	}
	if v, ok := m.Attributes[string(types.MessageSystemAttributeNameSentTimestamp)]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			msg.SentAt = time.UnixMilli(ms)
		}
	}
	for k, v := range m.MessageAttributes {
		if v.StringValue != nil {
			msg.Attributes[k] = *v.StringValue
		}
	}
	return msg
}

// isLeaseGone reports whether the service rejected the receipt handle
// because the delivery is no longer in flight.
func isLeaseGone(err error) bool {
	if err == nil {
		return false
	}
	var notInflight *types.MessageNotInflight
	if errors.As(err, &notInflight) {
		return true
	}
	var badHandle *types.ReceiptHandleIsInvalid
	if errors.As(err, &badHandle) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ReceiptHandleIsInvalid", "MessageNotInflight", "InvalidParameterValue":
			return true
		}
	}
	return false
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if isLeaseGone(err) {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "RequestThrottled", "ThrottlingException", "ServiceUnavailable",
			"InternalError", "InternalFailure", "RequestTimeout":
			return true
		}
		return apiErr.ErrorFault() == smithy.FaultServer
	}
	// Anything non-API (connection reset, DNS) is worth retrying.
	return true
}
