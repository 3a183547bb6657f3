// Package handler provides the subprocess message handler: each message
// is piped to an external command, and the command's exit code decides
// the outcome. Exit 0 acknowledges, exit 75 (EX_TEMPFAIL) requests a
// retry, anything else is a permanent failure.
package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	logpkg "github.com/Kshitij-M/sqs-orchestrator/pkg/log"
	"github.com/Kshitij-M/sqs-orchestrator/pkg/orchestrator"
)

// ExitRetryable is the exit code a command returns to request
// redelivery instead of a permanent failure.
const ExitRetryable = 75

const stderrExcerptLimit = 512

// Exec runs messages through an external command. The message body
// arrives on stdin and message attributes as SQSORC_MSG_* environment
// variables.
type Exec struct {
	command []string
	logger  logpkg.Logger
}

// NewExec builds an Exec handler for the given argv.
func NewExec(command []string, logger logpkg.Logger) (*Exec, error) {
	if len(command) == 0 {
		return nil, errors.New("handler: command is required")
	}
	if logger == nil {
		logger = logpkg.NopLogger()
	}
	return &Exec{command: command, logger: logger.WithComponent("exec-handler")}, nil
}

// Handler adapts Exec to the orchestrator's handler signature.
func (e *Exec) Handler() orchestrator.Handler {
	return e.Handle
}

// Handle runs one message through the command. Cancellation of ctx
// kills the subprocess and reports a retryable failure.
func (e *Exec) Handle(ctx context.Context, body []byte, attrs map[string]string) orchestrator.Outcome {
	cmd := exec.CommandContext(ctx, e.command[0], e.command[1:]...)
	cmd.Stdin = bytes.NewReader(body)
	cmd.Env = append(os.Environ(), attrEnv(attrs)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return orchestrator.Succeed()
	}
	if ctx.Err() != nil {
		return orchestrator.RetryableFailure("command interrupted", ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		reason := fmt.Sprintf("exit %d: %s", code, excerpt(stderr.Bytes()))
		if code == ExitRetryable {
			return orchestrator.RetryableFailure(reason, err)
		}
		return orchestrator.FatalFailure(reason, err)
	}
	// spawn failure (missing binary, permissions); the message itself
	// is not at fault
	return orchestrator.RetryableFailure("command failed to start", err)
}

// attrEnv maps message attributes to SQSORC_MSG_* variables, rewriting
// characters the environment cannot carry.
func attrEnv(attrs map[string]string) []string {
	if len(attrs) == 0 {
		return nil
	}
	env := make([]string, 0, len(attrs))
	for k, v := range attrs {
		env = append(env, "SQSORC_MSG_"+envKey(k)+"="+v)
	}
	return env
}

func envKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(k) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func excerpt(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > stderrExcerptLimit {
		s = s[:stderrExcerptLimit] + "..."
	}
	if s == "" {
		return "no stderr output"
	}
	return s
}
