package handler

import (
	"context"
	"runtime"
	"testing"
	"time"

	logpkg "github.com/Kshitij-M/sqs-orchestrator/pkg/log"
	"github.com/Kshitij-M/sqs-orchestrator/pkg/orchestrator"
)

func requireSh(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
}

func TestExecRequiresCommand(t *testing.T) {
	if _, err := NewExec(nil, logpkg.NopLogger()); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestExecSuccess(t *testing.T) {
	requireSh(t)
	e, err := NewExec([]string{"sh", "-c", `read body; [ "$body" = "hello" ]`}, logpkg.NopLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out := e.Handle(context.Background(), []byte("hello\n"), nil)
	if out.Code != orchestrator.OutcomeSuccess {
		t.Fatalf("outcome: %+v", out)
	}
}

func TestExecRetryableExitCode(t *testing.T) {
	requireSh(t)
	e, _ := NewExec([]string{"sh", "-c", "exit 75"}, logpkg.NopLogger())
	out := e.Handle(context.Background(), nil, nil)
	if out.Code != orchestrator.OutcomeRetryable {
		t.Fatalf("outcome: %+v", out)
	}
}

func TestExecFatalExitCode(t *testing.T) {
	requireSh(t)
	e, _ := NewExec([]string{"sh", "-c", "echo bad payload >&2; exit 1"}, logpkg.NopLogger())
	out := e.Handle(context.Background(), nil, nil)
	if out.Code != orchestrator.OutcomeFatal {
		t.Fatalf("outcome: %+v", out)
	}
	if out.Reason == "" || out.Err == nil {
		t.Fatalf("reason/err not captured: %+v", out)
	}
}

func TestExecAttributesInEnvironment(t *testing.T) {
	requireSh(t)
	e, _ := NewExec([]string{"sh", "-c", `[ "$SQSORC_MSG_TENANT_ID" = "acme" ]`}, logpkg.NopLogger())
	out := e.Handle(context.Background(), nil, map[string]string{"tenant-id": "acme"})
	if out.Code != orchestrator.OutcomeSuccess {
		t.Fatalf("attribute not exported: %+v", out)
	}
}

func TestExecCancellationIsRetryable(t *testing.T) {
	requireSh(t)
	e, _ := NewExec([]string{"sh", "-c", "sleep 10"}, logpkg.NopLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out := e.Handle(ctx, nil, nil)
	if out.Code != orchestrator.OutcomeRetryable {
		t.Fatalf("outcome: %+v", out)
	}
}

func TestExecMissingBinaryIsRetryable(t *testing.T) {
	e, _ := NewExec([]string{"/nonexistent/binary"}, logpkg.NopLogger())
	out := e.Handle(context.Background(), nil, nil)
	if out.Code != orchestrator.OutcomeRetryable {
		t.Fatalf("outcome: %+v", out)
	}
}

func TestEnvKeySanitization(t *testing.T) {
	if got := envKey("content-type.v2"); got != "CONTENT_TYPE_V2" {
		t.Fatalf("envKey: %q", got)
	}
}
