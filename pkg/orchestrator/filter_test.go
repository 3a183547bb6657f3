package orchestrator

import (
	"testing"

	"github.com/Kshitij-M/sqs-orchestrator/pkg/sqsclient"
)

func TestFilterDisabled(t *testing.T) {
	f, err := NewFilter("")
	if err != nil {
		t.Fatalf("empty filter: %v", err)
	}
	if f.Enabled() {
		t.Fatalf("empty expression should disable the filter")
	}
	if !f.Match(sqsclient.Message{ID: "m1"}) {
		t.Fatalf("disabled filter must match everything")
	}
}

func TestFilterAttributes(t *testing.T) {
	f, err := NewFilter(`attributes["tenant"] == "acme" && receive_count < 3`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	match := sqsclient.Message{ID: "m1", ReceiveCount: 1, Attributes: map[string]string{"tenant": "acme"}}
	if !f.Match(match) {
		t.Fatalf("expected match")
	}
	noMatch := sqsclient.Message{ID: "m2", ReceiveCount: 1, Attributes: map[string]string{"tenant": "other"}}
	if f.Match(noMatch) {
		t.Fatalf("expected no match")
	}
	// missing attribute key is an eval error, counted as no-match
	if f.Match(sqsclient.Message{ID: "m3", ReceiveCount: 1}) {
		t.Fatalf("missing attribute should not match")
	}
}

func TestFilterJSONBody(t *testing.T) {
	f, err := NewFilter(`json.kind == "resize" && size > 2`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !f.Match(sqsclient.Message{ID: "m1", Body: []byte(`{"kind":"resize"}`)}) {
		t.Fatalf("expected match")
	}
	if f.Match(sqsclient.Message{ID: "m2", Body: []byte(`{"kind":"delete"}`)}) {
		t.Fatalf("expected no match")
	}
}

func TestFilterInvalidExpression(t *testing.T) {
	if _, err := NewFilter(`attributes[`); err == nil {
		t.Fatalf("expected compile error")
	}
	if _, err := NewFilter(`no_such_var == 1`); err == nil {
		t.Fatalf("expected check error for undeclared variable")
	}
}
