package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %v want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithWriter(&buf), WithLevel(WarnLevel))
	logger.Info("quiet")
	logger.Warn("loud")
	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Fatalf("info leaked through warn level: %s", out)
	}
	if !strings.Contains(out, "loud") {
		t.Fatalf("warn entry missing: %s", out)
	}
}

func TestJSONFieldsAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithWriter(&buf), WithFormat("json")).
		WithComponent("supervisor").
		With(Str("queue", "jobs"))
	logger.Info("message received",
		Int("count", 3),
		Int64("completed", 42),
		Dur("wait", 20*time.Second),
	)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	if entry["component"] != "supervisor" {
		t.Fatalf("missing component tag: %v", entry)
	}
	if entry["queue"] != "jobs" {
		t.Fatalf("missing bound field: %v", entry)
	}
	if entry["count"] != float64(3) || entry["completed"] != float64(42) || entry["wait"] != "20s" {
		t.Fatalf("missing call fields: %v", entry)
	}
}

func TestSetLevelSharedAcrossDerived(t *testing.T) {
	var buf bytes.Buffer
	root := NewLogger(WithWriter(&buf), WithLevel(InfoLevel))
	child := root.WithComponent("extender")
	root.SetLevel(ErrorLevel)
	child.Info("suppressed")
	if buf.Len() != 0 {
		t.Fatalf("derived logger ignored level change: %s", buf.String())
	}
	if root.GetLevel() != ErrorLevel {
		t.Fatalf("GetLevel: got %v", root.GetLevel())
	}
}
