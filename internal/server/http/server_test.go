package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	logpkg "github.com/Kshitij-M/sqs-orchestrator/pkg/log"
	"github.com/Kshitij-M/sqs-orchestrator/pkg/orchestrator"
)

type fakeEngine struct {
	healthy bool
	stats   orchestrator.Stats
}

func (f *fakeEngine) Healthy() bool             { return f.healthy }
func (f *fakeEngine) Stats() orchestrator.Stats { return f.stats }

func TestHealthHandler(t *testing.T) {
	s := New(&fakeEngine{healthy: true}, logpkg.NopLogger())
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestHealthHandlerNotServing(t *testing.T) {
	s := New(&fakeEngine{healthy: false}, logpkg.NopLogger())
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestStatsHandler(t *testing.T) {
	engine := &fakeEngine{
		healthy: true,
		stats: orchestrator.Stats{
			ConsumerID: "c-1",
			Received:   10,
			Completed:  7,
			InFlight:   2,
		},
	}
	s := New(engine, logpkg.NopLogger())
	req := httptest.NewRequest(http.MethodGet, "/v1/statsz", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var got orchestrator.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ConsumerID != "c-1" || got.Received != 10 || got.Completed != 7 || got.InFlight != 2 {
		t.Fatalf("stats: %+v", got)
	}
}

func TestStatsHandlerRejectsPost(t *testing.T) {
	s := New(&fakeEngine{healthy: true}, logpkg.NopLogger())
	req := httptest.NewRequest(http.MethodPost, "/v1/statsz", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status: %d", w.Code)
	}
}
