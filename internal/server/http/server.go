package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	logpkg "github.com/Kshitij-M/sqs-orchestrator/pkg/log"
	"github.com/Kshitij-M/sqs-orchestrator/pkg/orchestrator"
)

// Engine is the supervisor surface the server exposes.
type Engine interface {
	Healthy() bool
	Stats() orchestrator.Stats
}

type Server struct {
	engine Engine
	logger logpkg.Logger
	srv    *http.Server
	lis    net.Listener
}

func New(engine Engine, logger logpkg.Logger) *Server {
	if logger == nil {
		logger = logpkg.NopLogger()
	}
	mux := http.NewServeMux()
	s := &Server{
		engine: engine,
		logger: logger.WithComponent("http"),
		srv:    &http.Server{Handler: mux},
	}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/statsz", s.handleStats)
	return s
}

// ListenAndServe serves until ctx is cancelled, then shuts down
// gracefully with a short timeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("http listening", logpkg.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the bound address, or empty before ListenAndServe.
func (s *Server) Addr() string {
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.engine.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_serving"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.engine.Stats())
}
