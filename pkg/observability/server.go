package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Server serves the operational endpoints (health probes and Prometheus
// metrics) on a port separate from the participant-facing API, so the
// study's CORS and rate-limit policies never apply to them.
type Server struct {
	srv *http.Server
}

// NewServer builds the operational server over the given health probes.
func NewServer(port int, health *Health) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.Handler())
	mux.HandleFunc("GET /health/ready", health.ReadyHandler())
	mux.HandleFunc("GET /health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("GET /metrics", MetricsHandler())

	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			// The LLM probe can take most of its 10s timeout.
			WriteTimeout: 15 * time.Second,
		},
	}
}

// Start blocks serving until Shutdown or a listener error.
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
