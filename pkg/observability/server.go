package observability

import (
	"context"
	"net/http"
	"time"
)

// Server is the opt-in local HTTP listener for metrics and health endpoints.
// It is the only network surface in the repo.
type Server struct {
	httpServer *http.Server
	addr       string
	health     *HealthChecker
}

// NewServer creates an observability server listening on addr.
func NewServer(addr string, health *HealthChecker) *Server {
	return &Server{addr: addr, health: health}
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.health.Handler())
	mux.HandleFunc("/health/live", LivenessHandler())
	mux.HandleFunc("/health/ready", s.health.ReadinessHandler())
	mux.Handle("/metrics", MetricsHandler())

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
