package healthcheck

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/production-feedback-service/pkg/utils"
)

// Version is reported on the liveness endpoint.
const Version = "1.0.0"

// CheckFunc reports whether a dependency is ready.
type CheckFunc func(ctx context.Context) error

// Server represents a health check HTTP server
type Server struct {
	httpServer   *http.Server
	mux          *http.ServeMux // Expose mux for adding handlers
	logger       *zap.Logger
	checkTimeout time.Duration

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// HealthResponse is the response structure for health check endpoints
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// NewServer creates a new health check server
func NewServer(port string, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	server := &Server{
		httpServer: &http.Server{
			Addr:              ":" + port,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		mux:          mux,
		logger:       logger,
		checkTimeout: 2 * time.Second,
		checks:       make(map[string]CheckFunc),
	}

	mux.HandleFunc("/health", server.handleHealth)
	mux.HandleFunc("/ready", server.handleReady)

	return server
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// AddCheck registers a readiness check. A failing check turns /ready into a 503.
func (s *Server) AddCheck(name string, check CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// RegisterMetricsHandler adds the /metrics endpoint handler.
// Should only be called if metrics are enabled.
func (s *Server) RegisterMetricsHandler(handler http.Handler) {
	s.logger.Info("Registering /metrics endpoint")
	s.mux.Handle("/metrics", handler)
}

// Start begins the HTTP server
func (s *Server) Start() {
	utils.SafeGo(func() {
		s.logger.Info("Starting health check server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Health check server error", zap.Error(err))
		}
	}, nil)
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping health check server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth handles the /health endpoint for liveness probes
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSONResponse(w, http.StatusOK, HealthResponse{
		Status:  "UP",
		Version: Version,
	})
}

// handleReady runs every registered check and reports each outcome.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(s.checks))
	for name, check := range s.checks {
		checks[name] = check
	}
	s.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(r.Context(), s.checkTimeout)
	defer cancel()

	details := map[string]string{
		"timestamp": utils.FormatISO8601(utils.Now()),
	}
	ready := true
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			ready = false
			details[name] = err.Error()
			s.logger.Warn("Readiness check failed", zap.String("check", name), zap.Error(err))
			continue
		}
		details[name] = "ok"
	}

	if !ready {
		utils.WriteJSONResponse(w, http.StatusServiceUnavailable, HealthResponse{Status: "NOT_READY", Details: details})
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, HealthResponse{Status: "READY", Details: details})
}
