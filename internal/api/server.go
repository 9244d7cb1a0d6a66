package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/tivoremote-bridge/internal/audit"
	"github.com/nerrad567/tivoremote-bridge/internal/bridge"
	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/tivoremote-bridge/internal/telemetry"
)

const (
	// gracefulShutdownTimeout bounds in-flight requests during Close.
	gracefulShutdownTimeout = 10 * time.Second

	readTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second

	// healthTimeout bounds each dependency check.
	healthTimeout = 3 * time.Second
)

// DeviceLister reports the devices currently present on the bridge.
// *bridge.Manager satisfies it.
type DeviceLister interface {
	Present() []bridge.Presence
}

// HealthChecker is a dependency whose liveness is reported by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the collaborators of the status server.
type Deps struct {
	Addr    string
	Logger  *logging.Logger
	Version string
	Devices DeviceLister

	// Optional.
	Audit   audit.Repository
	Metrics *telemetry.Metrics
	Checks  map[string]HealthChecker
}

// Server is the read-only HTTP status server.
type Server struct {
	deps      Deps
	logger    *logging.Logger
	startTime time.Time

	server   *http.Server
	listener net.Listener
}

// New creates a server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device lister is required")
	}
	return &Server{
		deps:      deps,
		logger:    deps.Logger.With("component", "api"),
		startTime: time.Now(),
	}, nil
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listen address and serves in the background.
// A bind failure is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.deps.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.deps.Addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", "error", err)
		}
	}()
	s.logger.Info("status server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close shuts the server down, waiting up to 10 seconds for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("status server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down status server: %w", err)
	}
	return nil
}
