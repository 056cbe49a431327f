// Package http runs the two listeners of the bot: the inbound webhook
// listener and the optional ops listener (metrics, health, admin).
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lessondrip/coursebot/internal/interface/http/handlers"
	"github.com/lessondrip/coursebot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Name appears in logs ("webhook", "ops").
	Name string

	// Host - address to bind (default: all interfaces).
	Host string

	// Port - port to listen on.
	Port int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
}

// DefaultConfig returns default server configuration.
func DefaultConfig(name string, port int) Config {
	return Config{
		Name:           name,
		Port:           port,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// OpsDependencies contains the handlers of the ops listener.
type OpsDependencies struct {
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// Health backs /readyz.
	Health *handlers.CompositeHealthChecker

	// Entitlements backs /admin/entitlements/{userID}; it is mounted only
	// when Auth is set too.
	Entitlements http.Handler
	Auth         *handlers.APIKeyAuth
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server wraps an http.Server with logging middleware and lifecycle helpers.
type Server struct {
	config     Config
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewWebhookServer creates the inbound listener. Every path is served by the
// webhook handler so the fixed banner answers unknown routes.
func NewWebhookServer(config Config, webhook http.Handler, log *slog.Logger) *Server {
	return newServer(config, webhook, log)
}

// NewOpsServer creates the ops listener.
func NewOpsServer(config Config, deps OpsDependencies, log *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", handlers.Liveness)
	if deps.Health != nil {
		mux.HandleFunc("GET /readyz", deps.Health.Readiness)
	}
	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	if deps.Entitlements != nil && deps.Auth != nil {
		mux.Handle("GET /admin/entitlements/{userID}",
			handlers.ChainHandler(deps.Entitlements, deps.Auth.Middleware, handlers.NoCacheMiddleware))
	}

	return newServer(config, mux, log)
}

func newServer(config Config, h http.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.Component("http"), slog.String("server", config.Name))

	s := &Server{
		config: config,
		logger: log,
	}

	s.handler = handlers.ChainHandler(h,
		handlers.RequestIDMiddleware(),
		handlers.LoggingMiddleware(log),
		handlers.RecoveryMiddleware(log),
	)

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.handler,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Listen binds the configured address. It is separate from Serve so the
// caller knows the port is open before doing work that depends on it.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return nil, fmt.Errorf("http: failed to listen on %s: %w", s.config.Address(), err)
	}
	return ln, nil
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", slog.String("address", ln.Addr().String()))

	err := s.httpServer.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server. Calling it before Serve makes
// Serve return immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Address()
}
