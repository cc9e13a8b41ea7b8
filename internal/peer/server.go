package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/peer/handlers"
	"github.com/iudanet/gophsync/internal/peer/middleware"
)

// Routes of the peer endpoint.
const (
	HealthPath  = "/api/v1/health"
	UpdatesPath = "/api/v1/updates"
)

// ServerConfig configures the peer endpoint.
type ServerConfig struct {
	Listen     string
	Version    string
	RateLimit  int
	RateWindow time.Duration
}

// Server is the HTTP endpoint peers send their notifications to.
type Server struct {
	httpServer *http.Server
	limiter    *middleware.RateLimiter
	logger     *slog.Logger
}

// NewServer creates the endpoint of device. Notifications are passed to receiver.
func NewServer(
	cfg ServerConfig,
	device models.DeviceID,
	receiver handlers.UpdateReceiver,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Server {
	health := handlers.NewHealthHandler(device, cfg.Version, logger)
	updates := handlers.NewUpdatesHandler(receiver, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+HealthPath, health.Health)
	mux.HandleFunc(UpdatesPath, updates.Updates)

	limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.RateWindow, clock, logger)
	handler := middleware.Chain(mux,
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingWithSkip(logger, clock, []string{HealthPath}),
		limiter.Middleware(),
	)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Listen,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		limiter: limiter,
		logger:  logger,
	}
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Serve accepts peer connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("peer endpoint listening", "addr", l.Addr().String())
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("peer endpoint failed: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured address and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(l)
}

// Shutdown stops the endpoint gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.limiter.Stop()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown peer endpoint: %w", err)
	}
	return nil
}
