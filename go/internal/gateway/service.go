package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Service is the websocket gateway: connections, the event router and the
// HTTP routes in front of the session engine
type Service struct {
	config            Config
	connectionManager *ConnectionManager
	router            *Router
	sessions          Sessions
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	RouterConfig     RouterConfig
	ShutdownTimeout  time.Duration // Budget for disconnect cleanup on Stop
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		RouterConfig:     DefaultRouterConfig(),
		ShutdownTimeout:  10 * time.Second,
	}
}

// NewService wires the router between cm and sessions. cm must be the
// Deliverer the fabric behind sender was built with.
func NewService(config Config, cm *ConnectionManager, sessions Sessions, sender Sender) *Service {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	router := NewRouter(sessions, sender, config.RouterConfig)
	cm.router = router

	return &Service{
		config:            config,
		connectionManager: cm,
		router:            router,
		sessions:          sessions,
		wsHandler:         NewWebSocketHandler(cm),
		stateHandler:      NewStateHandler(sessions),
	}
}

// Start runs the event router until ctx is cancelled, then stops the gateway
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting gateway service")

	s.router.Run(ctx)

	log.Info().Msg("gateway service shutting down")
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	return s.Stop(stopCtx)
}

// Stop closes every local connection and runs disconnect cleanup for each,
// after dispatching anything still queued. The router must no longer be running.
func (s *Service) Stop(ctx context.Context) error {
	ids := s.connectionManager.Shutdown()
	s.router.Drain(ctx)

	for _, id := range ids {
		if err := s.sessions.Disconnect(ctx, id); err != nil {
			log.Error().Err(err).Str("connection_id", id).Msg("failed to clean up connection on shutdown")
		}
	}

	log.Info().Int("connections", len(ids)).Msg("gateway service stopped")
	return ctx.Err()
}

// RegisterRoutes registers the WebSocket and state HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()
	stats["service"] = "typerace_gateway"
	stats["status"] = "running"
	return stats
}
