package observer

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/gameboard/gamesync/go/internal/session"
)

// Service fans merged session updates out to observer dashboards over
// WebSocket.
type Service struct {
	connectionManager *ConnectionManager
	handler           *Handler
	merger            *session.Merger
}

// Config holds configuration for the observer service.
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default observer configuration.
func DefaultConfig() Config {
	return Config{ConnectionConfig: DefaultConnectionConfig()}
}

// NewService creates an observer service fed by the merger's update feed.
func NewService(config Config, merger *session.Merger) *Service {
	cm := NewConnectionManager(config.ConnectionConfig)
	return &Service{
		connectionManager: cm,
		handler:           NewHandler(cm, merger),
		merger:            merger,
	}
}

// Start runs the broadcast pump until the context is cancelled.
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("observer service started")

	go s.connectionManager.Start(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("observer service shutting down")
			return
		case update := <-s.merger.Updates():
			s.connectionManager.BroadcastToOwner(update.OwnerID, NewSessionEvent(update))
		}
	}
}

// RegisterRoutes registers the observer HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.handler.RegisterRoutes(mux)
	log.Info().Msg("observer routes registered")
}

// Broadcast allows manual event broadcasting (useful for testing).
func (s *Service) Broadcast(ownerID string, event *SessionEvent) {
	s.connectionManager.BroadcastToOwner(ownerID, event)
}
