package main

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/gameboard/gamesync/go/clients/gameboard_client"
	"github.com/gameboard/gamesync/go/internal/hub"
	"github.com/gameboard/gamesync/go/internal/observer"
	"github.com/gameboard/gamesync/go/internal/session"
)

type Services struct {
	Client     *gameboard_client.GameboardClient
	Source     hub.Source
	Merger     *session.Merger
	Controller *session.Controller
	Observer   *observer.Service
}

func setupServices(config *Config) (*Services, error) {
	// Wire up the pipeline
	// API client → hub source → merger → controller → observer

	client := gameboard_client.NewGameboardClient(config.Backend.URL, config.Backend.Token)

	source, err := setupHubSource(config)
	if err != nil {
		return nil, err
	}

	clock := clockwork.NewRealClock()
	merger := session.NewMerger(config.Merger, client, source, clock)
	controller := session.NewController(config.Controller, client, merger, clock)
	observerService := observer.NewService(observer.DefaultConfig(), merger)

	return &Services{
		Client:     client,
		Source:     source,
		Merger:     merger,
		Controller: controller,
		Observer:   observerService,
	}, nil
}

func setupHubSource(config *Config) (hub.Source, error) {
	switch config.Hub.Transport {
	case TransportWebSocket:
		return hub.NewWebSocketSource(config.Hub.WebSocket), nil
	case TransportNATS:
		return hub.NewNATSSource(config.Hub.NATS)
	default:
		return nil, fmt.Errorf("unknown hub transport %q", config.Hub.Transport)
	}
}

func (s *Services) Close() {
	s.Merger.Close()
	if err := s.Source.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close hub source")
	}
}
