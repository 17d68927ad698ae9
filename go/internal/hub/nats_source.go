package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds configuration for the NATS hub source.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"` // e.g. "session.events"
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// DefaultNATSConfig returns default NATS source configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "session.events",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSSource subscribes to backend session events bridged onto NATS, one
// subject per owner. NATS handles reconnection itself; during an outage
// the subscription is simply silent.
type NATSSource struct {
	nc     *nats.Conn
	config NATSConfig

	mu   sync.Mutex
	subs map[string]*natsSubscription
}

type natsSubscription struct {
	sub    *nats.Subscription
	events chan *Event
	closed chan struct{}
}

// NewNATSSource connects to NATS and creates a hub source.
func NewNATSSource(config NATSConfig) (*NATSSource, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSSource{
		nc:     nc,
		config: config,
		subs:   make(map[string]*natsSubscription),
	}, nil
}

// Subscribe starts delivering hub events for the owner. Subscribing an
// already-subscribed owner returns the existing channel.
func (s *NATSSource) Subscribe(ctx context.Context, ownerID string) (<-chan *Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, exists := s.subs[ownerID]; exists {
		return sub.events, nil
	}

	ns := &natsSubscription{
		events: make(chan *Event, 64),
		closed: make(chan struct{}),
	}

	subject := fmt.Sprintf("%s.%s", s.config.SubjectPrefix, ownerID)
	natsSub, err := s.nc.Subscribe(subject, func(msg *nats.Msg) {
		ev, err := ParseEvent(msg.Data)
		if err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("dropping malformed hub event")
			return
		}
		select {
		case ns.events <- ev:
		case <-ns.closed:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}

	ns.sub = natsSub
	s.subs[ownerID] = ns

	log.Info().Str("owner_id", ownerID).Str("subject", subject).Msg("hub subscription established")
	return ns.events, nil
}

// Unsubscribe drains the owner's subscription. Unsubscribe on the NATS
// side happens synchronously, so no handler invocation for the owner can
// begin after return.
func (s *NATSSource) Unsubscribe(ownerID string) {
	s.mu.Lock()
	ns, exists := s.subs[ownerID]
	if exists {
		delete(s.subs, ownerID)
	}
	s.mu.Unlock()

	if !exists {
		return
	}
	// Release any handler blocked on delivery before tearing down the
	// subscription. The events channel is left open for the GC; closing
	// it could race with an in-flight handler.
	close(ns.closed)
	if err := ns.sub.Unsubscribe(); err != nil {
		log.Error().Err(err).Str("owner_id", ownerID).Msg("failed to unsubscribe hub subject")
	}
}

// Close tears down all subscriptions and the NATS connection.
func (s *NATSSource) Close() error {
	s.mu.Lock()
	owners := make([]string, 0, len(s.subs))
	for owner := range s.subs {
		owners = append(owners, owner)
	}
	s.mu.Unlock()

	for _, owner := range owners {
		s.Unsubscribe(owner)
	}

	s.nc.Close()
	return nil
}
