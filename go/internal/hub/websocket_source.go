package hub

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocketConfig holds configuration for the WebSocket hub source.
type WebSocketConfig struct {
	// URL is the hub endpoint, e.g. "wss://gameboard.local/hub/teams".
	// The owner id is appended as a query parameter on dial.
	URL string `yaml:"url"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	MaxMessageSize   int64         `yaml:"max_message_size"`

	Retry RetryPolicy `yaml:"retry"`
}

// DefaultWebSocketConfig returns default WebSocket source configuration.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      90 * time.Second,
		MaxMessageSize:   64 * 1024,
		Retry:            DefaultRetryPolicy(),
	}
}

// WebSocketSource subscribes to the backend hub over one WebSocket
// connection per owner. Events for an owner are delivered in the order
// frames arrive on its connection.
type WebSocketSource struct {
	config WebSocketConfig
	dialer *websocket.Dialer

	mu   sync.Mutex
	subs map[string]*wsSubscription
}

type wsSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	events chan *Event
}

// NewWebSocketSource creates a WebSocket hub source.
func NewWebSocketSource(config WebSocketConfig) *WebSocketSource {
	return &WebSocketSource{
		config: config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
		},
		subs: make(map[string]*wsSubscription),
	}
}

// Subscribe starts delivering hub events for the owner. Subscribing an
// already-subscribed owner returns the existing channel.
func (s *WebSocketSource) Subscribe(ctx context.Context, ownerID string) (<-chan *Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, exists := s.subs[ownerID]; exists {
		return sub.events, nil
	}

	endpoint, err := s.ownerURL(ownerID)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &wsSubscription{
		cancel: cancel,
		done:   make(chan struct{}),
		events: make(chan *Event, 64),
	}
	s.subs[ownerID] = sub

	go s.run(subCtx, ownerID, endpoint, sub)

	return sub.events, nil
}

// Unsubscribe stops delivery for the owner and waits for its reader to
// exit, so no event for the owner is delivered after return.
func (s *WebSocketSource) Unsubscribe(ownerID string) {
	s.mu.Lock()
	sub, exists := s.subs[ownerID]
	if exists {
		delete(s.subs, ownerID)
	}
	s.mu.Unlock()

	if !exists {
		return
	}
	sub.cancel()
	<-sub.done
}

// Close tears down all subscriptions.
func (s *WebSocketSource) Close() error {
	s.mu.Lock()
	subs := make(map[string]*wsSubscription, len(s.subs))
	for owner, sub := range s.subs {
		subs[owner] = sub
	}
	s.subs = make(map[string]*wsSubscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		<-sub.done
	}
	return nil
}

func (s *WebSocketSource) ownerURL(ownerID string) (string, error) {
	u, err := url.Parse(s.config.URL)
	if err != nil {
		return "", fmt.Errorf("parse hub url: %w", err)
	}
	q := u.Query()
	q.Set("owner_id", ownerID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// run dials and reads the hub connection for one owner, reconnecting per
// the configured retry policy. When retries are exhausted the channel is
// closed and the subscription goes silent; staleness handling downstream
// covers the gap.
func (s *WebSocketSource) run(ctx context.Context, ownerID, endpoint string, sub *wsSubscription) {
	defer close(sub.done)
	defer close(sub.events)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := s.dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			attempt++
			if attempt > s.config.Retry.MaxAttempts {
				log.Warn().
					Str("owner_id", ownerID).
					Int("attempts", attempt-1).
					Msg("hub reconnect attempts exhausted, subscription going silent")
				return
			}
			wait := s.config.Retry.NextBackoff(attempt)
			log.Warn().
				Err(err).
				Str("owner_id", ownerID).
				Int("attempt", attempt).
				Dur("backoff", wait).
				Msg("hub dial failed, retrying")
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return
			}
		}
		attempt = 0

		log.Info().Str("owner_id", ownerID).Msg("hub subscription established")
		s.readLoop(ctx, ownerID, conn, sub)
	}
}

func (s *WebSocketSource) readLoop(ctx context.Context, ownerID string, conn *websocket.Conn, sub *wsSubscription) {
	defer conn.Close()

	// Unblock ReadMessage when the subscription is cancelled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	conn.SetReadLimit(s.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("owner_id", ownerID).Msg("hub connection dropped")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		ev, err := ParseEvent(data)
		if err != nil {
			log.Error().Err(err).Str("owner_id", ownerID).Msg("dropping malformed hub event")
			continue
		}

		select {
		case sub.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
