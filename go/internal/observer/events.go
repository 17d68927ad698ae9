package observer

import (
	"time"

	"github.com/google/uuid"

	"github.com/gameboard/gamesync/go/internal/models"
	"github.com/gameboard/gamesync/go/internal/session"
)

// EventType classifies a session event pushed to observer clients.
type EventType string

const (
	EventTypeUpdated EventType = "SessionUpdated"
	EventTypeStale   EventType = "SessionStale"
	EventTypeEnded   EventType = "SessionEnded"
)

// SessionEvent is the wire format broadcast to observer connections.
type SessionEvent struct {
	ID        string               `json:"id"`
	OwnerID   string               `json:"owner_id"`
	Type      EventType            `json:"type"`
	Timestamp time.Time            `json:"timestamp"`
	State     *models.SessionState `json:"state,omitempty"`
}

// NewSessionEvent converts a merger update into an observer event.
func NewSessionEvent(update session.Update) *SessionEvent {
	eventType := EventTypeUpdated
	switch {
	case update.Ended:
		eventType = EventTypeEnded
	case update.State != nil && update.State.Stale:
		eventType = EventTypeStale
	}

	return &SessionEvent{
		ID:        uuid.New().String(),
		OwnerID:   update.OwnerID,
		Type:      eventType,
		Timestamp: time.Now(),
		State:     update.State,
	}
}
