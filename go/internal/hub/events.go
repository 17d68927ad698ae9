package hub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gameboard/gamesync/go/internal/models"
)

// EventAction is the type of a push event delivered by the backend hub.
type EventAction string

const (
	EventActionArrived EventAction = "arrived"
	EventActionUpdated EventAction = "updated"
	EventActionDeleted EventAction = "deleted"
)

// Event is one server-initiated state update for an owner, delivered
// outside the poll cycle. Model carries a partial session representation
// for arrived/updated and is empty for deleted.
type Event struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Action    EventAction     `json:"action"`
	Timestamp time.Time       `json:"timestamp"`
	Model     json.RawMessage `json:"model,omitempty"`
}

// ParseEvent decodes a raw hub frame into an Event, validating the action.
func ParseEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal hub event: %w", err)
	}
	switch ev.Action {
	case EventActionArrived, EventActionUpdated, EventActionDeleted:
	default:
		return nil, fmt.Errorf("unknown hub event action: %q", ev.Action)
	}
	if ev.OwnerID == "" {
		return nil, fmt.Errorf("hub event missing owner id")
	}
	return &ev, nil
}

// Patch decodes the event model into a session patch. Deleted events
// carry no model and return an empty patch.
func (e *Event) Patch() (*models.SessionPatch, error) {
	patch := &models.SessionPatch{}
	if len(e.Model) == 0 || e.Action == EventActionDeleted {
		return patch, nil
	}
	if err := json.Unmarshal(e.Model, patch); err != nil {
		return nil, fmt.Errorf("unmarshal hub event model: %w", err)
	}
	return patch, nil
}
