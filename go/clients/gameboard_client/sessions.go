package gameboard_client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gameboard/gamesync/go/clients"
	"github.com/gameboard/gamesync/go/internal/models"
)

// GetSessionState fetches the authoritative session for an owner. A 404
// means the owner has no session and returns (nil, nil); the poll cycle
// treats that as an observation, not an error.
func (c *GameboardClient) GetSessionState(ctx context.Context, ownerID string) (*models.SessionState, error) {
	data, err := c.Get(ctx, SessionEndpoint+"/"+url.PathEscape(ownerID))
	if err != nil {
		var apiErr *clients.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get session for owner %s: %w", ownerID, err)
	}

	var state models.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	state.OwnerID = ownerID
	return &state, nil
}

// StartSession enrolls the owner into an active session. Not idempotent:
// the caller's pending-action guard prevents double submission.
func (c *GameboardClient) StartSession(ctx context.Context, ownerID string) (*models.SessionState, error) {
	data, err := c.Post(ctx, SessionEndpoint+"/"+url.PathEscape(ownerID)+"/start", nil)
	if err != nil {
		return nil, fmt.Errorf("start session for owner %s: %w", ownerID, err)
	}

	var state models.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal started session: %w", err)
	}
	state.OwnerID = ownerID
	return &state, nil
}

// StopSession deletes the owner's session.
func (c *GameboardClient) StopSession(ctx context.Context, ownerID string) error {
	if _, err := c.Delete(ctx, SessionEndpoint+"/"+url.PathEscape(ownerID)); err != nil {
		return fmt.Errorf("stop session for owner %s: %w", ownerID, err)
	}
	return nil
}

// launchRequest is the challenge deployment payload.
type launchRequest struct {
	OwnerID string `json:"owner_id"`
	SpecID  string `json:"spec_id"`
	Variant int    `json:"variant"`
}

// Launch deploys a challenge instance inside the owner's active session.
func (c *GameboardClient) Launch(ctx context.Context, ownerID, specID string) (*models.ChallengeInstance, error) {
	payload, err := json.Marshal(launchRequest{OwnerID: ownerID, SpecID: specID})
	if err != nil {
		return nil, fmt.Errorf("marshal launch request: %w", err)
	}

	data, err := c.Post(ctx, ChallengeEndpoint+"/launch", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("launch challenge %s for owner %s: %w", specID, ownerID, err)
	}

	var instance models.ChallengeInstance
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("unmarshal challenge instance: %w", err)
	}
	return &instance, nil
}

// Undeploy tears down the owner's gamespace for a game, used by the
// session reset flow before deleting the session.
func (c *GameboardClient) Undeploy(ctx context.Context, gameID, ownerID string) error {
	endpoint := fmt.Sprintf("%s/%s/%s", UndeployEndpoint, url.PathEscape(gameID), url.PathEscape(ownerID))
	if _, err := c.Post(ctx, endpoint, nil); err != nil {
		return fmt.Errorf("undeploy game %s for owner %s: %w", gameID, ownerID, err)
	}
	return nil
}
