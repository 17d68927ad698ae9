package gameboard_client

import (
	"github.com/gameboard/gamesync/go/clients"
)

// GameboardClient wraps the competition platform's JSON API. It covers
// the session endpoints the synchronizer consumes: the pollable
// session-by-owner read and the non-idempotent start/stop/launch writes.
type GameboardClient struct {
	*clients.BaseClient
}

func NewGameboardClient(baseURL, bearerToken string) *GameboardClient {
	client := &GameboardClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}

	client.SetHeader(ContentTypeHeader, ContentTypeJSON)
	if bearerToken != "" {
		client.SetHeader(AuthorizationHeader, "Bearer "+bearerToken)
	}

	return client
}
