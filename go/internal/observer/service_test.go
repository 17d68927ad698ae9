package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gameboard/gamesync/go/internal/hub"
	"github.com/gameboard/gamesync/go/internal/models"
	"github.com/gameboard/gamesync/go/internal/session"
)

type silentProvider struct{}

func (silentProvider) GetSessionState(ctx context.Context, ownerID string) (*models.SessionState, error) {
	return nil, nil
}

type silentSource struct{ events chan *hub.Event }

func (s *silentSource) Subscribe(ctx context.Context, ownerID string) (<-chan *hub.Event, error) {
	return s.events, nil
}
func (s *silentSource) Unsubscribe(ownerID string) {}
func (s *silentSource) Close() error               { return nil }

func newTestService(t *testing.T) (*Service, *session.Merger, *httptest.Server) {
	t.Helper()

	merger := session.NewMerger(session.DefaultMergerConfig(), silentProvider{}, &silentSource{events: make(chan *hub.Event)}, nil)
	t.Cleanup(merger.Close)

	svc := NewService(DefaultConfig(), merger)
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go svc.Start(ctx)

	return svc, merger, srv
}

func connectionCount(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	resp, err := http.Get(srv.URL + "/api/observer/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats struct {
		TotalConnections int `json:"total_connections"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	return stats.TotalConnections
}

func TestObserverBroadcast(t *testing.T) {
	svc, _, srv := newTestService(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session?owner_id=team-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return connectionCount(t, srv) == 1
	}, 2*time.Second, 10*time.Millisecond)

	svc.Broadcast("team-1", &SessionEvent{
		ID:      "ev-1",
		OwnerID: "team-1",
		Type:    EventTypeUpdated,
		State:   &models.SessionState{SessionID: "s1", OwnerID: "team-1"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event SessionEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, "team-1", event.OwnerID)
	assert.Equal(t, EventTypeUpdated, event.Type)
	require.NotNil(t, event.State)
	assert.Equal(t, "s1", event.State.SessionID)
}

func TestObserverConnectionRequiresOwner(t *testing.T) {
	_, _, srv := newTestService(t)

	resp, err := http.Get(srv.URL + "/ws/session")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestObserverStateSnapshot(t *testing.T) {
	_, merger, srv := newTestService(t)

	resp, err := http.Get(srv.URL + "/api/observer/state?owner_id=team-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "untracked owner")

	require.NoError(t, merger.Start(context.Background(), "team-1"))

	resp, err = http.Get(srv.URL + "/api/observer/state?owner_id=team-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewSessionEventClassification(t *testing.T) {
	ended := NewSessionEvent(session.Update{OwnerID: "t", Ended: true})
	assert.Equal(t, EventTypeEnded, ended.Type)

	stale := NewSessionEvent(session.Update{OwnerID: "t", State: &models.SessionState{Stale: true}})
	assert.Equal(t, EventTypeStale, stale.Type)

	updated := NewSessionEvent(session.Update{OwnerID: "t", State: &models.SessionState{}})
	assert.Equal(t, EventTypeUpdated, updated.Type)
	assert.NotEmpty(t, updated.ID)
}
