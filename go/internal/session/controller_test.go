package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gameboard/gamesync/go/internal/models"
)

// stubGameClient blocks each call until the test releases it, so tests
// control exactly when the "backend" responds.
type stubGameClient struct {
	mu        sync.Mutex
	startCh   chan actionResult
	stopCh    chan error
	launchCh  chan actionResult
	undeploys int
}

func newStubGameClient() *stubGameClient {
	return &stubGameClient{
		startCh:  make(chan actionResult, 1),
		stopCh:   make(chan error, 1),
		launchCh: make(chan actionResult, 1),
	}
}

func (c *stubGameClient) StartSession(ctx context.Context, ownerID string) (*models.SessionState, error) {
	res := <-c.startCh
	return res.state, res.err
}

func (c *stubGameClient) StopSession(ctx context.Context, ownerID string) error {
	return <-c.stopCh
}

func (c *stubGameClient) Launch(ctx context.Context, ownerID, specID string) (*models.ChallengeInstance, error) {
	res := <-c.launchCh
	return res.instance, res.err
}

func (c *stubGameClient) Undeploy(ctx context.Context, gameID, ownerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.undeploys++
	return nil
}

func newTestController(t *testing.T, api GameClient, fc clockwork.Clock) (*Controller, *Merger) {
	t.Helper()
	merger := NewMerger(MergerConfig{PollInterval: 10 * time.Second}, &stubProvider{}, newStubSource(), fc)
	t.Cleanup(merger.Close)
	ctrl := NewController(ControllerConfig{ActionTimeout: 5 * time.Second}, api, merger, fc)
	return ctrl, merger
}

func TestStartSessionHappyPath(t *testing.T) {
	fc := clockwork.NewFakeClock()
	api := newStubGameClient()
	ctrl, merger := newTestController(t, api, fc)

	api.startCh <- actionResult{state: &models.SessionState{
		SessionID: "s1",
		Begin:     fc.Now(),
		End:       fc.Now().Add(time.Hour),
	}}

	state, err := ctrl.StartSession(context.Background(), "team-1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "s1", state.SessionID)
	assert.Equal(t, "team-1", state.OwnerID)
	assert.Equal(t, PhaseActive, ctrl.Phase("team-1"))

	merged, ok := merger.State("team-1")
	require.True(t, ok)
	require.NotNil(t, merged)
	assert.Equal(t, "s1", merged.SessionID)
}

func TestStartSessionRejectedWhenActive(t *testing.T) {
	fc := clockwork.NewFakeClock()
	api := newStubGameClient()
	ctrl, _ := newTestController(t, api, fc)

	api.startCh <- actionResult{state: &models.SessionState{SessionID: "s1"}}
	_, err := ctrl.StartSession(context.Background(), "team-1")
	require.NoError(t, err)

	_, err = ctrl.StartSession(context.Background(), "team-1")
	assert.ErrorIs(t, err, ErrAlreadyActive)
}

func TestConflictingActionRejected(t *testing.T) {
	fc := clockwork.NewFakeClock()
	api := newStubGameClient()
	ctrl, _ := newTestController(t, api, fc)

	errCh := make(chan error, 1)
	go func() {
		_, err := ctrl.StartSession(context.Background(), "team-1")
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return ctrl.Phase("team-1") == PhaseStarting
	}, time.Second, 5*time.Millisecond)

	// Second action while the first is in flight must be rejected, not
	// queued.
	err := ctrl.StopSession(context.Background(), "team-1")
	assert.ErrorIs(t, err, ErrConflictingAction)

	api.startCh <- actionResult{state: &models.SessionState{SessionID: "s1"}}
	require.NoError(t, <-errCh)
}

func TestStopSessionOnIdleOwnerFails(t *testing.T) {
	fc := clockwork.NewFakeClock()
	api := newStubGameClient()
	ctrl, _ := newTestController(t, api, fc)

	err := ctrl.StopSession(context.Background(), "team-1")
	assert.ErrorIs(t, err, ErrNotActive)
	assert.Equal(t, PhaseIdle, ctrl.Phase("team-1"))
}

func TestStopSessionEndsMergedState(t *testing.T) {
	fc := clockwork.NewFakeClock()
	api := newStubGameClient()
	ctrl, merger := newTestController(t, api, fc)

	api.startCh <- actionResult{state: &models.SessionState{SessionID: "s1"}}
	_, err := ctrl.StartSession(context.Background(), "team-1")
	require.NoError(t, err)

	api.stopCh <- nil
	require.NoError(t, ctrl.StopSession(context.Background(), "team-1"))

	assert.Equal(t, PhaseIdle, ctrl.Phase("team-1"))
	_, ok := merger.State("team-1")
	assert.False(t, ok, "merger sync torn down after stop")
}

func TestStartSessionTimeoutDiscardsLateSuccess(t *testing.T) {
	fc := clockwork.NewFakeClock()
	api := newStubGameClient()
	ctrl, merger := newTestController(t, api, fc)

	errCh := make(chan error, 1)
	go func() {
		_, err := ctrl.StartSession(context.Background(), "team-1")
		errCh <- err
	}()

	// The action timer is the only sleeper on the fake clock.
	fc.BlockUntil(1)
	fc.Advance(5 * time.Second)

	err := <-errCh
	assert.ErrorIs(t, err, ErrRemoteRequestTimedOut)
	assert.Equal(t, PhaseIdle, ctrl.Phase("team-1"), "guard released after timeout")

	// Late success arrives after the timeout: it must be logged and
	// dropped, never merged.
	api.startCh <- actionResult{state: &models.SessionState{SessionID: "late"}}
	time.Sleep(50 * time.Millisecond)
	_, ok := merger.State("team-1")
	assert.False(t, ok)

	// The owner is usable again.
	api.startCh <- actionResult{state: &models.SessionState{SessionID: "s2"}}
	state, err := ctrl.StartSession(context.Background(), "team-1")
	require.NoError(t, err)
	assert.Equal(t, "s2", state.SessionID)
}

func TestSyncOutlivesStartActionContext(t *testing.T) {
	fc := clockwork.NewFakeClock()
	api := newStubGameClient()
	provider := &stubProvider{}
	merger := NewMerger(MergerConfig{
		PollInterval:        10 * time.Second,
		StalenessMultiplier: 3,
	}, provider, newStubSource(), fc)
	t.Cleanup(merger.Close)
	ctrl := NewController(ControllerConfig{ActionTimeout: 5 * time.Second}, api, merger, fc)

	ctx, cancel := context.WithCancel(context.Background())
	api.startCh <- actionResult{state: &models.SessionState{SessionID: "s1", Score: 42}}
	_, err := ctrl.StartSession(ctx, "team-1")
	require.NoError(t, err)

	// Request-scoped contexts are released as soon as the call returns.
	// Sync for the owner must keep running until StopSession.
	cancel()

	require.Eventually(t, func() bool {
		return provider.callCount() >= 1
	}, time.Second, 5*time.Millisecond)
	base := provider.callCount()
	provider.setError(errors.New("backend unreachable"))

	// Three failed poll intervals put the state past the staleness
	// horizon. The merger ticker is the only sleeper on the fake clock.
	for i := 0; i < 3; i++ {
		fc.BlockUntil(1)
		fc.Advance(10 * time.Second)
	}

	require.Eventually(t, func() bool {
		return provider.callCount() > base
	}, time.Second, 5*time.Millisecond, "polling stopped after the action context was released")

	require.Eventually(t, func() bool {
		state, ok := merger.State("team-1")
		return ok && state != nil && state.Stale
	}, time.Second, 5*time.Millisecond, "staleness checks stopped after the action context was released")

	merged, ok := merger.State("team-1")
	require.True(t, ok)
	assert.Equal(t, float64(42), merged.Score, "stale state is flagged, not discarded")
}

func TestStartSessionRemoteFailureLeavesIdle(t *testing.T) {
	fc := clockwork.NewFakeClock()
	api := newStubGameClient()
	ctrl, merger := newTestController(t, api, fc)

	api.startCh <- actionResult{err: errors.New("boom")}
	_, err := ctrl.StartSession(context.Background(), "team-1")
	assert.ErrorIs(t, err, ErrRemoteRequestFailed)
	assert.Equal(t, PhaseIdle, ctrl.Phase("team-1"))
	_, ok := merger.State("team-1")
	assert.False(t, ok)
}

func TestLaunchRequiresActiveSession(t *testing.T) {
	fc := clockwork.NewFakeClock()
	api := newStubGameClient()
	ctrl, _ := newTestController(t, api, fc)

	_, err := ctrl.Launch(context.Background(), "team-1", "spec-a")
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestLaunchFailureLeavesSessionActive(t *testing.T) {
	fc := clockwork.NewFakeClock()
	api := newStubGameClient()
	ctrl, _ := newTestController(t, api, fc)

	api.startCh <- actionResult{state: &models.SessionState{SessionID: "s1"}}
	_, err := ctrl.StartSession(context.Background(), "team-1")
	require.NoError(t, err)

	api.launchCh <- actionResult{err: errors.New("no gamespace available")}
	_, err = ctrl.Launch(context.Background(), "team-1", "spec-a")
	assert.ErrorIs(t, err, ErrRemoteRequestFailed)
	assert.Equal(t, PhaseActive, ctrl.Phase("team-1"))
}

func TestLaunchNilInstanceIsRemoteFailure(t *testing.T) {
	fc := clockwork.NewFakeClock()
	api := newStubGameClient()
	ctrl, merger := newTestController(t, api, fc)

	api.startCh <- actionResult{state: &models.SessionState{SessionID: "s1"}}
	_, err := ctrl.StartSession(context.Background(), "team-1")
	require.NoError(t, err)

	// A client returning (nil, nil) must surface as a failure, not a
	// panic, and the session stays active.
	api.launchCh <- actionResult{}
	instance, err := ctrl.Launch(context.Background(), "team-1", "spec-a")
	assert.ErrorIs(t, err, ErrRemoteRequestFailed)
	assert.Nil(t, instance)
	assert.Equal(t, PhaseActive, ctrl.Phase("team-1"))

	merged, ok := merger.State("team-1")
	require.True(t, ok)
	require.NotNil(t, merged)
	assert.Empty(t, merged.Challenges)
}

func TestLaunchMergesChallengeInstance(t *testing.T) {
	fc := clockwork.NewFakeClock()
	api := newStubGameClient()
	ctrl, merger := newTestController(t, api, fc)

	api.startCh <- actionResult{state: &models.SessionState{SessionID: "s1"}}
	_, err := ctrl.StartSession(context.Background(), "team-1")
	require.NoError(t, err)

	api.launchCh <- actionResult{instance: &models.ChallengeInstance{
		ID:     "c1",
		SpecID: "spec-a",
		State:  models.ChallengeStateDeployed,
	}}
	instance, err := ctrl.Launch(context.Background(), "team-1", "spec-a")
	require.NoError(t, err)
	assert.Equal(t, "c1", instance.ID)
	assert.Equal(t, PhaseActive, ctrl.Phase("team-1"))

	merged, ok := merger.State("team-1")
	require.True(t, ok)
	require.NotNil(t, merged)
	assert.Equal(t, "c1", merged.Challenges["spec-a"].ID)
}

func TestResetSessionUndeploysFirst(t *testing.T) {
	fc := clockwork.NewFakeClock()
	api := newStubGameClient()
	ctrl, _ := newTestController(t, api, fc)

	api.startCh <- actionResult{state: &models.SessionState{SessionID: "s1", GameID: "game-1"}}
	_, err := ctrl.StartSession(context.Background(), "team-1")
	require.NoError(t, err)

	api.stopCh <- nil
	require.NoError(t, ctrl.ResetSession(context.Background(), "team-1", "game-1"))

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, 1, api.undeploys)
}
