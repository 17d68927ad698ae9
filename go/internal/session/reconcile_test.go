package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gameboard/gamesync/go/internal/models"
)

func intPtr(v int) *int              { return &v }
func floatPtr(v float64) *float64    { return &v }
func timePtr(v time.Time) *time.Time { return &v }

func TestReconcilePollResultReplacesScalars(t *testing.T) {
	current := &models.SessionState{
		OwnerID: "team-1",
		Rank:    5,
		Score:   100,
		Challenges: map[string]models.ChallengeInstance{
			"spec-a": {ID: "c1", SpecID: "spec-a", State: models.ChallengeStateDeployed},
		},
	}

	res := Reconcile(current, ReconciliationEvent{
		Kind:    KindPollResult,
		OwnerID: "team-1",
		State:   &models.SessionState{SessionID: "s1", Rank: 2, Score: 250},
	})

	require.NotNil(t, res.State)
	assert.False(t, res.Ended)
	assert.Equal(t, 2, res.State.Rank)
	assert.Equal(t, 250.0, res.State.Score)
	// Challenge instances come from the push source only; the poll
	// payload must not wipe them.
	assert.Contains(t, res.State.Challenges, "spec-a")
}

func TestReconcilePollResultClearsStale(t *testing.T) {
	current := &models.SessionState{OwnerID: "team-1", Stale: true}

	res := Reconcile(current, ReconciliationEvent{
		Kind:    KindPollResult,
		OwnerID: "team-1",
		State:   &models.SessionState{SessionID: "s1"},
	})

	require.NotNil(t, res.State)
	assert.False(t, res.State.Stale)
}

func TestReconcilePushUpdatePatchesFields(t *testing.T) {
	end := time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)
	current := &models.SessionState{OwnerID: "team-1", Rank: 3, Score: 50}

	res := Reconcile(current, ReconciliationEvent{
		Kind:    KindPushUpdate,
		OwnerID: "team-1",
		Patch:   &models.SessionPatch{Score: floatPtr(75), End: timePtr(end)},
	})

	require.NotNil(t, res.State)
	assert.Equal(t, 75.0, res.State.Score)
	assert.Equal(t, end, res.State.End)
	assert.Equal(t, 3, res.State.Rank, "unpatched fields keep their value")
}

func TestReconcilePushUpdateOrdering(t *testing.T) {
	var state *models.SessionState

	for _, score := range []float64{10, 20} {
		res := Reconcile(state, ReconciliationEvent{
			Kind:    KindPushUpdate,
			OwnerID: "team-1",
			Patch:   &models.SessionPatch{Score: floatPtr(score)},
		})
		state = res.State
	}

	require.NotNil(t, state)
	assert.Equal(t, 20.0, state.Score)
}

func TestReconcilePushUpdateAddsChallenges(t *testing.T) {
	res := Reconcile(&models.SessionState{OwnerID: "team-1"}, ReconciliationEvent{
		Kind:    KindPushUpdate,
		OwnerID: "team-1",
		Patch: &models.SessionPatch{
			Challenge: &models.ChallengeInstance{ID: "c1", SpecID: "spec-a"},
		},
	})

	require.NotNil(t, res.State)
	assert.Equal(t, "c1", res.State.Challenges["spec-a"].ID)
}

func TestReconcilePushDeleteEndsExactlyOnce(t *testing.T) {
	current := &models.SessionState{OwnerID: "team-1", SessionID: "s1"}

	res := Reconcile(current, ReconciliationEvent{Kind: KindPushDelete, OwnerID: "team-1"})
	assert.Nil(t, res.State)
	assert.True(t, res.Ended)

	res = Reconcile(res.State, ReconciliationEvent{Kind: KindPushDelete, OwnerID: "team-1"})
	assert.Nil(t, res.State)
	assert.False(t, res.Ended, "a second delete must not signal ended again")
}

func TestReconcileDoesNotMutateCurrent(t *testing.T) {
	current := &models.SessionState{OwnerID: "team-1", Rank: 9, Score: 10}

	Reconcile(current, ReconciliationEvent{
		Kind:    KindPushUpdate,
		OwnerID: "team-1",
		Patch:   &models.SessionPatch{Rank: intPtr(1), Score: floatPtr(999)},
	})

	assert.Equal(t, 9, current.Rank)
	assert.Equal(t, 10.0, current.Score)
}
