package session

import (
	"github.com/gameboard/gamesync/go/internal/models"
)

// EventKind tags a reconciliation event.
type EventKind int

const (
	// KindPollResult is an authoritative snapshot from the poll cycle.
	KindPollResult EventKind = iota
	// KindPushUpdate is a partial state patch pushed by the hub.
	KindPushUpdate
	// KindPushDelete clears the owner's state and ends the session.
	KindPushDelete
)

// ReconciliationEvent is the tagged union fed to Reconcile. Exactly one
// of State or Patch is set, according to Kind.
type ReconciliationEvent struct {
	Kind    EventKind
	OwnerID string
	State   *models.SessionState // KindPollResult
	Patch   *models.SessionPatch // KindPushUpdate
}

// ReconcileResult is the outcome of applying one event.
type ReconcileResult struct {
	// State is the new merged state; nil after a delete.
	State *models.SessionState
	// Ended is true when this event cleared live state, i.e. the
	// "session ended" signal. It fires at most once per session.
	Ended bool
}

// Reconcile applies one event to the current state and returns the new
// state. It is pure: current is never mutated, and events for the same
// owner must be applied in arrival order.
//
// Merge policy: a poll result replaces the scalar session fields but
// preserves challenge instances, which only the push source carries; a
// push update is a shallow field-level patch; a push delete clears the
// state.
func Reconcile(current *models.SessionState, ev ReconciliationEvent) ReconcileResult {
	switch ev.Kind {
	case KindPollResult:
		if ev.State == nil {
			return ReconcileResult{State: current}
		}
		next := ev.State.Clone()
		next.OwnerID = ev.OwnerID
		next.Stale = false
		if next.Challenges == nil && current != nil {
			next.Challenges = current.Clone().Challenges
		}
		return ReconcileResult{State: next}

	case KindPushUpdate:
		next := current.Clone()
		if next == nil {
			next = &models.SessionState{OwnerID: ev.OwnerID}
		}
		applyPatch(next, ev.Patch)
		next.Stale = false
		return ReconcileResult{State: next}

	case KindPushDelete:
		return ReconcileResult{State: nil, Ended: current != nil}

	default:
		return ReconcileResult{State: current}
	}
}

func applyPatch(state *models.SessionState, patch *models.SessionPatch) {
	if patch == nil {
		return
	}
	if patch.SessionID != nil {
		state.SessionID = *patch.SessionID
	}
	if patch.GameID != nil {
		state.GameID = *patch.GameID
	}
	if patch.Begin != nil {
		state.Begin = *patch.Begin
	}
	if patch.End != nil {
		state.End = *patch.End
	}
	if patch.Rank != nil {
		state.Rank = *patch.Rank
	}
	if patch.Score != nil {
		state.Score = *patch.Score
	}
	if patch.Elapsed != nil {
		state.Elapsed = *patch.Elapsed
	}
	if patch.Challenge != nil {
		if state.Challenges == nil {
			state.Challenges = make(map[string]models.ChallengeInstance)
		}
		state.Challenges[patch.Challenge.SpecID] = *patch.Challenge
	}
}
