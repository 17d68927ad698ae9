package models

import (
	"time"

	"github.com/gameboard/gamesync/go/internal/timewin"
)

// ChallengeState defines the deployment state of a challenge instance.
type ChallengeState string

const (
	ChallengeStateDeploying ChallengeState = "DEPLOYING"
	ChallengeStateDeployed  ChallengeState = "DEPLOYED"
	ChallengeStateFailed    ChallengeState = "FAILED"
	ChallengeStateArchived  ChallengeState = "ARCHIVED"
)

// ChallengeInstance represents a challenge deployed inside an active session.
type ChallengeInstance struct {
	ID       string         `json:"id"`
	SpecID   string         `json:"spec_id"`
	OwnerID  string         `json:"owner_id"`
	State    ChallengeState `json:"state"`
	Points   float64        `json:"points"`
	Score    float64        `json:"score"`
	Deployed time.Time      `json:"deployed,omitempty"`
}

// SessionState is one owner's bounded-time participation record in a game.
// The merger holds the canonical copy; everything handed out of it is a
// clone.
type SessionState struct {
	SessionID    string    `json:"session_id"`
	OwnerID      string    `json:"owner_id"`
	GameID       string    `json:"game_id"`
	Begin        time.Time `json:"session_begin"`
	End          time.Time `json:"session_end"`
	Rank         int       `json:"rank"`
	Score        float64   `json:"score"`
	Elapsed      int64     `json:"time"`
	CorrectCount int       `json:"correct_count"`
	PartialCount int       `json:"partial_count"`

	// Challenges is keyed by spec ID and populated by push events,
	// which carry instance detail the roster poll does not.
	Challenges map[string]ChallengeInstance `json:"challenges,omitempty"`

	// Stale is set by the merger when no update has been observed
	// within the configured staleness horizon.
	Stale bool `json:"stale,omitempty"`
}

// SessionPatch is a shallow field-level patch over a SessionState, as
// delivered by hub push events. Nil fields leave the current value alone.
type SessionPatch struct {
	SessionID *string    `json:"session_id,omitempty"`
	GameID    *string    `json:"game_id,omitempty"`
	Begin     *time.Time `json:"session_begin,omitempty"`
	End       *time.Time `json:"session_end,omitempty"`
	Rank      *int       `json:"rank,omitempty"`
	Score     *float64   `json:"score,omitempty"`
	Elapsed   *int64     `json:"time,omitempty"`

	Challenge *ChallengeInstance `json:"challenge,omitempty"`
}

// Window evaluates the session bounds against now.
func (s *SessionState) Window(now time.Time) (timewin.Window, error) {
	return timewin.Evaluate(s.Begin, s.End, now)
}

// Clone returns a deep copy so reconciliation can stay free of shared
// mutable state.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	out := *s
	if s.Challenges != nil {
		out.Challenges = make(map[string]ChallengeInstance, len(s.Challenges))
		for k, v := range s.Challenges {
			out.Challenges[k] = v
		}
	}
	return &out
}
