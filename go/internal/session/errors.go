package session

import "errors"

// ErrConflictingAction is returned when an action is triggered for an
// owner that already has one in flight
var ErrConflictingAction = errors.New("conflicting action in flight")

// ErrAlreadyActive is returned when starting a session that is not idle
var ErrAlreadyActive = errors.New("session already active")

// ErrNotActive is returned when stopping or launching against an idle session
var ErrNotActive = errors.New("session not active")

// ErrRemoteRequestFailed is returned when the backend rejected or failed
// a state-changing request; merged state is left unchanged
var ErrRemoteRequestFailed = errors.New("remote request failed")

// ErrRemoteRequestTimedOut is returned when no response arrived within
// the configured action timeout; the pending guard is released and a
// later response is discarded
var ErrRemoteRequestTimedOut = errors.New("remote request timed out")
