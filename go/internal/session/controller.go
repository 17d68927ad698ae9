package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/gameboard/gamesync/go/internal/models"
	"github.com/gameboard/gamesync/go/internal/timewin"
)

// Phase is an owner's position in the lifecycle state machine.
type Phase string

const (
	PhaseIdle      Phase = "IDLE"
	PhaseStarting  Phase = "STARTING"
	PhaseActive    Phase = "ACTIVE"
	PhaseStopping  Phase = "STOPPING"
	PhaseLaunching Phase = "LAUNCHING"
)

// DefaultActionTimeout bounds every state-changing request.
const DefaultActionTimeout = 30 * time.Second

// GameClient is what the controller needs from the backend API. The
// POST endpoints are not idempotent; the pending-action guard is the
// only thing preventing double submission.
type GameClient interface {
	StartSession(ctx context.Context, ownerID string) (*models.SessionState, error)
	StopSession(ctx context.Context, ownerID string) error
	Launch(ctx context.Context, ownerID, specID string) (*models.ChallengeInstance, error)
	Undeploy(ctx context.Context, gameID, ownerID string) error
}

// ControllerConfig holds lifecycle controller configuration.
type ControllerConfig struct {
	ActionTimeout time.Duration `yaml:"action_timeout"`
}

// DefaultControllerConfig returns default controller configuration.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{ActionTimeout: DefaultActionTimeout}
}

// Controller serializes user-triggered session transitions per owner
// and reconciles their results into the merger. At most one action per
// owner may be in flight; a second is rejected with ErrConflictingAction.
type Controller struct {
	api    GameClient
	merger *Merger
	clock  clockwork.Clock
	config ControllerConfig

	mu     sync.Mutex
	owners map[string]*ownerLifecycle
}

type ownerLifecycle struct {
	phase   Phase
	pending bool
	gen     uint64
}

type actionResult struct {
	state    *models.SessionState
	instance *models.ChallengeInstance
	err      error
}

// NewController creates a lifecycle controller. A nil clock means the
// real clock.
func NewController(config ControllerConfig, api GameClient, merger *Merger, clock clockwork.Clock) *Controller {
	if config.ActionTimeout <= 0 {
		config.ActionTimeout = DefaultActionTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Controller{
		api:    api,
		merger: merger,
		clock:  clock,
		config: config,
		owners: make(map[string]*ownerLifecycle),
	}
}

// Phase returns the owner's current lifecycle phase.
func (c *Controller) Phase(ownerID string) Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lc, exists := c.owners[ownerID]; exists {
		return lc.phase
	}
	return PhaseIdle
}

// StartSession starts a session for the owner, begins merger sync, and
// returns the initial state. Fails with ErrAlreadyActive unless the
// owner is idle.
func (c *Controller) StartSession(ctx context.Context, ownerID string) (*models.SessionState, error) {
	gen, err := c.begin(ownerID, PhaseIdle, PhaseStarting, ErrAlreadyActive)
	if err != nil {
		return nil, err
	}

	resCh := make(chan actionResult, 1)
	go func() {
		state, err := c.api.StartSession(ctx, ownerID)
		resCh <- actionResult{state: state, err: err}
	}()

	res, err := c.await(ctx, ownerID, "start", gen, resCh, PhaseIdle)
	if err != nil {
		return nil, err
	}
	if res.err != nil {
		c.finish(ownerID, gen, PhaseIdle)
		return nil, fmt.Errorf("%w: %s", ErrRemoteRequestFailed, res.err)
	}

	state := res.state.Clone()
	state.OwnerID = ownerID
	state.Begin, state.End = timewin.AdjustForSkew(state.Begin, state.End, c.clock.Now())

	c.finish(ownerID, gen, PhaseActive)

	// The action ctx only bounds the remote call. Sync for the owner
	// must outlive it and run until StopSession, so the merger loop
	// gets a detached context.
	if mergeErr := c.merger.Start(context.WithoutCancel(ctx), ownerID); mergeErr != nil {
		log.Error().Err(mergeErr).Str("owner_id", ownerID).Msg("failed to start merger sync")
	}
	c.merger.Apply(ReconciliationEvent{Kind: KindPollResult, OwnerID: ownerID, State: state})

	log.Info().
		Str("owner_id", ownerID).
		Str("session_id", state.SessionID).
		Time("session_end", state.End).
		Msg("session started")
	return state, nil
}

// StopSession ends the owner's session. Fails with ErrNotActive unless
// the owner is active.
func (c *Controller) StopSession(ctx context.Context, ownerID string) error {
	return c.stop(ctx, ownerID, "")
}

// ResetSession tears down any deployed gamespace before ending the
// session. gameID identifies the game whose gamespace to undeploy.
func (c *Controller) ResetSession(ctx context.Context, ownerID, gameID string) error {
	return c.stop(ctx, ownerID, gameID)
}

func (c *Controller) stop(ctx context.Context, ownerID, undeployGameID string) error {
	gen, err := c.begin(ownerID, PhaseActive, PhaseStopping, ErrNotActive)
	if err != nil {
		return err
	}

	resCh := make(chan actionResult, 1)
	go func() {
		if undeployGameID != "" {
			// The reset flow proceeds to session deletion even when
			// undeploy fails; the backend reaps orphaned gamespaces.
			if err := c.api.Undeploy(ctx, undeployGameID, ownerID); err != nil {
				log.Warn().Err(err).Str("owner_id", ownerID).Msg("undeploy failed, deleting session anyway")
			}
		}
		resCh <- actionResult{err: c.api.StopSession(ctx, ownerID)}
	}()

	res, err := c.await(ctx, ownerID, "stop", gen, resCh, PhaseActive)
	if err != nil {
		return err
	}
	if res.err != nil {
		c.finish(ownerID, gen, PhaseActive)
		return fmt.Errorf("%w: %s", ErrRemoteRequestFailed, res.err)
	}

	c.finish(ownerID, gen, PhaseIdle)

	c.merger.Apply(ReconciliationEvent{Kind: KindPushDelete, OwnerID: ownerID})
	c.merger.Stop(ownerID)

	log.Info().Str("owner_id", ownerID).Msg("session stopped")
	return nil
}

// Launch deploys a challenge instance inside an active session. On
// failure the session stays active and the error is surfaced; a timeout
// is a soft failure that the merger's staleness policy resolves.
func (c *Controller) Launch(ctx context.Context, ownerID, specID string) (*models.ChallengeInstance, error) {
	gen, err := c.begin(ownerID, PhaseActive, PhaseLaunching, ErrNotActive)
	if err != nil {
		return nil, err
	}

	resCh := make(chan actionResult, 1)
	go func() {
		instance, err := c.api.Launch(ctx, ownerID, specID)
		resCh <- actionResult{instance: instance, err: err}
	}()

	res, err := c.await(ctx, ownerID, "launch", gen, resCh, PhaseActive)
	if err != nil {
		return nil, err
	}

	c.finish(ownerID, gen, PhaseActive)

	if res.err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRemoteRequestFailed, res.err)
	}
	if res.instance == nil {
		return nil, fmt.Errorf("%w: launch returned no instance", ErrRemoteRequestFailed)
	}

	instance := *res.instance
	c.merger.Apply(ReconciliationEvent{
		Kind:    KindPushUpdate,
		OwnerID: ownerID,
		Patch:   &models.SessionPatch{Challenge: &instance},
	})

	log.Info().
		Str("owner_id", ownerID).
		Str("spec_id", specID).
		Str("instance_id", instance.ID).
		Msg("challenge launched")
	return &instance, nil
}

// begin enforces the pending-action guard and the phase precondition,
// then marks the action in flight.
func (c *Controller) begin(ownerID string, requiredPhase, transientPhase Phase, preconditionErr error) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lc, exists := c.owners[ownerID]
	if !exists {
		lc = &ownerLifecycle{phase: PhaseIdle}
		c.owners[ownerID] = lc
	}

	if lc.pending {
		return 0, ErrConflictingAction
	}
	if lc.phase != requiredPhase {
		return 0, preconditionErr
	}

	lc.pending = true
	lc.gen++
	lc.phase = transientPhase
	return lc.gen, nil
}

// finish releases the guard and settles the phase, unless a timeout
// already released this generation.
func (c *Controller) finish(ownerID string, gen uint64, phase Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lc, exists := c.owners[ownerID]
	if !exists || lc.gen != gen || !lc.pending {
		return
	}
	lc.pending = false
	lc.phase = phase
}

// await waits for the action result, bounded by the configured timeout.
// On timeout the guard is released, the phase reverts, and the eventual
// response is drained and discarded so it can never touch merged state.
func (c *Controller) await(ctx context.Context, ownerID, action string, gen uint64, resCh <-chan actionResult, revertPhase Phase) (actionResult, error) {
	timer := c.clock.NewTimer(c.config.ActionTimeout)
	defer timer.Stop()

	select {
	case res := <-resCh:
		return res, nil

	case <-timer.Chan():
		c.finish(ownerID, gen, revertPhase)
		go c.drainLate(ownerID, action, resCh)
		log.Warn().
			Str("owner_id", ownerID).
			Str("action", action).
			Dur("timeout", c.config.ActionTimeout).
			Msg("action timed out, pending guard released")
		return actionResult{}, fmt.Errorf("%s: %w", action, ErrRemoteRequestTimedOut)

	case <-ctx.Done():
		c.finish(ownerID, gen, revertPhase)
		go c.drainLate(ownerID, action, resCh)
		return actionResult{}, fmt.Errorf("%s: %w: %s", action, ErrRemoteRequestFailed, ctx.Err())
	}
}

// drainLate logs and discards a response that arrives after its action
// was released. A fresher action may already be in flight, so the
// result is never applied.
func (c *Controller) drainLate(ownerID, action string, resCh <-chan actionResult) {
	res := <-resCh
	if res.err != nil {
		log.Warn().
			Err(res.err).
			Str("owner_id", ownerID).
			Str("action", action).
			Msg("late failure after timeout, discarded")
		return
	}
	log.Warn().
		Str("owner_id", ownerID).
		Str("action", action).
		Msg("late success after timeout, discarded")
}
