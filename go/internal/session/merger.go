package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/gameboard/gamesync/go/internal/hub"
	"github.com/gameboard/gamesync/go/internal/models"
)

const (
	// DefaultRosterPollInterval is the poll cadence for roster-level
	// data (scores, ranks).
	DefaultRosterPollInterval = 60 * time.Second
	// DefaultPresencePollInterval is the poll cadence for presence-level
	// data.
	DefaultPresencePollInterval = 10 * time.Second
	// DefaultStalenessMultiplier defines the staleness horizon as a
	// multiple of the poll interval.
	DefaultStalenessMultiplier = 3
)

// PollProvider fetches the authoritative session state for an owner.
// The backend endpoint is idempotent and safe to poll.
type PollProvider interface {
	GetSessionState(ctx context.Context, ownerID string) (*models.SessionState, error)
}

// MergerConfig holds merger timing configuration.
type MergerConfig struct {
	PollInterval        time.Duration `yaml:"poll_interval"`
	StalenessMultiplier int           `yaml:"staleness_multiplier"`
}

// DefaultMergerConfig returns roster-level defaults.
func DefaultMergerConfig() MergerConfig {
	return MergerConfig{
		PollInterval:        DefaultRosterPollInterval,
		StalenessMultiplier: DefaultStalenessMultiplier,
	}
}

// Update is one downstream notification from the merger. State is a
// private copy; nil State with Ended set signals the session ended.
type Update struct {
	OwnerID string
	State   *models.SessionState
	Ended   bool
}

// Merger maintains one up-to-date SessionState per owner by merging the
// recurring poll with the hub push stream. All reconciliation for an
// owner runs on that owner's goroutine, so events are applied strictly
// in arrival order.
type Merger struct {
	config   MergerConfig
	provider PollProvider
	source   hub.Source
	clock    clockwork.Clock

	mu     sync.Mutex
	owners map[string]*ownerSync

	updates chan Update
}

type ownerSync struct {
	cancel       context.CancelFunc
	done         chan struct{}
	state        *models.SessionState
	lastObserved time.Time
}

// NewMerger creates a merger. A nil clock means the real clock.
func NewMerger(config MergerConfig, provider PollProvider, source hub.Source, clock clockwork.Clock) *Merger {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultRosterPollInterval
	}
	if config.StalenessMultiplier <= 0 {
		config.StalenessMultiplier = DefaultStalenessMultiplier
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Merger{
		config:   config,
		provider: provider,
		source:   source,
		clock:    clock,
		owners:   make(map[string]*ownerSync),
		updates:  make(chan Update, 256),
	}
}

// Updates is the downstream change feed. Slow consumers drop updates
// rather than stalling reconciliation.
func (m *Merger) Updates() <-chan Update {
	return m.updates
}

// Start begins polling and hub delivery for the owner. Idempotent:
// starting an already-started owner is a no-op.
func (m *Merger) Start(ctx context.Context, ownerID string) error {
	m.mu.Lock()
	if _, exists := m.owners[ownerID]; exists {
		m.mu.Unlock()
		return nil
	}

	ownerCtx, cancel := context.WithCancel(ctx)
	os := &ownerSync{
		cancel:       cancel,
		done:         make(chan struct{}),
		lastObserved: m.clock.Now(),
	}
	m.owners[ownerID] = os
	m.mu.Unlock()

	events, err := m.source.Subscribe(ownerCtx, ownerID)
	if err != nil {
		m.mu.Lock()
		delete(m.owners, ownerID)
		m.mu.Unlock()
		cancel()
		close(os.done)
		return fmt.Errorf("subscribe hub for owner %s: %w", ownerID, err)
	}

	go m.run(ownerCtx, ownerID, os, events)

	log.Info().
		Str("owner_id", ownerID).
		Dur("poll_interval", m.config.PollInterval).
		Msg("merger started for owner")
	return nil
}

// Stop cancels polling and hub delivery for the owner and waits for its
// reconciliation goroutine to exit. No callback for the owner fires
// after Stop returns.
func (m *Merger) Stop(ownerID string) {
	m.mu.Lock()
	os, exists := m.owners[ownerID]
	if exists {
		delete(m.owners, ownerID)
	}
	m.mu.Unlock()

	if !exists {
		return
	}

	os.cancel()
	<-os.done
	m.source.Unsubscribe(ownerID)

	log.Info().Str("owner_id", ownerID).Msg("merger stopped for owner")
}

// Close stops all owners.
func (m *Merger) Close() {
	m.mu.Lock()
	owners := make([]string, 0, len(m.owners))
	for owner := range m.owners {
		owners = append(owners, owner)
	}
	m.mu.Unlock()

	for _, owner := range owners {
		m.Stop(owner)
	}
}

// State returns a copy of the current merged state for the owner. The
// second return is false for owners that are not tracked.
func (m *Merger) State(ownerID string) (*models.SessionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	os, exists := m.owners[ownerID]
	if !exists {
		return nil, false
	}
	return os.state.Clone(), true
}

// Apply feeds one reconciliation event for a tracked owner from outside
// the poll/push paths; the lifecycle controller uses it to merge action
// results. Events for untracked owners are dropped.
func (m *Merger) Apply(ev ReconciliationEvent) {
	m.mu.Lock()
	os, exists := m.owners[ev.OwnerID]
	m.mu.Unlock()
	if !exists {
		log.Debug().Str("owner_id", ev.OwnerID).Msg("dropping event for untracked owner")
		return
	}
	m.applyEvent(ev.OwnerID, os, ev)
}

// run is the single reconciliation path for one owner: poll ticks, hub
// events, and staleness checks all funnel through here.
func (m *Merger) run(ctx context.Context, ownerID string, os *ownerSync, events <-chan *hub.Event) {
	defer close(os.done)

	ticker := m.clock.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	m.poll(ctx, ownerID, os)

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.Chan():
			m.poll(ctx, ownerID, os)
			m.checkStaleness(ownerID, os)

		case ev, ok := <-events:
			if !ok {
				// Source went permanently silent; staleness covers it.
				events = nil
				continue
			}
			m.applyHubEvent(ctx, ownerID, os, ev)
		}
	}
}

func (m *Merger) poll(ctx context.Context, ownerID string, os *ownerSync) {
	state, err := m.provider.GetSessionState(ctx, ownerID)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Str("owner_id", ownerID).Msg("session poll failed")
		}
		return
	}
	if state == nil {
		// Backend responded with no session; the state we hold stays
		// until an explicit delete, but the poll counts as an
		// observation.
		m.mu.Lock()
		os.lastObserved = m.clock.Now()
		m.mu.Unlock()
		return
	}
	m.applyEvent(ownerID, os, ReconciliationEvent{
		Kind:    KindPollResult,
		OwnerID: ownerID,
		State:   state,
	})
}

func (m *Merger) applyHubEvent(ctx context.Context, ownerID string, os *ownerSync, ev *hub.Event) {
	if ev.OwnerID != ownerID {
		log.Warn().
			Str("owner_id", ownerID).
			Str("event_owner_id", ev.OwnerID).
			Msg("dropping hub event for wrong owner")
		return
	}

	switch ev.Action {
	case hub.EventActionDeleted:
		m.applyEvent(ownerID, os, ReconciliationEvent{
			Kind:    KindPushDelete,
			OwnerID: ownerID,
		})

	case hub.EventActionArrived, hub.EventActionUpdated:
		patch, err := ev.Patch()
		if err != nil {
			log.Error().Err(err).Str("owner_id", ownerID).Msg("dropping undecodable hub event")
			return
		}
		m.applyEvent(ownerID, os, ReconciliationEvent{
			Kind:    KindPushUpdate,
			OwnerID: ownerID,
			Patch:   patch,
		})
	}
}

func (m *Merger) applyEvent(ownerID string, os *ownerSync, ev ReconciliationEvent) {
	m.mu.Lock()
	res := Reconcile(os.state, ev)
	os.state = res.State
	os.lastObserved = m.clock.Now()
	state := res.State.Clone()
	m.mu.Unlock()

	m.notify(Update{OwnerID: ownerID, State: state, Ended: res.Ended})
}

// checkStaleness flags (never discards) state that has not been
// refreshed within StalenessMultiplier poll intervals.
func (m *Merger) checkStaleness(ownerID string, os *ownerSync) {
	horizon := time.Duration(m.config.StalenessMultiplier) * m.config.PollInterval

	m.mu.Lock()
	if os.state == nil || os.state.Stale || m.clock.Since(os.lastObserved) < horizon {
		m.mu.Unlock()
		return
	}
	state := os.state.Clone()
	state.Stale = true
	os.state = state
	stateCopy := state.Clone()
	m.mu.Unlock()

	log.Warn().
		Str("owner_id", ownerID).
		Dur("horizon", horizon).
		Msg("session state went stale")
	m.notify(Update{OwnerID: ownerID, State: stateCopy})
}

func (m *Merger) notify(update Update) {
	select {
	case m.updates <- update:
	default:
		log.Warn().Str("owner_id", update.OwnerID).Msg("update channel full, dropping update")
	}
}
