package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/mcdev12/rendezvous/go/internal/clock"
	"github.com/mcdev12/rendezvous/go/internal/models"
	"github.com/rs/zerolog/log"
)

// SessionStore is the single writer that owns session state.
type SessionStore interface {
	Sessions() []models.Session
	// ApplyTransitions applies each transition whose From still matches the current
	// status and returns the ones applied.
	ApplyTransitions(ts []Transition) []Transition
}

// StatusWriter persists an automatic transition to the backend.
type StatusWriter interface {
	UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus) error
}

type SweeperConfig struct {
	Interval       time.Duration
	PersistTimeout time.Duration
}

func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:       60 * time.Second,
		PersistTimeout: 15 * time.Second,
	}
}

// Sweeper drives the session lifecycle automaton. Transitions are applied locally
// first; persistence is asynchronous and retried on every tick until it succeeds.
type Sweeper struct {
	store  SessionStore
	writer StatusWriter
	clock  clock.Source
	loc    *time.Location
	config SweeperConfig
	wakeCh chan struct{}

	mu            sync.Mutex
	pending       map[string]models.SessionStatus
	inFlight      map[string]bool
	persisted     map[string]models.SessionStatus
	onTransitions []func([]Transition)
	wg            sync.WaitGroup
}

func NewSweeper(store SessionStore, writer StatusWriter, clk clock.Source, loc *time.Location, cfg SweeperConfig) *Sweeper {
	if loc == nil {
		loc = time.UTC
	}
	return &Sweeper{
		store:     store,
		writer:    writer,
		clock:     clk,
		loc:       loc,
		config:    cfg,
		wakeCh:    make(chan struct{}, 1),
		pending:   make(map[string]models.SessionStatus),
		inFlight:  make(map[string]bool),
		persisted: make(map[string]models.SessionStatus),
	}
}

// OnTransitions registers fn to receive every batch of locally applied transitions.
func (s *Sweeper) OnTransitions(fn func([]Transition)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTransitions = append(s.onTransitions, fn)
}

// Trigger requests an out-of-band sweep, e.g. after a registration mutation.
func (s *Sweeper) Trigger() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	log.Info().Dur("interval", s.config.Interval).Msg("session sweeper started")

	ticker := s.clock.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			log.Info().Msg("session sweeper stopped")
			return nil
		case <-ticker.Chan():
			s.Sweep(ctx)
		case <-s.wakeCh:
			log.Debug().Msg("session sweep triggered")
			s.Sweep(ctx)
		}
	}
}

// Sweep applies due transitions and flushes anything still unpersisted.
func (s *Sweeper) Sweep(ctx context.Context) []Transition {
	sessions := s.store.Sessions()
	planned := AdvanceSessions(sessions, s.clock.Now(), s.loc)

	var applied []Transition
	if len(planned) > 0 {
		applied = s.store.ApplyTransitions(planned)
	}
	s.Track(ctx, applied)
	return applied
}

// Track queues transitions that were applied to local state by another writer (the
// reconciliation cycle) for persistence, then flushes.
func (s *Sweeper) Track(ctx context.Context, ts []Transition) {
	s.mu.Lock()
	var fresh []Transition
	for _, t := range ts {
		// A lagging backend read makes the same transition re-derive each cycle.
		if s.pending[t.SessionID] == t.To || s.persisted[t.SessionID] == t.To {
			continue
		}
		log.Info().
			Str("session_id", t.SessionID).
			Str("from", string(t.From)).
			Str("to", string(t.To)).
			Msg("session transitioned")
		s.pending[t.SessionID] = t.To
		fresh = append(fresh, t)
	}
	listeners := s.onTransitions
	s.mu.Unlock()

	if len(fresh) > 0 {
		for _, fn := range listeners {
			fn(fresh)
		}
	}
	s.flush(ctx)
}

// Pending returns the unpersisted status for a session, if any.
func (s *Sweeper) Pending(sessionID string) (models.SessionStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.pending[sessionID]
	return status, ok
}

// Wait blocks until in-flight persistence calls return.
func (s *Sweeper) Wait() {
	s.wg.Wait()
}

func (s *Sweeper) flush(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, status := range s.pending {
		if s.inFlight[id] {
			continue
		}
		// Backend reads can lag a successful write; the transition is re-derived
		// locally but must not be written twice.
		if s.persisted[id] == status {
			delete(s.pending, id)
			continue
		}
		s.inFlight[id] = true
		s.wg.Add(1)
		go s.persist(ctx, id, status)
	}
}

func (s *Sweeper) persist(ctx context.Context, sessionID string, status models.SessionStatus) {
	defer s.wg.Done()

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.PersistTimeout)
	defer cancel()
	err := s.writer.UpdateSessionStatus(pctx, sessionID, status)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, sessionID)

	if err != nil {
		log.Warn().
			Err(err).
			Str("session_id", sessionID).
			Str("status", string(status)).
			Msg("failed to persist session transition, retrying next tick")
		return
	}

	s.persisted[sessionID] = status
	if s.pending[sessionID] == status {
		delete(s.pending, sessionID)
	}
	log.Debug().Str("session_id", sessionID).Str("status", string(status)).Msg("persisted session transition")
}
