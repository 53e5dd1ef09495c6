// Package engine composes the lifecycle engine: it owns the per-cycle ordering of
// merge, session sweep, highlight and notification, and fans results out to
// viewers and the event stream.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mcdev12/rendezvous/go/internal/clock"
	"github.com/mcdev12/rendezvous/go/internal/dashboard"
	"github.com/mcdev12/rendezvous/go/internal/events"
	"github.com/mcdev12/rendezvous/go/internal/lifecycle"
	"github.com/mcdev12/rendezvous/go/internal/markers"
	"github.com/mcdev12/rendezvous/go/internal/models"
	"github.com/mcdev12/rendezvous/go/internal/syncloop"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Viewer message types.
const (
	MessageSnapshot  = "snapshot"
	MessageNextRound = "next_round"
	MessageRedirect  = "redirect"
	MessageLoadError = "load_error"
)

// Broadcaster pushes a message to every connected viewer.
type Broadcaster interface {
	Broadcast(msgType string, payload any)
}

// Deliverer is a Broadcaster that reports whether a message reached at least
// one viewer. Redirects sent through one stay pending until delivered.
type Deliverer interface {
	Deliver(msgType string, payload any) bool
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, any) {}

// Simulator controls simulated time.
type Simulator interface {
	Set(target time.Time) error
	Clear() error
	Offset() (time.Duration, bool)
}

// RedirectPayload tells viewers to open the match view.
type RedirectPayload struct {
	SessionID string   `json:"sessionId"`
	RoundID   string   `json:"roundId"`
	MatchID   string   `json:"matchId,omitempty"`
	Partners  []string `json:"partners,omitempty"`
}

type Deps struct {
	Store       *dashboard.Store
	Clock       clock.Source
	Location    *time.Location
	Sweeper     *lifecycle.Sweeper
	Highlighter *lifecycle.Highlighter
	Gate        *markers.Gate
	Publisher   events.Publisher
	Metrics     syncloop.MetricsCollector
}

type Engine struct {
	store       *dashboard.Store
	clock       clock.Source
	loc         *time.Location
	sweeper     *lifecycle.Sweeper
	highlighter *lifecycle.Highlighter
	gate        *markers.Gate
	publisher   events.Publisher
	metrics     syncloop.MetricsCollector
	broadcaster Broadcaster
	loop        *syncloop.Loop

	// pending holds redirects whose gate fired but no viewer has seen yet.
	mu      sync.Mutex
	pending []pendingRedirect
}

type pendingRedirect struct {
	key     models.RegistrationKey
	payload RedirectPayload
}

func New(d Deps) *Engine {
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Metrics == nil {
		d.Metrics = syncloop.NoOpMetricsCollector{}
	}
	if d.Publisher == nil {
		d.Publisher = events.NewLogPublisher()
	}
	e := &Engine{
		store:       d.Store,
		clock:       d.Clock,
		loc:         d.Location,
		sweeper:     d.Sweeper,
		highlighter: d.Highlighter,
		gate:        d.Gate,
		publisher:   d.Publisher,
		metrics:     d.Metrics,
		broadcaster: nopBroadcaster{},
	}

	e.store.Subscribe(func(st dashboard.State) {
		e.highlighter.DataChanged()
		e.broadcaster.Broadcast(MessageSnapshot, e.view(st))
	})
	e.highlighter.OnChange(func(ref lifecycle.RoundRef, ok bool) {
		if !ok {
			e.broadcaster.Broadcast(MessageNextRound, nil)
			return
		}
		e.broadcaster.Broadcast(MessageNextRound, ref)
	})
	e.sweeper.OnTransitions(e.publishTransitions)
	return e
}

// SetBroadcaster attaches the viewer gateway.
func (e *Engine) SetBroadcaster(b Broadcaster) {
	if b == nil {
		b = nopBroadcaster{}
	}
	e.broadcaster = b
}

// SetLoop attaches the reconciliation loop used for visibility and poll requests.
func (e *Engine) SetLoop(l *syncloop.Loop) { e.loop = l }

func (e *Engine) Loaded() bool { return e.store.Loaded() }

// Reconcile merges a fetched snapshot. Session transitions are derived under the
// same lock as the merge, so registration state is never published against a
// session status that is about to flip.
func (e *Engine) Reconcile(ctx context.Context, snap dashboard.Snapshot) {
	now := e.clock.Now()

	var transitions []lifecycle.Transition
	res := e.store.Merge(snap, now, func(st *dashboard.State) {
		transitions = lifecycle.AdvanceSessions(st.Sessions, now, e.loc)
	})
	e.metrics.RecordMerge(len(res.Suppressed), len(res.Acknowledged), len(res.Expired))
	if len(res.Suppressed) > 0 {
		log.Debug().Int("count", len(res.Suppressed)).Msg("kept optimistic registrations")
	}

	e.sweeper.Track(ctx, transitions)
	e.highlighter.Recompute()
	e.notifyMatches(ctx)
}

// LoadFailed puts the dashboard in its explicit error state.
func (e *Engine) LoadFailed(err error) {
	e.store.SetLoadError(err.Error())
	e.broadcaster.Broadcast(MessageLoadError, map[string]string{"error": err.Error()})
}

// notifyMatches fires the one-time redirect for every newly matched registration
// and retries redirects no viewer has received.
func (e *Engine) notifyMatches(ctx context.Context) {
	if e.gate == nil {
		return
	}
	for _, reg := range e.store.Registrations() {
		if !reg.Status.IsMatchOutcome() {
			continue
		}
		if !e.gate.ShouldFire(ctx, markers.KindMatched, reg.ParticipantID, reg.RoundID) {
			continue
		}

		payload := RedirectPayload{SessionID: reg.SessionID, RoundID: reg.RoundID, MatchID: reg.MatchID}
		if reg.Match != nil {
			payload.Partners = reg.Match.Partners(reg.ParticipantID)
			if payload.MatchID == "" {
				payload.MatchID = reg.Match.ID
			}
		}
		log.Info().
			Str("registration", reg.Key().String()).
			Str("match_id", payload.MatchID).
			Msg("registration matched")

		e.queueRedirect(reg.Key(), payload)
		e.publish(ctx, events.RegistrationMatched, reg.ParticipantID, reg.SessionID, reg.RoundID, events.RegistrationPayload{
			Status:   string(reg.Status),
			MatchID:  payload.MatchID,
			Partners: payload.Partners,
		})
	}
	e.flushRedirects()
}

func (e *Engine) queueRedirect(key models.RegistrationKey, payload RedirectPayload) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.pending {
		if p.key == key {
			return
		}
	}
	e.pending = append(e.pending, pendingRedirect{key: key, payload: payload})
}

// flushRedirects sends pending redirects. Without a Deliverer the send is
// fire-and-forget and the redirect is dropped from the queue either way.
func (e *Engine) flushRedirects() {
	e.mu.Lock()
	queued := append([]pendingRedirect(nil), e.pending...)
	e.mu.Unlock()
	if len(queued) == 0 {
		return
	}

	d, reliable := e.broadcaster.(Deliverer)
	delivered := make(map[models.RegistrationKey]bool, len(queued))
	for _, p := range queued {
		if !reliable {
			e.broadcaster.Broadcast(MessageRedirect, p.payload)
			delivered[p.key] = true
			continue
		}
		if d.Deliver(MessageRedirect, p.payload) {
			delivered[p.key] = true
		}
	}
	if len(delivered) < len(queued) {
		log.Debug().Int("count", len(queued)-len(delivered)).Msg("redirects waiting for a viewer")
	}
	e.dropRedirects(delivered)
}

func (e *Engine) dropRedirects(keys map[models.RegistrationKey]bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.pending[:0]
	for _, p := range e.pending {
		if !keys[p.key] {
			kept = append(kept, p)
		}
	}
	e.pending = kept
}

// TakeRedirects returns the pending redirects and clears them. Callers hand
// the result to a viewer that is guaranteed to receive it.
func (e *Engine) TakeRedirects() []RedirectPayload {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]RedirectPayload, len(e.pending))
	for i, p := range e.pending {
		out[i] = p.payload
	}
	e.pending = nil
	return out
}

func (e *Engine) publishTransitions(ts []lifecycle.Transition) {
	for _, t := range ts {
		var typ events.EventType
		switch t.To {
		case models.SessionStatusPublished:
			typ = events.SessionPublished
		case models.SessionStatusCompleted:
			typ = events.SessionCompleted
		default:
			continue
		}
		e.publish(context.Background(), typ, "", t.SessionID, "", events.SessionTransitionPayload{
			From: string(t.From),
			To:   string(t.To),
		})
	}
}

func (e *Engine) publish(ctx context.Context, t events.EventType, participantID, sessionID, roundID string, payload any) {
	ev, err := events.New(t, e.clock.Now(), payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to build event")
		return
	}
	ev.ParticipantID = participantID
	ev.SessionID = sessionID
	ev.RoundID = roundID
	if err := e.publisher.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event_type", string(t)).Msg("failed to publish event")
	}
}

// SetVisible forwards viewer visibility to the reconciliation loop.
func (e *Engine) SetVisible(visible bool) {
	if e.loop != nil {
		e.loop.SetVisible(visible)
	}
}

// PollNow requests an immediate reconciliation.
func (e *Engine) PollNow() {
	if e.loop != nil {
		e.loop.PollNow()
	}
}

// Simulate moves the simulated clock to target and re-evaluates everything
// time-driven.
func (e *Engine) Simulate(target time.Time) error {
	sim, ok := e.clock.(Simulator)
	if !ok {
		return fmt.Errorf("clock does not support simulation")
	}
	if err := sim.Set(target); err != nil {
		return err
	}
	e.sweeper.Trigger()
	e.highlighter.DataChanged()
	return nil
}

// ClearSimulation returns to real time.
func (e *Engine) ClearSimulation() error {
	sim, ok := e.clock.(Simulator)
	if !ok {
		return fmt.Errorf("clock does not support simulation")
	}
	if err := sim.Clear(); err != nil {
		return err
	}
	e.sweeper.Trigger()
	e.highlighter.DataChanged()
	return nil
}

// Run drives the loop, the sweeper and the highlighter until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if e.loop != nil {
		g.Go(func() error { return e.loop.Run(ctx) })
	}
	g.Go(func() error { return e.sweeper.Run(ctx) })
	g.Go(func() error { return e.highlighter.Run(ctx) })
	return g.Wait()
}
