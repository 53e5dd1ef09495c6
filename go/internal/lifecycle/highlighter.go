package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/rendezvous/go/internal/clock"
	"github.com/mcdev12/rendezvous/go/internal/models"
	"github.com/rs/zerolog/log"
)

// SnapshotSource returns the current sessions and registrations.
type SnapshotSource interface {
	Sessions() []models.Session
	Registrations() []models.Registration
}

// ModeNotifier reports switches between real and simulated time.
type ModeNotifier interface {
	OnChange(fn func(simulated bool))
}

// Highlighter keeps the "next upcoming round" current. It recomputes on every data
// change, and on a one second tick only while the clock is simulated: in real time
// the value only moves when a round starts or ends, which data changes and the
// reconciliation loop already cover.
type Highlighter struct {
	source SnapshotSource
	clock  clock.Source
	loc    *time.Location
	tick   time.Duration

	changedCh chan struct{}
	modeCh    chan bool

	mu        sync.Mutex
	current   RoundRef
	ok        bool
	listeners []func(RoundRef, bool)
}

func NewHighlighter(source SnapshotSource, clk clock.Source, loc *time.Location, tick time.Duration) *Highlighter {
	if loc == nil {
		loc = time.UTC
	}
	if tick <= 0 {
		tick = time.Second
	}
	h := &Highlighter{
		source:    source,
		clock:     clk,
		loc:       loc,
		tick:      tick,
		changedCh: make(chan struct{}, 1),
		modeCh:    make(chan bool, 1),
	}
	if n, ok := clk.(ModeNotifier); ok {
		n.OnChange(func(simulated bool) {
			// Keep only the latest mode.
			for {
				select {
				case h.modeCh <- simulated:
					return
				default:
				}
				select {
				case <-h.modeCh:
				default:
				}
			}
		})
	}
	return h
}

// OnChange registers fn to receive the new value whenever it changes.
func (h *Highlighter) OnChange(fn func(ref RoundRef, ok bool)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// DataChanged schedules a recompute.
func (h *Highlighter) DataChanged() {
	select {
	case h.changedCh <- struct{}{}:
	default:
	}
}

// Current returns the last computed value.
func (h *Highlighter) Current() (RoundRef, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current, h.ok
}

// Recompute evaluates NextUpcoming now and notifies listeners on change.
func (h *Highlighter) Recompute() (RoundRef, bool) {
	ref, ok := NextUpcoming(h.source.Sessions(), h.source.Registrations(), h.clock.Now(), h.loc)

	h.mu.Lock()
	changed := ok != h.ok || !sameRef(ref, h.current)
	h.current, h.ok = ref, ok
	listeners := h.listeners
	h.mu.Unlock()

	if changed {
		log.Debug().
			Bool("found", ok).
			Str("session_id", ref.SessionID).
			Str("round_id", ref.RoundID).
			Time("starts_at", ref.StartsAt).
			Msg("next upcoming round changed")
		for _, fn := range listeners {
			fn(ref, ok)
		}
	}
	return ref, ok
}

// Run recomputes until ctx is done.
func (h *Highlighter) Run(ctx context.Context) error {
	var ticker clockwork.Ticker
	var tickCh <-chan time.Time
	startTicking := func() {
		if ticker == nil {
			ticker = h.clock.NewTicker(h.tick)
			tickCh = ticker.Chan()
		}
	}
	stopTicking := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tickCh = nil, nil
		}
	}
	defer stopTicking()

	if h.clock.IsSimulated() {
		startTicking()
	}
	h.Recompute()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.changedCh:
			h.Recompute()
		case simulated := <-h.modeCh:
			if simulated {
				startTicking()
			} else {
				stopTicking()
			}
			h.Recompute()
		case <-tickCh:
			h.Recompute()
		}
	}
}

func sameRef(a, b RoundRef) bool {
	return a.SessionID == b.SessionID && a.RoundID == b.RoundID && a.StartsAt.Equal(b.StartsAt)
}
