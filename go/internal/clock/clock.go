// Package clock supplies "now" to every time-driven component. Nothing else in the
// engine reads system time directly, so tests and operators can move time.
package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Source is the interface every automaton consumes time through.
type Source interface {
	Now() time.Time
	NewTicker(d time.Duration) clockwork.Ticker
	IsSimulated() bool
	// Wall is the base clock without any simulated offset. Timestamps the
	// backend produces are on this clock.
	Wall() time.Time
}

// Real reads the wall clock. In tests, wrap a clockwork.FakeClock.
type Real struct {
	base clockwork.Clock
}

func NewReal(base clockwork.Clock) *Real {
	if base == nil {
		base = clockwork.NewRealClock()
	}
	return &Real{base: base}
}

func (r *Real) Now() time.Time                             { return r.base.Now() }
func (r *Real) NewTicker(d time.Duration) clockwork.Ticker { return r.base.NewTicker(d) }
func (r *Real) IsSimulated() bool                          { return false }
func (r *Real) Wall() time.Time                            { return r.base.Now() }

// Simulated is the wall clock plus an operator-set offset. With no offset set it
// behaves exactly like Real. The offset is persisted so simulation survives restarts.
type Simulated struct {
	base  clockwork.Clock
	store OffsetStore

	mu        sync.RWMutex
	offset    time.Duration
	active    bool
	listeners []func(simulated bool)
}

// NewSimulated restores any persisted offset from store.
func NewSimulated(base clockwork.Clock, store OffsetStore) (*Simulated, error) {
	if base == nil {
		base = clockwork.NewRealClock()
	}
	if store == nil {
		store = NewMemoryOffsetStore()
	}
	s := &Simulated{base: base, store: store}

	offset, ok, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load clock offset: %w", err)
	}
	if ok {
		s.offset = offset
		s.active = true
		log.Info().Dur("offset", offset).Time("now", s.Now()).Msg("restored simulated clock")
	}
	return s, nil
}

func (s *Simulated) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.base.Now()
	if s.active {
		return now.Add(s.offset)
	}
	return now
}

// NewTicker ticks at real speed; simulated time advances at the same rate.
func (s *Simulated) NewTicker(d time.Duration) clockwork.Ticker {
	return s.base.NewTicker(d)
}

func (s *Simulated) Wall() time.Time { return s.base.Now() }

func (s *Simulated) IsSimulated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Offset returns the current offset and whether simulation is active.
func (s *Simulated) Offset() (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset, s.active
}

// Set makes Now() return target at this instant and keep advancing from there.
func (s *Simulated) Set(target time.Time) error {
	offset := target.Sub(s.base.Now())
	if err := s.store.Save(offset); err != nil {
		return fmt.Errorf("failed to persist clock offset: %w", err)
	}

	s.mu.Lock()
	s.offset = offset
	s.active = true
	listeners := append([]func(bool){}, s.listeners...)
	s.mu.Unlock()

	log.Info().Time("target", target).Dur("offset", offset).Msg("simulated clock set")
	for _, fn := range listeners {
		fn(true)
	}
	return nil
}

// Clear returns to real time.
func (s *Simulated) Clear() error {
	if err := s.store.Clear(); err != nil {
		return fmt.Errorf("failed to clear clock offset: %w", err)
	}

	s.mu.Lock()
	wasActive := s.active
	s.offset = 0
	s.active = false
	listeners := append([]func(bool){}, s.listeners...)
	s.mu.Unlock()

	if wasActive {
		log.Info().Msg("simulated clock cleared")
	}
	for _, fn := range listeners {
		fn(false)
	}
	return nil
}

// OnChange registers fn to run after every Set or Clear.
func (s *Simulated) OnChange(fn func(simulated bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}
