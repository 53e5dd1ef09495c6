// Package dashboard owns the participant's local view of sessions, rounds and
// registrations. Both the reconciliation loop and the mutation coordinator write
// through one Store, so their updates never interleave on the same collection.
package dashboard

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/mcdev12/rendezvous/go/internal/clock"
	"github.com/mcdev12/rendezvous/go/internal/lifecycle"
	"github.com/mcdev12/rendezvous/go/internal/models"
)

var ErrRegistrationNotFound = errors.New("registration not found")

// Store is the single writer for dashboard state.
type Store struct {
	mu        sync.RWMutex
	state     State
	writes    map[models.RegistrationKey]LocalWrite
	listeners []func(State)
	wall      func() time.Time
}

type Option func(*Store)

// WithClock stamps every local write with clk's wall time as well. Without it
// the engine time of the write is used for both.
func WithClock(clk clock.Source) Option {
	return func(s *Store) { s.wall = clk.Wall }
}

func NewStore(opts ...Option) *Store {
	s := &Store{writes: make(map[models.RegistrationKey]LocalWrite)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) realAt(at time.Time) time.Time {
	if s.wall == nil {
		return at
	}
	return s.wall()
}

// Subscribe registers fn to receive a copy of the state after every change.
func (s *Store) Subscribe(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

func (s *Store) Sessions() []models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.Sessions)
}

func (s *Store) Registrations() []models.Registration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.Registrations)
}

func (s *Store) Participant() Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Participant
}

func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Loaded
}

// Registration looks up one registration.
func (s *Store) Registration(key models.RegistrationKey) (models.Registration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexLocked(key)
	if i < 0 {
		return models.Registration{}, false
	}
	return s.state.Registrations[i], true
}

// Round finds a round and its session.
func (s *Store) Round(roundID string) (models.Session, models.Round, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.state.Sessions {
		if r, ok := sess.Round(roundID); ok {
			return sess, r, true
		}
	}
	return models.Session{}, models.Round{}, false
}

// LocalWrite returns the optimistic write recorded for key, if any.
func (s *Store) LocalWrite(key models.RegistrationKey) (LocalWrite, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.writes[key]
	return w, ok
}

// ApplyTransitions implements lifecycle.SessionStore.
func (s *Store) ApplyTransitions(ts []lifecycle.Transition) []lifecycle.Transition {
	var applied []lifecycle.Transition
	s.update(func(st *State) {
		for _, t := range ts {
			for i := range st.Sessions {
				if st.Sessions[i].ID == t.SessionID && st.Sessions[i].Status == t.From {
					st.Sessions[i].Status = t.To
					applied = append(applied, t)
				}
			}
		}
	}, func() bool { return len(applied) > 0 })
	return applied
}

// SetStatus optimistically sets a registration's status and records the write.
func (s *Store) SetStatus(key models.RegistrationKey, status models.RegistrationStatus, action Action, at time.Time, window time.Duration) error {
	var err error
	s.update(func(st *State) {
		i := s.indexLocked(key)
		if i < 0 {
			err = ErrRegistrationNotFound
			return
		}
		prev := st.Registrations[i]
		st.Registrations[i].Status = status
		s.writes[key] = LocalWrite{Action: action, Status: status, At: at, RealAt: s.realAt(at), Window: window, prev: &prev}
	}, func() bool { return err == nil })
	return err
}

// Insert optimistically adds (or replaces) a registration and records the write.
func (s *Store) Insert(reg models.Registration, action Action, at time.Time, window time.Duration) {
	key := reg.Key()
	s.update(func(st *State) {
		var prev *models.Registration
		if i := s.indexLocked(key); i >= 0 {
			old := st.Registrations[i]
			prev = &old
			st.Registrations[i] = reg
		} else {
			st.Registrations = append(st.Registrations, reg)
		}
		s.writes[key] = LocalWrite{Action: action, Status: reg.Status, At: at, RealAt: s.realAt(at), Window: window, prev: prev}
	}, nil)
}

// Remove optimistically deletes a registration and records a tombstone write.
func (s *Store) Remove(key models.RegistrationKey, action Action, at time.Time, window time.Duration) {
	s.update(func(st *State) {
		var prev *models.Registration
		if i := s.indexLocked(key); i >= 0 {
			old := st.Registrations[i]
			prev = &old
			st.Registrations = slices.Delete(st.Registrations, i, i+1)
		}
		s.writes[key] = LocalWrite{Action: action, Removed: true, At: at, RealAt: s.realAt(at), Window: window, prev: prev}
	}, nil)
}

// ApplyCanonical stores the backend's post-mutation record. The local write keeps
// its timestamp but now protects the canonical value.
func (s *Store) ApplyCanonical(reg models.Registration) {
	key := reg.Key()
	s.update(func(st *State) {
		if i := s.indexLocked(key); i >= 0 {
			st.Registrations[i] = reg
		} else {
			st.Registrations = append(st.Registrations, reg)
		}
		if w, ok := s.writes[key]; ok {
			w.Status = reg.Status
			w.Removed = false
			s.writes[key] = w
		}
	}, nil)
}

// ApplyCanonicalStatus is ApplyCanonical for responses that carry only a status.
func (s *Store) ApplyCanonicalStatus(key models.RegistrationKey, status models.RegistrationStatus) error {
	s.mu.RLock()
	i := s.indexLocked(key)
	var reg models.Registration
	if i >= 0 {
		reg = s.state.Registrations[i]
	}
	s.mu.RUnlock()
	if i < 0 {
		return ErrRegistrationNotFound
	}
	reg.Status = status
	s.ApplyCanonical(reg)
	return nil
}

// DropWrite forgets an optimistic write so the next merge applies backend state.
func (s *Store) DropWrite(key models.RegistrationKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.writes, key)
}

// Revert undoes an optimistic write, restoring the registration it replaced.
func (s *Store) Revert(key models.RegistrationKey) {
	s.update(func(st *State) {
		w, ok := s.writes[key]
		if !ok {
			return
		}
		delete(s.writes, key)
		i := s.indexLocked(key)
		switch {
		case w.prev != nil && i >= 0:
			st.Registrations[i] = *w.prev
		case w.prev != nil:
			st.Registrations = append(st.Registrations, *w.prev)
		case i >= 0:
			st.Registrations = slices.Delete(st.Registrations, i, i+1)
		}
	}, nil)
}

// Merge folds an authoritative snapshot into local state. after runs under the same
// lock, so derived updates (session transitions) land in the same version.
func (s *Store) Merge(snap Snapshot, now time.Time, after func(st *State)) MergeResult {
	var res MergeResult
	s.update(func(st *State) {
		var merged []models.Registration
		merged, res = mergeRegistrations(st.Registrations, snap.Registrations, s.writes, snap.IssuedAt, now)

		st.Participant = snap.Participant
		st.Sessions = slices.Clone(snap.Sessions)
		st.Registrations = merged
		st.Loaded = true
		st.LoadError = ""
		st.LastSyncAt = now
		if after != nil {
			after(st)
		}
	}, nil)
	return res
}

// SetLoadError records a failed load. Cached state stays intact.
func (s *Store) SetLoadError(msg string) {
	s.update(func(st *State) {
		st.LoadError = msg
	}, nil)
}

// update runs fn under the write lock and, when changed reports true (or is nil),
// bumps the version and notifies subscribers outside the lock.
func (s *Store) update(fn func(st *State), changed func() bool) {
	s.mu.Lock()
	fn(&s.state)
	if changed != nil && !changed() {
		s.mu.Unlock()
		return
	}
	s.state.Version++
	snapshot := s.copyLocked()
	listeners := s.listeners
	s.mu.Unlock()

	for _, l := range listeners {
		l(snapshot)
	}
}

func (s *Store) indexLocked(key models.RegistrationKey) int {
	for i, reg := range s.state.Registrations {
		if reg.ParticipantID == key.ParticipantID && reg.RoundID == key.RoundID {
			return i
		}
	}
	return -1
}

func (s *Store) copyLocked() State {
	st := s.state
	st.Sessions = slices.Clone(s.state.Sessions)
	st.Registrations = slices.Clone(s.state.Registrations)
	return st
}
