// Package markers provides durable one-shot markers keyed by
// (kind, participant, round). They back both mutation idempotency and the
// one-time notification gate.
package markers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Kind namespaces markers.
type Kind string

const (
	KindConfirm    Kind = "confirm"
	KindRegister   Kind = "register"
	KindUnregister Kind = "unregister"
	KindMatched    Kind = "matched"
)

var ErrUnknownBackend = errors.New("unknown marker backend")

// Key identifies one marker.
type Key struct {
	Kind          Kind
	ParticipantID string
	RoundID       string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Kind, k.ParticipantID, k.RoundID)
}

// Store persists markers. SetIfAbsent must be atomic: of two concurrent callers
// for the same key exactly one observes true.
type Store interface {
	SetIfAbsent(ctx context.Context, key Key, at time.Time) (bool, error)
	Exists(ctx context.Context, key Key) (bool, error)
	Delete(ctx context.Context, key Key) error
	// Evict removes markers set before the cutoff and returns how many were removed.
	Evict(ctx context.Context, before time.Time) (int64, error)
}

// MemoryStore keeps markers for the lifetime of the process.
type MemoryStore struct {
	mu      sync.Mutex
	markers map[Key]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{markers: make(map[Key]time.Time)}
}

func (m *MemoryStore) SetIfAbsent(_ context.Context, key Key, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.markers[key]; ok {
		return false, nil
	}
	m.markers[key] = at
	return true, nil
}

func (m *MemoryStore) Exists(_ context.Context, key Key) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.markers[key]
	return ok, nil
}

func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.markers, key)
	return nil
}

func (m *MemoryStore) Evict(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, at := range m.markers {
		if at.Before(before) {
			delete(m.markers, k)
			n++
		}
	}
	return n, nil
}
