package dashboard

import (
	"time"

	"github.com/mcdev12/rendezvous/go/internal/models"
)

// Participant identifies the viewer the dashboard belongs to.
type Participant struct {
	ID        string `json:"participantId"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// Snapshot is one authoritative dashboard read.
type Snapshot struct {
	Participant   Participant
	Sessions      []models.Session
	Registrations []models.Registration
	// IssuedAt is when the request was sent, on the engine clock.
	IssuedAt time.Time
}

// Action names an optimistic mutation.
type Action string

const (
	ActionConfirm    Action = "confirm"
	ActionRegister   Action = "register"
	ActionUnregister Action = "unregister"
)

// LocalWrite records an optimistic change that reconciliation must not clobber
// until the backend has caught up or the suppression window has passed.
type LocalWrite struct {
	Action  Action                    `json:"action"`
	Status  models.RegistrationStatus `json:"status,omitempty"`
	Removed bool                      `json:"removed,omitempty"`
	At      time.Time                 `json:"at"`
	// RealAt is At on the wall clock, comparable with backend updatedAt stamps
	// even while the engine clock is simulated.
	RealAt  time.Time                 `json:"realAt"`
	Window  time.Duration             `json:"window"`

	// prev is the registration before the write, nil if there was none.
	prev *models.Registration
}

// Protects reports whether the suppression window is still open at now.
func (w LocalWrite) Protects(now time.Time) bool {
	return now.Before(w.At.Add(w.Window))
}

// State is everything the engine tracks for one participant.
type State struct {
	Participant   Participant           `json:"participant"`
	Sessions      []models.Session      `json:"sessions"`
	Registrations []models.Registration `json:"registrations"`
	Loaded        bool                  `json:"loaded"`
	LoadError     string                `json:"loadError,omitempty"`
	LastSyncAt    time.Time             `json:"lastSyncAt,omitempty"`
	Version       uint64                `json:"version"`
}

// MergeResult reports what reconciliation did with each contested registration.
type MergeResult struct {
	Suppressed   []models.RegistrationKey
	Acknowledged []models.RegistrationKey
	Expired      []models.RegistrationKey
}
