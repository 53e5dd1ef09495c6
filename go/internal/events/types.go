// Package events publishes lifecycle and notification events for other services.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	SessionPublished         EventType = "session.published"
	SessionCompleted         EventType = "session.completed"
	RegistrationConfirmed    EventType = "registration.confirmed"
	RegistrationRegistered   EventType = "registration.registered"
	RegistrationUnregistered EventType = "registration.unregistered"
	RegistrationMatched      EventType = "registration.matched"
)

type Event struct {
	ID            uuid.UUID       `json:"eventId"`
	Type          EventType       `json:"eventType"`
	ParticipantID string          `json:"participantId,omitempty"`
	SessionID     string          `json:"sessionId,omitempty"`
	RoundID       string          `json:"roundId,omitempty"`
	OccurredAt    time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// New builds an event with a fresh ID. payload may be nil.
func New(t EventType, occurredAt time.Time, payload any) (Event, error) {
	ev := Event{ID: uuid.New(), Type: t, OccurredAt: occurredAt}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		ev.Payload = data
	}
	return ev, nil
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// SessionTransitionPayload accompanies session.* events.
type SessionTransitionPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// RegistrationPayload accompanies registration.* events.
type RegistrationPayload struct {
	Status   string   `json:"status,omitempty"`
	MatchID  string   `json:"matchId,omitempty"`
	Partners []string `json:"partners,omitempty"`
}
