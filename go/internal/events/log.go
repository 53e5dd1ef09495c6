package events

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogPublisher writes events to the log. Used when no NATS URL is configured.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.Type)).
		Str("participant_id", event.ParticipantID).
		Str("session_id", event.SessionID).
		Str("round_id", event.RoundID).
		RawJSON("payload", orEmpty(event.Payload)).
		Msg("event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }

func orEmpty(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}
