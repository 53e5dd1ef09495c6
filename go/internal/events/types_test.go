package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEncodesPayload(t *testing.T) {
	at := time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC)
	ev, err := New(RegistrationMatched, at, RegistrationPayload{Status: "matched", Partners: []string{"p2"}})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, ev.ID)
	assert.Equal(t, at, ev.OccurredAt)

	var payload RegistrationPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, []string{"p2"}, payload.Partners)
}

func TestNewWithoutPayload(t *testing.T) {
	ev, err := New(SessionPublished, time.Now(), nil)
	require.NoError(t, err)
	assert.Nil(t, ev.Payload)
	assert.NoError(t, NewLogPublisher().Publish(context.Background(), ev))
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "rounds.events.registration.matched", Subject("rounds.events", RegistrationMatched))
}
