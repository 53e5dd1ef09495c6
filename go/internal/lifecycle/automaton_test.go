package lifecycle

import (
	"testing"
	"time"

	"github.com/mcdev12/rendezvous/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvanceSessions_PublishesWhenRegistrationOpens(t *testing.T) {
	sessions := []models.Session{{
		ID:                "s1",
		Date:              "2024-01-10",
		RegistrationStart: "2024-01-01",
		Status:            models.SessionStatusScheduled,
	}}

	ts := AdvanceSessions(sessions, at("2024-01-01", "00:00"), time.UTC)

	require.Len(t, ts, 1)
	assert.Equal(t, models.SessionStatusPublished, sessions[0].Status)
	assert.Equal(t, Transition{
		SessionID: "s1",
		From:      models.SessionStatusScheduled,
		To:        models.SessionStatusPublished,
		At:        at("2024-01-01", "00:00"),
	}, ts[0])
}

func TestAdvanceSessions_WaitsForRegistrationStart(t *testing.T) {
	sessions := []models.Session{{ID: "s1", Date: "2024-01-10", RegistrationStart: "2024-01-01", Status: models.SessionStatusScheduled}}

	ts := AdvanceSessions(sessions, at("2023-12-31", "23:59"), time.UTC)

	assert.Empty(t, ts)
	assert.Equal(t, models.SessionStatusScheduled, sessions[0].Status)
}

func TestAdvanceSessions_CompletesAfterEndTime(t *testing.T) {
	sessions := []models.Session{{ID: "s1", Date: "2024-01-10", EndTime: "18:00", Status: models.SessionStatusPublished}}

	assert.Empty(t, AdvanceSessions(sessions, at("2024-01-10", "17:59"), time.UTC))
	ts := AdvanceSessions(sessions, at("2024-01-10", "18:00"), time.UTC)

	require.Len(t, ts, 1)
	assert.Equal(t, models.SessionStatusCompleted, sessions[0].Status)
}

func TestAdvanceSessions_WithoutEndTimeNeverCompletes(t *testing.T) {
	sessions := []models.Session{{ID: "s1", Date: "2024-01-10", Status: models.SessionStatusPublished}}

	assert.Empty(t, AdvanceSessions(sessions, at("2030-01-01", "00:00"), time.UTC))
	assert.Equal(t, models.SessionStatusPublished, sessions[0].Status)
}

func TestAdvanceSessions_ChainsThroughPublished(t *testing.T) {
	sessions := []models.Session{{
		ID:                "s1",
		Date:              "2024-01-10",
		RegistrationStart: "2024-01-01",
		EndTime:           "18:00",
		Status:            models.SessionStatusScheduled,
	}}

	ts := AdvanceSessions(sessions, at("2024-01-11", "09:00"), time.UTC)

	require.Len(t, ts, 2)
	assert.Equal(t, models.SessionStatusPublished, ts[0].To)
	assert.Equal(t, models.SessionStatusCompleted, ts[1].To)
	assert.Equal(t, models.SessionStatusCompleted, sessions[0].Status)
}

func TestAdvanceSessions_LeavesManualStatesAlone(t *testing.T) {
	sessions := []models.Session{
		{ID: "draft", Date: "2024-01-10", RegistrationStart: "2024-01-01", EndTime: "18:00", Status: models.SessionStatusDraft},
		{ID: "done", Date: "2024-01-10", RegistrationStart: "2024-01-01", EndTime: "18:00", Status: models.SessionStatusCompleted},
	}

	assert.Empty(t, AdvanceSessions(sessions, at("2030-01-01", "00:00"), time.UTC))
	assert.Equal(t, models.SessionStatusDraft, sessions[0].Status)
	assert.Equal(t, models.SessionStatusCompleted, sessions[1].Status)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, canTransition(models.SessionStatusScheduled, models.SessionStatusPublished))
	assert.True(t, canTransition(models.SessionStatusPublished, models.SessionStatusCompleted))
	assert.False(t, canTransition(models.SessionStatusDraft, models.SessionStatusScheduled))
	assert.False(t, canTransition(models.SessionStatusCompleted, models.SessionStatusPublished))
	assert.False(t, canTransition(models.SessionStatusPublished, models.SessionStatusScheduled))
}
