package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mcdev12/rendezvous/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "tok-1", "secret")
}

func TestDashboardFollowsTokenRedirect(t *testing.T) {
	var paths []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/participant/tok-1/dashboard":
			_ = json.NewEncoder(w).Encode(map[string]any{"redirect": true, "correctToken": "tok-2"})
		case "/participant/tok-2/dashboard":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"participantId": "p1",
				"email":         "ada@example.com",
				"sessions":      []map[string]any{{"id": "s1", "date": "2024-01-10", "status": "published"}},
				"registrations": []map[string]any{{"participantId": "p1", "roundId": "r1", "sessionId": "s1", "status": "registered"}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	snap, err := client.Dashboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/participant/tok-1/dashboard", "/participant/tok-2/dashboard"}, paths)
	assert.Equal(t, "tok-2", client.Token())
	assert.Equal(t, "p1", snap.Participant.ID)
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, models.SessionStatusPublished, snap.Sessions[0].Status)
	require.Len(t, snap.Registrations, 1)
	assert.Equal(t, models.RegistrationStatusRegistered, snap.Registrations[0].Status)
}

func TestDashboardRedirectLoop(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"redirect": true, "correctToken": "again"})
	})
	_, err := client.Dashboard(context.Background())
	assert.ErrorIs(t, err, ErrRedirectLoop)
}

func TestConfirmReturnsCanonicalStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/participant/tok-1/confirm/r1", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "s1", body["sessionId"])
		_, _ = w.Write([]byte(`{"status":"matched"}`))
	})

	status, err := client.Confirm(context.Background(), "s1", "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusMatched, status)
}

func TestErrorBodyBecomesAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Team is required","details":"team"}`))
	})

	_, err := client.Register(context.Background(), RegisterRequest{SessionID: "s1", RoundID: "r1"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "Team is required", apiErr.Message)
	assert.Equal(t, "team", apiErr.Details)
	assert.False(t, IsTransient(err))
}

func TestUnregisterAndSessionStatus(t *testing.T) {
	var got []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
		if r.Method == http.MethodPut {
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "completed", body["status"])
		}
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.Unregister(context.Background(), "s1", "r1"))
	require.NoError(t, client.UpdateSessionStatus(context.Background(), "s1", models.SessionStatusCompleted))
	assert.Equal(t, []string{
		"DELETE /participant/tok-1/unregister/r1?sessionId=s1",
		"PUT /sessions/s1?",
	}, got)
}

func TestServerErrorIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := client.Dashboard(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
