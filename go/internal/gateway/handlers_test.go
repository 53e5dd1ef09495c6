package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcdev12/rendezvous/go/internal/backend"
	"github.com/mcdev12/rendezvous/go/internal/engine"
	"github.com/mcdev12/rendezvous/go/internal/models"
	"github.com/mcdev12/rendezvous/go/internal/mutation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockActions struct {
	mock.Mock
}

func (m *MockActions) Confirm(ctx context.Context, roundID string) (mutation.Outcome, error) {
	args := m.Called(ctx, roundID)
	return args.Get(0).(mutation.Outcome), args.Error(1)
}

func (m *MockActions) Register(ctx context.Context, in mutation.RegisterInput) (mutation.Outcome, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(mutation.Outcome), args.Error(1)
}

func (m *MockActions) Unregister(ctx context.Context, sessionID, roundID string) (mutation.Outcome, error) {
	args := m.Called(ctx, sessionID, roundID)
	return args.Get(0).(mutation.Outcome), args.Error(1)
}

type fakeEngine struct {
	mu        sync.Mutex
	view      engine.View
	polls     int
	simulated *time.Time
	setVis    []bool
}

func (f *fakeEngine) View() engine.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeEngine) PollNow() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
}

func (f *fakeEngine) SetVisible(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setVis = append(f.setVis, v)
}

func (f *fakeEngine) Simulate(target time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulated = &target
	f.view.Simulated = true
	f.view.Now = target
	return nil
}

func (f *fakeEngine) ClearSimulation() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulated = nil
	f.view.Simulated = false
	return nil
}

func (f *fakeEngine) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *fakeEngine) visibility() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.setVis...)
}

func newTestRouter(actions Actions, eng *fakeEngine) http.Handler {
	r := mux.NewRouter()
	NewHandlers(actions, eng, NewHub(DefaultHubConfig(), eng)).Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestConfirmRoute(t *testing.T) {
	actions := new(MockActions)
	key := models.RegistrationKey{ParticipantID: "p1", RoundID: "r1"}
	actions.On("Confirm", mock.Anything, "r1").Return(mutation.Outcome{Key: key, Status: models.RegistrationStatusConfirmed}, nil)

	rec, body := do(t, newTestRouter(actions, &fakeEngine{}), http.MethodPost, "/rounds/r1/confirm", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(models.RegistrationStatusConfirmed), body["status"])
	actions.AssertExpectations(t)
}

func TestRegisterRoutePassesBody(t *testing.T) {
	actions := new(MockActions)
	want := mutation.RegisterInput{SessionID: "s1", RoundID: "r2", Team: "blue", Topics: []string{"go", "rust"}}
	actions.On("Register", mock.Anything, want).Return(mutation.Outcome{Status: models.RegistrationStatusRegistered}, nil)

	rec, _ := do(t, newTestRouter(actions, &fakeEngine{}), http.MethodPost, "/rounds/r2/register",
		`{"sessionId":"s1","team":"blue","topics":["go","rust"]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	actions.AssertExpectations(t)
}

func TestUnregisterRouteReadsQuery(t *testing.T) {
	actions := new(MockActions)
	actions.On("Unregister", mock.Anything, "s1", "r3").Return(mutation.Outcome{Removed: true}, nil)

	rec, body := do(t, newTestRouter(actions, &fakeEngine{}), http.MethodDelete, "/rounds/r3/registration?sessionId=s1", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["removed"])
	actions.AssertExpectations(t)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "validation",
			err:        &mutation.ValidationError{Field: "roundId", Message: "round has ended"},
			wantStatus: http.StatusBadRequest,
			wantError:  "round has ended",
		},
		{
			name:       "not loaded",
			err:        mutation.ErrNotLoaded,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "backend client error",
			err:        fmt.Errorf("confirm: %w", &backend.APIError{StatusCode: http.StatusForbidden, Message: "not yours"}),
			wantStatus: http.StatusForbidden,
			wantError:  "not yours",
		},
		{
			name:       "backend server error",
			err:        &backend.APIError{StatusCode: http.StatusInternalServerError, Message: "boom"},
			wantStatus: http.StatusBadGateway,
			wantError:  "boom",
		},
		{
			name:       "network",
			err:        fmt.Errorf("dial tcp: connection refused"),
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actions := new(MockActions)
			actions.On("Confirm", mock.Anything, "r1").Return(mutation.Outcome{}, tt.err)

			rec, body := do(t, newTestRouter(actions, &fakeEngine{}), http.MethodPost, "/rounds/r1/confirm", "")

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
			}
		})
	}
}

func TestValidationErrorCarriesField(t *testing.T) {
	actions := new(MockActions)
	actions.On("Register", mock.Anything, mock.Anything).
		Return(mutation.Outcome{}, &mutation.ValidationError{Field: "sessionId", Message: "required"})

	rec, body := do(t, newTestRouter(actions, &fakeEngine{}), http.MethodPost, "/rounds/r1/register", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "sessionId", body["details"])
}

func TestInvalidJSONBody(t *testing.T) {
	actions := new(MockActions)

	rec, _ := do(t, newTestRouter(actions, &fakeEngine{}), http.MethodPost, "/rounds/r1/register", `{"sessionId":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	actions.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
}

func TestSyncSchedulesPoll(t *testing.T) {
	eng := &fakeEngine{}

	rec, _ := do(t, newTestRouter(new(MockActions), eng), http.MethodPost, "/sync", "")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, eng.pollCount())
}

func TestClockRoutes(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestRouter(new(MockActions), eng)

	rec, _ := do(t, h, http.MethodPut, "/clock", `{"at":"2024-01-10T18:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, eng.simulated)
	assert.True(t, eng.simulated.Equal(time.Date(2024, 1, 10, 18, 0, 0, 0, time.UTC)))

	rec, _ = do(t, h, http.MethodPut, "/clock", `{"at":"tomorrow"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := do(t, h, http.MethodDelete, "/clock", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["simulated"])
	assert.Nil(t, eng.simulated)
}

func TestHealthReflectsLoad(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestRouter(new(MockActions), eng)

	rec, _ := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	eng.view.Loaded = true
	rec, body := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["loaded"])
}

func TestDashboardReturnsView(t *testing.T) {
	eng := &fakeEngine{view: engine.View{Loaded: true, Version: 7}}

	rec, body := do(t, newTestRouter(new(MockActions), eng), http.MethodGet, "/dashboard", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 7, body["version"])
}
