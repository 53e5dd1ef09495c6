package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcdev12/rendezvous/go/internal/backend"
	"github.com/mcdev12/rendezvous/go/internal/engine"
	"github.com/mcdev12/rendezvous/go/internal/mutation"
	"github.com/rs/zerolog/log"
)

// Actions are the participant mutations.
type Actions interface {
	Confirm(ctx context.Context, roundID string) (mutation.Outcome, error)
	Register(ctx context.Context, in mutation.RegisterInput) (mutation.Outcome, error)
	Unregister(ctx context.Context, sessionID, roundID string) (mutation.Outcome, error)
}

// Engine is the read side and the operator controls.
type Engine interface {
	View() engine.View
	PollNow()
	Simulate(target time.Time) error
	ClearSimulation() error
}

type Handlers struct {
	actions Actions
	engine  Engine
	hub     *Hub
}

func NewHandlers(actions Actions, eng Engine, hub *Hub) *Handlers {
	return &Handlers{actions: actions, engine: eng, hub: hub}
}

// Routes registers every gateway route on r.
func (h *Handlers) Routes(r *mux.Router) {
	r.HandleFunc("/ws", h.HandleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/dashboard", h.GetDashboard).Methods(http.MethodGet)
	r.HandleFunc("/rounds/{roundID}/confirm", h.Confirm).Methods(http.MethodPost)
	r.HandleFunc("/rounds/{roundID}/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/rounds/{roundID}/registration", h.Unregister).Methods(http.MethodDelete)
	r.HandleFunc("/sync", h.Sync).Methods(http.MethodPost)
	r.HandleFunc("/clock", h.SetClock).Methods(http.MethodPut)
	r.HandleFunc("/clock", h.ClearClock).Methods(http.MethodDelete)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
}

func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := h.hub.Upgrade(w, r); err != nil {
		log.Error().Err(err).Msg("failed to upgrade viewer connection")
	}
}

// GetDashboard handles GET /dashboard
func (h *Handlers) GetDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.View())
}

// Confirm handles POST /rounds/{roundID}/confirm
func (h *Handlers) Confirm(w http.ResponseWriter, r *http.Request) {
	out, err := h.actions.Confirm(r.Context(), mux.Vars(r)["roundID"])
	h.respond(w, out, err)
}

type registerBody struct {
	SessionID string   `json:"sessionId"`
	Team      string   `json:"team,omitempty"`
	Topic     string   `json:"topic,omitempty"`
	Topics    []string `json:"topics,omitempty"`
}

// Register handles POST /rounds/{roundID}/register
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if !decodeOptional(w, r, &body) {
		return
	}
	out, err := h.actions.Register(r.Context(), mutation.RegisterInput{
		SessionID: body.SessionID,
		RoundID:   mux.Vars(r)["roundID"],
		Team:      body.Team,
		Topic:     body.Topic,
		Topics:    body.Topics,
	})
	h.respond(w, out, err)
}

// Unregister handles DELETE /rounds/{roundID}/registration?sessionId=
func (h *Handlers) Unregister(w http.ResponseWriter, r *http.Request) {
	out, err := h.actions.Unregister(r.Context(), r.URL.Query().Get("sessionId"), mux.Vars(r)["roundID"])
	h.respond(w, out, err)
}

// Sync handles POST /sync
func (h *Handlers) Sync(w http.ResponseWriter, r *http.Request) {
	h.engine.PollNow()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

type clockBody struct {
	At time.Time `json:"at"`
}

// SetClock handles PUT /clock
func (h *Handlers) SetClock(w http.ResponseWriter, r *http.Request) {
	var body clockBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.At.IsZero() {
		writeError(w, http.StatusBadRequest, "at must be an RFC 3339 timestamp", "")
		return
	}
	if err := h.engine.Simulate(body.At); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"simulated": true, "now": h.engine.View().Now})
}

// ClearClock handles DELETE /clock
func (h *Handlers) ClearClock(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ClearSimulation(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"simulated": false})
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	view := h.engine.View()
	status := http.StatusOK
	if !view.Loaded {
		status = http.StatusServiceUnavailable
	}
	resp := map[string]any{
		"loaded":     view.Loaded,
		"lastSyncAt": view.LastSyncAt,
		"simulated":  view.Simulated,
	}
	if h.hub != nil {
		resp["viewers"] = h.hub.Stats()
	}
	writeJSON(w, status, resp)
}

// respond maps the error taxonomy onto HTTP: validation is the caller's fault,
// backend errors keep their message, anything else is an upstream failure.
func (h *Handlers) respond(w http.ResponseWriter, out mutation.Outcome, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, out)
		return
	}

	var verr *mutation.ValidationError
	var apiErr *backend.APIError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Message, verr.Field)
	case errors.Is(err, mutation.ErrNotLoaded):
		writeError(w, http.StatusServiceUnavailable, err.Error(), "")
	case errors.As(err, &apiErr):
		status := apiErr.StatusCode
		if status < 400 || status >= 500 {
			status = http.StatusBadGateway
		}
		writeError(w, status, apiErr.Message, apiErr.Details)
	default:
		writeError(w, http.StatusBadGateway, err.Error(), "")
	}
}

// decodeOptional decodes a JSON body when one is present.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return false
	}
	return true
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, errorBody{Error: msg, Details: details})
}
