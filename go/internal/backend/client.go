// Package backend talks to the authoritative event backend over JSON/HTTP.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/mcdev12/rendezvous/go/clients"
	"github.com/mcdev12/rendezvous/go/internal/dashboard"
	"github.com/mcdev12/rendezvous/go/internal/models"
	"github.com/rs/zerolog/log"
)

type APIError = clients.APIError

var ErrRedirectLoop = errors.New("participant token redirected more than once")

// IsTransient reports errors the next reconciliation cycle should retry.
func IsTransient(err error) bool {
	return clients.IsTransient(err)
}

// Client is bound to one participant token. A superseded token is replaced the
// first time the backend redirects.
type Client struct {
	*clients.BaseClient

	mu    sync.RWMutex
	token string
}

func NewClient(baseURL, token, bearer string) *Client {
	c := &Client{
		BaseClient: clients.NewBaseClient(baseURL),
		token:      token,
	}
	if bearer != "" {
		c.SetHeader("Authorization", "Bearer "+bearer)
	}
	return c
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) participantPath(format string, args ...any) string {
	return "/participant/" + url.PathEscape(c.Token()) + fmt.Sprintf(format, args...)
}

type dashboardResponse struct {
	Redirect      bool                  `json:"redirect"`
	CorrectToken  string                `json:"correctToken"`
	ParticipantID string                `json:"participantId"`
	Email         string                `json:"email"`
	FirstName     string                `json:"firstName"`
	LastName      string                `json:"lastName"`
	Sessions      []models.Session      `json:"sessions"`
	Registrations []models.Registration `json:"registrations"`
}

// Dashboard fetches the participant's sessions and registrations.
func (c *Client) Dashboard(ctx context.Context) (dashboard.Snapshot, error) {
	for attempt := 0; attempt < 2; attempt++ {
		var resp dashboardResponse
		if err := c.Get(ctx, c.participantPath("/dashboard"), &resp); err != nil {
			return dashboard.Snapshot{}, fmt.Errorf("failed to fetch dashboard: %w", err)
		}
		if resp.Redirect && resp.CorrectToken != "" {
			log.Info().Msg("participant token superseded, switching to the current token")
			c.setToken(resp.CorrectToken)
			continue
		}
		return dashboard.Snapshot{
			Participant: dashboard.Participant{
				ID:        resp.ParticipantID,
				Email:     resp.Email,
				FirstName: resp.FirstName,
				LastName:  resp.LastName,
			},
			Sessions:      resp.Sessions,
			Registrations: resp.Registrations,
		}, nil
	}
	return dashboard.Snapshot{}, ErrRedirectLoop
}

type confirmRequest struct {
	SessionID string `json:"sessionId"`
}

type confirmResponse struct {
	Status models.RegistrationStatus `json:"status"`
}

// Confirm confirms attendance and returns the backend's post-mutation status.
func (c *Client) Confirm(ctx context.Context, sessionID, roundID string) (models.RegistrationStatus, error) {
	var resp confirmResponse
	err := c.Post(ctx, c.participantPath("/confirm/%s", url.PathEscape(roundID)), confirmRequest{SessionID: sessionID}, &resp)
	if err != nil {
		return "", fmt.Errorf("failed to confirm round %s: %w", roundID, err)
	}
	return resp.Status, nil
}

// RegisterRequest is the body of a registration.
type RegisterRequest struct {
	SessionID string   `json:"sessionId"`
	RoundID   string   `json:"roundId"`
	Team      string   `json:"team,omitempty"`
	Topic     string   `json:"topic,omitempty"`
	Topics    []string `json:"topics,omitempty"`
}

type registerResponse struct {
	Registration *models.Registration `json:"registration"`
}

// Register creates a registration. The returned record is nil when the backend
// acknowledges without echoing it.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*models.Registration, error) {
	var resp registerResponse
	if err := c.Post(ctx, c.participantPath("/register"), req, &resp); err != nil {
		return nil, fmt.Errorf("failed to register for round %s: %w", req.RoundID, err)
	}
	return resp.Registration, nil
}

func (c *Client) Unregister(ctx context.Context, sessionID, roundID string) error {
	endpoint := c.participantPath("/unregister/%s", url.PathEscape(roundID)) + "?sessionId=" + url.QueryEscape(sessionID)
	if err := c.Delete(ctx, endpoint, nil); err != nil {
		return fmt.Errorf("failed to unregister from round %s: %w", roundID, err)
	}
	return nil
}

type sessionStatusRequest struct {
	Status models.SessionStatus `json:"status"`
}

// UpdateSessionStatus persists an automatic session transition.
func (c *Client) UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus) error {
	err := c.MakeRequest(ctx, http.MethodPut, "/sessions/"+url.PathEscape(sessionID), sessionStatusRequest{Status: status}, nil)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", sessionID, err)
	}
	return nil
}
