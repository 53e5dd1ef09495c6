// Package mutation applies participant actions optimistically and reconciles them
// with the backend's answer.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mcdev12/rendezvous/go/internal/backend"
	"github.com/mcdev12/rendezvous/go/internal/clock"
	"github.com/mcdev12/rendezvous/go/internal/dashboard"
	"github.com/mcdev12/rendezvous/go/internal/events"
	"github.com/mcdev12/rendezvous/go/internal/lifecycle"
	"github.com/mcdev12/rendezvous/go/internal/markers"
	"github.com/mcdev12/rendezvous/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Backend is the subset of the backend client the coordinator drives.
type Backend interface {
	Confirm(ctx context.Context, sessionID, roundID string) (models.RegistrationStatus, error)
	Register(ctx context.Context, req backend.RegisterRequest) (*models.Registration, error)
	Unregister(ctx context.Context, sessionID, roundID string) error
}

// Refresher forces a reconciliation fetch.
type Refresher interface {
	PollNow()
}

// SweepTrigger asks the session automaton for an out-of-band sweep.
type SweepTrigger interface {
	Trigger()
}

type Config struct {
	ConfirmWindow    time.Duration
	RegisterWindow   time.Duration
	UnregisterWindow time.Duration
	RequestTimeout   time.Duration
	Location         *time.Location
}

func DefaultConfig() Config {
	return Config{
		ConfirmWindow:    20 * time.Second,
		RegisterWindow:   20 * time.Second,
		UnregisterWindow: 15 * time.Second,
		RequestTimeout:   15 * time.Second,
		Location:         time.UTC,
	}
}

// Outcome describes what a mutation did to local state.
type Outcome struct {
	Key            models.RegistrationKey    `json:"key"`
	Status         models.RegistrationStatus `json:"status,omitempty"`
	Removed        bool                      `json:"removed,omitempty"`
	AlreadyApplied bool                      `json:"alreadyApplied,omitempty"`
	// Conflict means the backend rejected the change because state moved on; a
	// refetch has been requested and its result wins.
	Conflict bool `json:"conflict,omitempty"`
}

// RegisterInput carries the participant's selections for a registration.
type RegisterInput struct {
	SessionID string
	RoundID   string
	Team      string
	Topic     string
	Topics    []string
}

type Coordinator struct {
	store     *dashboard.Store
	backend   Backend
	markers   markers.Store
	clock     clock.Source
	publisher events.Publisher
	refresher Refresher
	sweeper   SweepTrigger
	config    Config
}

func NewCoordinator(
	store *dashboard.Store,
	b Backend,
	markerStore markers.Store,
	clk clock.Source,
	publisher events.Publisher,
	cfg Config,
) *Coordinator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Coordinator{
		store:     store,
		backend:   b,
		markers:   markerStore,
		clock:     clk,
		publisher: publisher,
		config:    cfg,
	}
}

// SetRefresher wires the reconciliation loop. It is set after construction because
// the loop and the coordinator share the store.
func (c *Coordinator) SetRefresher(r Refresher) { c.refresher = r }

func (c *Coordinator) SetSweepTrigger(t SweepTrigger) { c.sweeper = t }

// Confirm confirms attendance for a round the participant is registered for.
func (c *Coordinator) Confirm(ctx context.Context, roundID string) (Outcome, error) {
	pid, err := c.participant()
	if err != nil {
		return Outcome{}, err
	}
	key := models.RegistrationKey{ParticipantID: pid, RoundID: roundID}
	mk := markers.Key{Kind: markers.KindConfirm, ParticipantID: pid, RoundID: roundID}

	if done, err := c.markers.Exists(ctx, mk); err != nil {
		return Outcome{}, fmt.Errorf("check confirm marker: %w", err)
	} else if done {
		return c.alreadyApplied(key, mk), nil
	}

	reg, ok := c.store.Registration(key)
	if !ok {
		return Outcome{}, invalid("roundId", "not registered for round %s", roundID)
	}
	switch reg.Status {
	case models.RegistrationStatusRegistered, models.RegistrationStatusUnconfirmed:
	case models.RegistrationStatusConfirmed, models.RegistrationStatusWaitingForMatch:
		return c.alreadyApplied(key, mk), nil
	default:
		if reg.Status.IsMatchOutcome() {
			return c.alreadyApplied(key, mk), nil
		}
		return Outcome{}, invalid("status", "cannot confirm a registration that is %s", reg.Status)
	}

	now, fresh, err := c.claim(ctx, mk)
	if err != nil {
		return Outcome{}, err
	}
	if !fresh {
		return c.alreadyApplied(key, mk), nil
	}

	if err := c.store.SetStatus(key, models.RegistrationStatusConfirmed, dashboard.ActionConfirm, now, c.config.ConfirmWindow); err != nil {
		c.release(mk)
		return Outcome{}, err
	}

	rctx, cancel := c.requestContext(ctx)
	defer cancel()
	status, err := c.backend.Confirm(rctx, reg.SessionID, roundID)
	if err != nil {
		return c.fail(key, mk, "confirm", err)
	}
	if status == "" {
		status = models.RegistrationStatusConfirmed
	}
	if status != models.RegistrationStatusConfirmed {
		log.Info().
			Str("registration", key.String()).
			Str("status", string(status)).
			Msg("backend returned a different status for confirm, applying it")
	}
	if err := c.store.ApplyCanonicalStatus(key, status); err != nil {
		log.Warn().Err(err).Str("registration", key.String()).Msg("registration vanished before confirm completed")
	}

	c.publish(ctx, events.RegistrationConfirmed, reg.SessionID, key, events.RegistrationPayload{Status: string(status)})
	c.afterSuccess()
	return Outcome{Key: key, Status: status}, nil
}

// Register creates a registration for a round.
func (c *Coordinator) Register(ctx context.Context, in RegisterInput) (Outcome, error) {
	pid, err := c.participant()
	if err != nil {
		return Outcome{}, err
	}
	if in.SessionID == "" {
		return Outcome{}, invalid("sessionId", "session is required")
	}
	if in.RoundID == "" {
		return Outcome{}, invalid("roundId", "round is required")
	}
	key := models.RegistrationKey{ParticipantID: pid, RoundID: in.RoundID}
	mk := markers.Key{Kind: markers.KindRegister, ParticipantID: pid, RoundID: in.RoundID}

	if done, err := c.markers.Exists(ctx, mk); err != nil {
		return Outcome{}, fmt.Errorf("check register marker: %w", err)
	} else if done {
		return c.alreadyApplied(key, mk), nil
	}

	sess, round, ok := c.store.Round(in.RoundID)
	if !ok || sess.ID != in.SessionID {
		return Outcome{}, invalid("roundId", "round %s is not part of session %s", in.RoundID, in.SessionID)
	}
	if sess.Status != models.SessionStatusPublished {
		return Outcome{}, invalid("sessionId", "registration is not open for session %s", sess.ID)
	}
	if lifecycle.IsCompleted(round, "", c.clock.Now(), c.config.Location) {
		return Outcome{}, invalid("roundId", "round %s has already ended", in.RoundID)
	}
	if _, exists := c.store.Registration(key); exists {
		return c.alreadyApplied(key, mk), nil
	}

	topics := in.Topics
	if len(topics) == 0 && in.Topic != "" {
		topics = []string{in.Topic}
	}

	now, fresh, err := c.claim(ctx, mk)
	if err != nil {
		return Outcome{}, err
	}
	if !fresh {
		return c.alreadyApplied(key, mk), nil
	}

	c.store.Insert(models.Registration{
		ParticipantID: pid,
		RoundID:       in.RoundID,
		SessionID:     in.SessionID,
		Status:        models.RegistrationStatusRegistered,
		RegisteredAt:  now,
		Team:          in.Team,
		Topics:        topics,
	}, dashboard.ActionRegister, now, c.config.RegisterWindow)

	rctx, cancel := c.requestContext(ctx)
	defer cancel()
	created, err := c.backend.Register(rctx, backend.RegisterRequest{
		SessionID: in.SessionID,
		RoundID:   in.RoundID,
		Team:      in.Team,
		Topic:     in.Topic,
		Topics:    in.Topics,
	})
	if err != nil {
		return c.fail(key, mk, "register", err)
	}

	status := models.RegistrationStatusRegistered
	if created != nil {
		canonical := *created
		canonical.ParticipantID = pid
		canonical.RoundID = in.RoundID
		if canonical.SessionID == "" {
			canonical.SessionID = in.SessionID
		}
		if canonical.Status == "" {
			canonical.Status = status
		}
		c.store.ApplyCanonical(canonical)
		status = canonical.Status
	}

	c.forget(ctx, markers.Key{Kind: markers.KindUnregister, ParticipantID: pid, RoundID: in.RoundID})
	c.publish(ctx, events.RegistrationRegistered, in.SessionID, key, events.RegistrationPayload{Status: string(status)})
	c.afterSuccess()
	return Outcome{Key: key, Status: status}, nil
}

// Unregister removes the participant from a round.
func (c *Coordinator) Unregister(ctx context.Context, sessionID, roundID string) (Outcome, error) {
	pid, err := c.participant()
	if err != nil {
		return Outcome{}, err
	}
	key := models.RegistrationKey{ParticipantID: pid, RoundID: roundID}
	mk := markers.Key{Kind: markers.KindUnregister, ParticipantID: pid, RoundID: roundID}

	if done, err := c.markers.Exists(ctx, mk); err != nil {
		return Outcome{}, fmt.Errorf("check unregister marker: %w", err)
	} else if done {
		return Outcome{Key: key, Removed: true, AlreadyApplied: true}, nil
	}

	reg, ok := c.store.Registration(key)
	if !ok {
		return Outcome{}, invalid("roundId", "not registered for round %s", roundID)
	}
	if sessionID == "" {
		sessionID = reg.SessionID
	}
	if reg.Status.IsMatchOutcome() {
		return Outcome{}, invalid("status", "cannot unregister once %s", reg.Status)
	}
	switch reg.Status {
	case models.RegistrationStatusNoShow, models.RegistrationStatusNoMatch, models.RegistrationStatusMissed,
		models.RegistrationStatusExcluded, models.RegistrationStatusCancelled:
		return Outcome{}, invalid("status", "cannot unregister a registration that is %s", reg.Status)
	}

	now, fresh, err := c.claim(ctx, mk)
	if err != nil {
		return Outcome{}, err
	}
	if !fresh {
		return Outcome{Key: key, Removed: true, AlreadyApplied: true}, nil
	}

	c.store.Remove(key, dashboard.ActionUnregister, now, c.config.UnregisterWindow)

	rctx, cancel := c.requestContext(ctx)
	defer cancel()
	if err := c.backend.Unregister(rctx, sessionID, roundID); err != nil {
		return c.fail(key, mk, "unregister", err)
	}

	c.forget(ctx,
		markers.Key{Kind: markers.KindRegister, ParticipantID: pid, RoundID: roundID},
		markers.Key{Kind: markers.KindConfirm, ParticipantID: pid, RoundID: roundID},
	)
	c.publish(ctx, events.RegistrationUnregistered, sessionID, key, events.RegistrationPayload{})
	c.afterSuccess()
	return Outcome{Key: key, Removed: true}, nil
}

func (c *Coordinator) participant() (string, error) {
	if !c.store.Loaded() {
		return "", ErrNotLoaded
	}
	pid := c.store.Participant().ID
	if pid == "" {
		return "", ErrNotLoaded
	}
	return pid, nil
}

// claim sets the idempotency marker. fresh is false when another caller won.
func (c *Coordinator) claim(ctx context.Context, mk markers.Key) (time.Time, bool, error) {
	now := c.clock.Now()
	fresh, err := c.markers.SetIfAbsent(ctx, mk, now)
	if err != nil {
		return now, false, fmt.Errorf("set %s marker: %w", mk.Kind, err)
	}
	return now, fresh, nil
}

func (c *Coordinator) alreadyApplied(key models.RegistrationKey, mk markers.Key) Outcome {
	log.Info().Str("marker", mk.String()).Msg("mutation already applied, ignoring")
	out := Outcome{Key: key, AlreadyApplied: true}
	if reg, ok := c.store.Registration(key); ok {
		out.Status = reg.Status
	}
	return out
}

// fail reverts an optimistic change: the marker is dropped, the previous record is
// restored and a refetch brings in whatever the backend holds now.
func (c *Coordinator) fail(key models.RegistrationKey, mk markers.Key, action string, err error) (Outcome, error) {
	c.release(mk)
	c.store.Revert(key)
	c.refetch()

	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
		log.Info().
			Str("registration", key.String()).
			Str("action", action).
			Str("reason", apiErr.Message).
			Msg("mutation conflicted with backend state, refetching")
		return Outcome{Key: key, Conflict: true}, nil
	}

	log.Warn().Err(err).Str("registration", key.String()).Str("action", action).Msg("mutation failed, reverting")
	return Outcome{}, fmt.Errorf("%s round %s: %w", action, key.RoundID, err)
}

func (c *Coordinator) release(mk markers.Key) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
	defer cancel()
	if err := c.markers.Delete(ctx, mk); err != nil {
		log.Error().Err(err).Str("marker", mk.String()).Msg("failed to clear idempotency marker")
	}
}

func (c *Coordinator) forget(ctx context.Context, keys ...markers.Key) {
	for _, mk := range keys {
		if err := c.markers.Delete(ctx, mk); err != nil {
			log.Warn().Err(err).Str("marker", mk.String()).Msg("failed to clear related marker")
		}
	}
}

// requestContext outlives the caller: a mutation is not cancelled when the user
// navigates away.
func (c *Coordinator) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.config.RequestTimeout)
}

func (c *Coordinator) refetch() {
	if c.refresher != nil {
		c.refresher.PollNow()
	}
}

func (c *Coordinator) afterSuccess() {
	if c.sweeper != nil {
		c.sweeper.Trigger()
	}
}

func (c *Coordinator) publish(ctx context.Context, t events.EventType, sessionID string, key models.RegistrationKey, payload events.RegistrationPayload) {
	if c.publisher == nil {
		return
	}
	ev, err := events.New(t, c.clock.Now(), payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to build event")
		return
	}
	ev.ParticipantID = key.ParticipantID
	ev.SessionID = sessionID
	ev.RoundID = key.RoundID
	if err := c.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		log.Warn().Err(err).Str("event_type", string(t)).Msg("failed to publish event")
	}
}
