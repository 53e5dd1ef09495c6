package lifecycle

import (
	"time"

	"github.com/mcdev12/rendezvous/go/internal/models"
)

// Transition is one automatic session status change.
type Transition struct {
	SessionID string               `json:"session_id"`
	From      models.SessionStatus `json:"from"`
	To        models.SessionStatus `json:"to"`
	At        time.Time            `json:"at"`
}

// canTransition lists the only time-driven transitions. draft -> scheduled and any
// manual override belong to the organizer.
func canTransition(current, next models.SessionStatus) bool {
	switch current {
	case models.SessionStatusScheduled:
		return next == models.SessionStatusPublished
	case models.SessionStatusPublished:
		return next == models.SessionStatusCompleted
	default:
		return false
	}
}

// nextStatus returns the status a session should move to at now, if any.
func nextStatus(s models.Session, now time.Time, loc *time.Location) (models.SessionStatus, bool) {
	switch s.Status {
	case models.SessionStatusScheduled:
		opens, ok := s.RegistrationOpensAt(loc)
		if ok && !now.Before(opens) {
			return models.SessionStatusPublished, true
		}
	case models.SessionStatusPublished:
		ends, ok := s.EndsAt(loc)
		if ok && !now.Before(ends) {
			return models.SessionStatusCompleted, true
		}
	}
	return "", false
}

// AdvanceSession walks s forward as far as now allows. A session whose registration
// opened and whose end passed since the last sweep goes scheduled -> published ->
// completed in one call, yielding both transitions.
func AdvanceSession(s models.Session, now time.Time, loc *time.Location) []Transition {
	var out []Transition
	current := s
	for {
		next, ok := nextStatus(current, now, loc)
		if !ok || !canTransition(current.Status, next) {
			return out
		}
		out = append(out, Transition{SessionID: s.ID, From: current.Status, To: next, At: now})
		current.Status = next
	}
}

// AdvanceSessions applies every due transition to sessions in place.
func AdvanceSessions(sessions []models.Session, now time.Time, loc *time.Location) []Transition {
	var out []Transition
	for i := range sessions {
		ts := AdvanceSession(sessions[i], now, loc)
		if len(ts) == 0 {
			continue
		}
		sessions[i].Status = ts[len(ts)-1].To
		out = append(out, ts...)
	}
	return out
}
