package models

import "time"

// SessionStatus defines the lifecycle status of a session.
type SessionStatus string

const (
	SessionStatusDraft     SessionStatus = "draft"
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusPublished SessionStatus = "published"
	SessionStatusCompleted SessionStatus = "completed"
)

// Rank orders session statuses along the forward-only lifecycle.
// Unknown statuses rank below draft.
func (s SessionStatus) Rank() int {
	switch s {
	case SessionStatusDraft:
		return 1
	case SessionStatusScheduled:
		return 2
	case SessionStatusPublished:
		return 3
	case SessionStatusCompleted:
		return 4
	default:
		return 0
	}
}

// Session represents an event offering one or more rounds.
type Session struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	Date              string        `json:"date"`
	RegistrationStart string        `json:"registrationStart,omitempty"`
	EndTime           string        `json:"endTime,omitempty"`
	Status            SessionStatus `json:"status"`
	Rounds            []Round       `json:"rounds,omitempty"`
	UpdatedAt         *time.Time    `json:"updatedAt,omitempty"`
}

// RegistrationOpensAt resolves the start of the registration day.
func (s Session) RegistrationOpensAt(loc *time.Location) (time.Time, bool) {
	return ParseDay(s.RegistrationStart, loc)
}

// EndsAt resolves date+endTime. Sessions without an end time never end on their own.
func (s Session) EndsAt(loc *time.Location) (time.Time, bool) {
	if s.EndTime == "" {
		return time.Time{}, false
	}
	return Combine(s.Date, s.EndTime, loc)
}

// Round looks up one of the session's rounds by id.
func (s Session) Round(roundID string) (Round, bool) {
	for _, r := range s.Rounds {
		if r.ID == roundID {
			return r, true
		}
	}
	return Round{}, false
}
