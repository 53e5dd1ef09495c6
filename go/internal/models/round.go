package models

import "time"

// RoundStatus is an optional explicit status override set by the organizer.
type RoundStatus string

const (
	RoundStatusScheduled RoundStatus = "scheduled"
	RoundStatusActive    RoundStatus = "active"
	RoundStatusCompleted RoundStatus = "completed"
	RoundStatusCancelled RoundStatus = "cancelled"
)

// Round is a single scheduled time slot within a session.
type Round struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionId"`
	Date      string      `json:"date"`
	StartTime string      `json:"startTime"`
	Duration  int         `json:"duration"` // minutes
	Status    RoundStatus `json:"status,omitempty"`
}

// StartsAt resolves date+startTime. Placeholder or unset start times are unresolvable.
func (r Round) StartsAt(loc *time.Location) (time.Time, bool) {
	return Combine(r.Date, r.StartTime, loc)
}

// EndsAt resolves date+startTime+duration.
func (r Round) EndsAt(loc *time.Location) (time.Time, bool) {
	start, ok := r.StartsAt(loc)
	if !ok {
		return time.Time{}, false
	}
	return start.Add(time.Duration(r.Duration) * time.Minute), true
}
