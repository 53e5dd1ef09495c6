package models

import "time"

// RegistrationStatus is the per-participant status within one round.
type RegistrationStatus string

const (
	RegistrationStatusRegistered                 RegistrationStatus = "registered"
	RegistrationStatusConfirmed                  RegistrationStatus = "confirmed"
	RegistrationStatusUnconfirmed                RegistrationStatus = "unconfirmed"
	RegistrationStatusWaitingForMatch            RegistrationStatus = "waiting-for-match"
	RegistrationStatusMatched                    RegistrationStatus = "matched"
	RegistrationStatusWalkingToMeetingPoint      RegistrationStatus = "walking-to-meeting-point"
	RegistrationStatusWaitingForMeetConfirmation RegistrationStatus = "waiting-for-meet-confirmation"
	RegistrationStatusMet                        RegistrationStatus = "met"
	RegistrationStatusNoShow                     RegistrationStatus = "no-show"
	RegistrationStatusNoMatch                    RegistrationStatus = "no-match"
	RegistrationStatusMissed                     RegistrationStatus = "missed"
	RegistrationStatusExcluded                   RegistrationStatus = "excluded"
	RegistrationStatusCancelled                  RegistrationStatus = "cancelled"
	RegistrationStatusVerificationPending        RegistrationStatus = "verification_pending"
)

// IsMatchOutcome reports statuses that only exist once the matcher assigned a partner.
func (s RegistrationStatus) IsMatchOutcome() bool {
	switch s {
	case RegistrationStatusMatched,
		RegistrationStatusWalkingToMeetingPoint,
		RegistrationStatusWaitingForMeetConfirmation,
		RegistrationStatusMet:
		return true
	}
	return false
}

// RegistrationKey is the composite identity of a registration.
type RegistrationKey struct {
	ParticipantID string
	RoundID       string
}

func (k RegistrationKey) String() string {
	return k.ParticipantID + "/" + k.RoundID
}

// Registration links one participant to one round.
type Registration struct {
	ParticipantID string             `json:"participantId"`
	RoundID       string             `json:"roundId"`
	SessionID     string             `json:"sessionId"`
	Status        RegistrationStatus `json:"status"`
	RegisteredAt  time.Time          `json:"registeredAt"`
	MatchID       string             `json:"matchId,omitempty"`
	Match         *Match             `json:"match,omitempty"`
	Team          string             `json:"team,omitempty"`
	Topics        []string           `json:"topics,omitempty"`
	// UpdatedAt is the backend's write timestamp when it supplies one.
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

func (r Registration) Key() RegistrationKey {
	return RegistrationKey{ParticipantID: r.ParticipantID, RoundID: r.RoundID}
}
