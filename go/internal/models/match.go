package models

// Match is produced by the external matcher and consumed read-only.
type Match struct {
	ID             string   `json:"id"`
	ParticipantIDs []string `json:"participantIds"`
	MeetingPointID string   `json:"meetingPointId,omitempty"`
	Status         string   `json:"status,omitempty"`
}

// Partners returns the other participants of the match.
func (m Match) Partners(participantID string) []string {
	partners := make([]string, 0, len(m.ParticipantIDs))
	for _, id := range m.ParticipantIDs {
		if id != participantID {
			partners = append(partners, id)
		}
	}
	return partners
}
