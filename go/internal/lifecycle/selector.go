package lifecycle

import (
	"time"

	"github.com/mcdev12/rendezvous/go/internal/models"
)

// RoundRef points at the globally next round.
type RoundRef struct {
	SessionID string    `json:"sessionId"`
	RoundID   string    `json:"roundId"`
	StartsAt  time.Time `json:"startsAt"`
}

// NextUpcoming picks the earliest round start strictly after now among rounds that
// have a registration that is not completed. Ties keep the first one seen.
func NextUpcoming(sessions []models.Session, regs []models.Registration, now time.Time, loc *time.Location) (RoundRef, bool) {
	byRound := make(map[string][]models.Registration, len(regs))
	for _, reg := range regs {
		byRound[reg.RoundID] = append(byRound[reg.RoundID], reg)
	}

	var best RoundRef
	found := false
	for _, s := range sessions {
		for _, r := range s.Rounds {
			start, ok := r.StartsAt(loc)
			if !ok || !start.After(now) {
				continue
			}
			if found && !start.Before(best.StartsAt) {
				continue
			}
			for _, reg := range byRound[r.ID] {
				if IsCompleted(r, reg.Status, now, loc) {
					continue
				}
				sessionID := r.SessionID
				if sessionID == "" {
					sessionID = s.ID
				}
				best = RoundRef{SessionID: sessionID, RoundID: r.ID, StartsAt: start}
				found = true
				break
			}
		}
	}
	return best, found
}
