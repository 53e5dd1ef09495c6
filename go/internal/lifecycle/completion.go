package lifecycle

import (
	"time"

	"github.com/mcdev12/rendezvous/go/internal/models"
)

// Bucket groups a registration for display regardless of which terminal status it reached.
type Bucket string

const (
	BucketUpcoming  Bucket = "upcoming"
	BucketCompleted Bucket = "completed"
)

// IsCompleted decides whether round is over for a registration in status.
// It is pure and total: unresolvable times count as not completed.
func IsCompleted(round models.Round, status models.RegistrationStatus, now time.Time, loc *time.Location) bool {
	if round.Status == models.RoundStatusCompleted {
		return true
	}
	// A no-match outcome means the round never convened for this participant.
	if status == models.RegistrationStatusNoMatch {
		return true
	}
	end, ok := round.EndsAt(loc)
	if !ok {
		return false
	}
	passed := !now.Before(end)
	if status == models.RegistrationStatusUnconfirmed {
		// Still actionable before the end; a no-show afterwards.
		return passed
	}
	return passed
}

// BucketFor places a registration in the upcoming or completed bucket.
func BucketFor(round models.Round, reg models.Registration, now time.Time, loc *time.Location) Bucket {
	if IsCompleted(round, reg.Status, now, loc) {
		return BucketCompleted
	}
	return BucketUpcoming
}

// DisplayStatus is the status shown to the participant. An unconfirmed registration
// whose round has ended is shown as a no-show.
func DisplayStatus(round models.Round, reg models.Registration, now time.Time, loc *time.Location) models.RegistrationStatus {
	if reg.Status == models.RegistrationStatusUnconfirmed && IsCompleted(round, reg.Status, now, loc) {
		return models.RegistrationStatusNoShow
	}
	return reg.Status
}
