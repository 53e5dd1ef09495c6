package markers

import (
	"context"
	"time"

	"github.com/mcdev12/rendezvous/go/internal/clock"
	"github.com/rs/zerolog/log"
)

// Gate fires a side effect at most once per (kind, participant, round).
type Gate struct {
	store Store
	clock clock.Source
}

func NewGate(store Store, clk clock.Source) *Gate {
	return &Gate{store: store, clock: clk}
}

// ShouldFire reports true the first time it is called for a key. Store errors
// suppress the side effect; the next observation retries.
func (g *Gate) ShouldFire(ctx context.Context, kind Kind, participantID, roundID string) bool {
	key := Key{Kind: kind, ParticipantID: participantID, RoundID: roundID}
	ok, err := g.store.SetIfAbsent(ctx, key, g.clock.Now())
	if err != nil {
		log.Warn().Err(err).Str("marker", key.String()).Msg("notification gate unavailable")
		return false
	}
	return ok
}

// Evict drops markers older than retention. A zero retention keeps everything.
func Evict(ctx context.Context, store Store, now time.Time, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	n, err := store.Evict(ctx, now.Add(-retention))
	if err != nil {
		return 0, err
	}
	log.Info().Int64("evicted", n).Dur("retention", retention).Msg("evicted markers")
	return n, nil
}
