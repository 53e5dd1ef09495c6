package dashboard

import (
	"time"

	"github.com/mcdev12/rendezvous/go/internal/models"
	"github.com/rs/zerolog/log"
)

type verdict int

const (
	takeFetched verdict = iota
	keepLocal
)

type reason int

const (
	reasonNone reason = iota
	reasonAcknowledged
	reasonSuppressed
	reasonExpired
)

// judge decides between a fetched value (nil when the backend has no such
// registration) and an optimistic local write. updatedAt is compared with the
// wall time of the write; issuedAt and now are engine times.
func judge(w LocalWrite, fetched *models.Registration, issuedAt, now time.Time) (verdict, reason) {
	if fetched != nil && fetched.UpdatedAt != nil && !fetched.UpdatedAt.Before(w.RealAt) {
		return takeFetched, reasonAcknowledged
	}
	if w.Removed && fetched == nil {
		return takeFetched, reasonAcknowledged
	}
	if !w.Removed && fetched != nil && fetched.Status == w.Status {
		return takeFetched, reasonAcknowledged
	}
	if issuedAt.Before(w.At) {
		return keepLocal, reasonSuppressed
	}
	if w.Protects(now) {
		return keepLocal, reasonSuppressed
	}
	return takeFetched, reasonExpired
}

// mergeRegistrations folds fetched into local, consulting and pruning writes.
func mergeRegistrations(
	local, fetched []models.Registration,
	writes map[models.RegistrationKey]LocalWrite,
	issuedAt, now time.Time,
) ([]models.Registration, MergeResult) {
	var res MergeResult
	record := func(key models.RegistrationKey, v verdict, r reason) {
		switch r {
		case reasonAcknowledged:
			res.Acknowledged = append(res.Acknowledged, key)
		case reasonSuppressed:
			res.Suppressed = append(res.Suppressed, key)
		case reasonExpired:
			res.Expired = append(res.Expired, key)
		}
		if v == takeFetched && r != reasonNone {
			delete(writes, key)
		}
	}

	localByKey := make(map[models.RegistrationKey]models.Registration, len(local))
	for _, reg := range local {
		localByKey[reg.Key()] = reg
	}

	merged := make([]models.Registration, 0, len(fetched))
	seen := make(map[models.RegistrationKey]bool, len(fetched))
	for i := range fetched {
		f := fetched[i]
		key := f.Key()
		seen[key] = true

		w, ok := writes[key]
		if !ok {
			merged = append(merged, f)
			continue
		}
		v, r := judge(w, &f, issuedAt, now)
		record(key, v, r)
		if v == takeFetched {
			if r == reasonExpired {
				log.Warn().
					Str("registration", key.String()).
					Str("optimistic", string(w.Status)).
					Str("fetched", string(f.Status)).
					Msg("suppression window expired, applying backend status (expected staleness)")
			}
			merged = append(merged, f)
			continue
		}
		if w.Removed {
			continue
		}
		if l, ok := localByKey[key]; ok {
			merged = append(merged, l)
		} else {
			f.Status = w.Status
			merged = append(merged, f)
		}
	}

	// Registrations the backend does not (yet) return.
	for _, l := range local {
		key := l.Key()
		if seen[key] {
			continue
		}
		w, ok := writes[key]
		if !ok {
			continue
		}
		v, r := judge(w, nil, issuedAt, now)
		record(key, v, r)
		if v == keepLocal {
			merged = append(merged, l)
		}
		seen[key] = true
	}

	// Confirmed removals.
	for key, w := range writes {
		if seen[key] || !w.Removed {
			continue
		}
		v, r := judge(w, nil, issuedAt, now)
		record(key, v, r)
	}

	return merged, res
}
