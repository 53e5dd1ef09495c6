package engine

import (
	"time"

	"github.com/mcdev12/rendezvous/go/internal/dashboard"
	"github.com/mcdev12/rendezvous/go/internal/lifecycle"
	"github.com/mcdev12/rendezvous/go/internal/models"
)

// Entry is one registration as the participant sees it.
type Entry struct {
	models.Registration
	DisplayStatus models.RegistrationStatus `json:"displayStatus"`
	Bucket        lifecycle.Bucket          `json:"bucket"`
	StartsAt      *time.Time                `json:"startsAt,omitempty"`
	Next          bool                      `json:"next,omitempty"`
}

// View is the rendered dashboard.
type View struct {
	Participant dashboard.Participant `json:"participant"`
	Sessions    []models.Session      `json:"sessions"`
	Upcoming    []Entry               `json:"upcoming"`
	Completed   []Entry               `json:"completed"`
	NextRound   *lifecycle.RoundRef   `json:"nextRound,omitempty"`
	Loaded      bool                  `json:"loaded"`
	LoadError   string                `json:"loadError,omitempty"`
	LastSyncAt  time.Time             `json:"lastSyncAt,omitempty"`
	Now         time.Time             `json:"now"`
	Simulated   bool                  `json:"simulated"`
	Version     uint64                `json:"version"`
}

// View renders the current state.
func (e *Engine) View() View {
	return e.view(e.store.State())
}

func (e *Engine) view(st dashboard.State) View {
	now := e.clock.Now()
	v := View{
		Participant: st.Participant,
		Sessions:    st.Sessions,
		Upcoming:    []Entry{},
		Completed:   []Entry{},
		Loaded:      st.Loaded,
		LoadError:   st.LoadError,
		LastSyncAt:  st.LastSyncAt,
		Now:         now,
		Simulated:   e.clock.IsSimulated(),
		Version:     st.Version,
	}

	next, hasNext := lifecycle.NextUpcoming(st.Sessions, st.Registrations, now, e.loc)
	if hasNext {
		v.NextRound = &next
	}

	rounds := make(map[string]models.Round)
	for _, s := range st.Sessions {
		for _, r := range s.Rounds {
			rounds[r.ID] = r
		}
	}

	for _, reg := range st.Registrations {
		round, ok := rounds[reg.RoundID]
		if !ok {
			// Round not in any visible session; keep it actionable.
			v.Upcoming = append(v.Upcoming, Entry{Registration: reg, DisplayStatus: reg.Status, Bucket: lifecycle.BucketUpcoming})
			continue
		}
		entry := Entry{
			Registration:  reg,
			DisplayStatus: lifecycle.DisplayStatus(round, reg, now, e.loc),
			Bucket:        lifecycle.BucketFor(round, reg, now, e.loc),
			Next:          hasNext && next.RoundID == reg.RoundID,
		}
		if start, ok := round.StartsAt(e.loc); ok {
			entry.StartsAt = &start
		}
		if entry.Bucket == lifecycle.BucketCompleted {
			v.Completed = append(v.Completed, entry)
		} else {
			v.Upcoming = append(v.Upcoming, entry)
		}
	}
	return v
}
