package dashboard

import (
	"testing"
	"time"

	"github.com/mcdev12/rendezvous/go/internal/lifecycle"
	"github.com/mcdev12/rendezvous/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreMergeRunsAfterHookInSameVersion(t *testing.T) {
	store := NewStore()
	var versions []uint64
	store.Subscribe(func(st State) { versions = append(versions, st.Version) })

	snap := Snapshot{
		Sessions: []models.Session{{ID: "s1", Status: models.SessionStatusScheduled}},
		IssuedAt: t0,
	}
	store.Merge(snap, t0, func(st *State) {
		st.Sessions[0].Status = models.SessionStatusPublished
	})

	assert.Equal(t, []uint64{1}, versions)
	st := store.State()
	assert.True(t, st.Loaded)
	assert.Equal(t, models.SessionStatusPublished, st.Sessions[0].Status)
}

func TestStoreApplyTransitionsComparesFrom(t *testing.T) {
	store := NewStore()
	store.Merge(Snapshot{Sessions: []models.Session{{ID: "s1", Status: models.SessionStatusPublished}}}, t0, nil)

	applied := store.ApplyTransitions([]lifecycle.Transition{
		{SessionID: "s1", From: models.SessionStatusScheduled, To: models.SessionStatusPublished},
		{SessionID: "s1", From: models.SessionStatusPublished, To: models.SessionStatusCompleted},
	})
	require.Len(t, applied, 1)
	assert.Equal(t, models.SessionStatusCompleted, store.Sessions()[0].Status)
}

func TestStoreApplyTransitionsNoopKeepsVersion(t *testing.T) {
	store := NewStore()
	store.Merge(Snapshot{}, t0, nil)
	before := store.State().Version

	store.ApplyTransitions([]lifecycle.Transition{{SessionID: "missing", From: models.SessionStatusScheduled, To: models.SessionStatusPublished}})
	assert.Equal(t, before, store.State().Version)
}

func TestStoreLoadErrorKeepsCache(t *testing.T) {
	store := NewStore()
	store.Merge(Snapshot{Registrations: []models.Registration{reg("r1", models.RegistrationStatusRegistered)}}, t0, nil)
	store.SetLoadError("backend unavailable")

	st := store.State()
	assert.Equal(t, "backend unavailable", st.LoadError)
	assert.Len(t, st.Registrations, 1)

	store.Merge(Snapshot{}, t0.Add(time.Second), nil)
	assert.Empty(t, store.State().LoadError)
}

func TestStoreSetStatusUnknown(t *testing.T) {
	store := NewStore()
	err := store.SetStatus(key("nope"), models.RegistrationStatusConfirmed, ActionConfirm, t0, time.Second)
	assert.ErrorIs(t, err, ErrRegistrationNotFound)
}

func TestStoreApplyCanonicalRetargetsWrite(t *testing.T) {
	store := NewStore()
	store.Merge(Snapshot{Registrations: []models.Registration{reg("r1", models.RegistrationStatusUnconfirmed)}}, t0, nil)
	require.NoError(t, store.SetStatus(key("r1"), models.RegistrationStatusConfirmed, ActionConfirm, t0, 20*time.Second))

	require.NoError(t, store.ApplyCanonicalStatus(key("r1"), models.RegistrationStatusWaitingForMatch))
	w, ok := store.LocalWrite(key("r1"))
	require.True(t, ok)
	assert.Equal(t, models.RegistrationStatusWaitingForMatch, w.Status)
	assert.Equal(t, t0, w.At)
}

func TestStoreRevert(t *testing.T) {
	store := NewStore()
	store.Merge(Snapshot{Registrations: []models.Registration{
		reg("r1", models.RegistrationStatusUnconfirmed),
		reg("r2", models.RegistrationStatusRegistered),
	}}, t0, nil)

	require.NoError(t, store.SetStatus(key("r1"), models.RegistrationStatusConfirmed, ActionConfirm, t0, 20*time.Second))
	store.Remove(key("r2"), ActionUnregister, t0, 15*time.Second)
	store.Insert(reg("r3", models.RegistrationStatusRegistered), ActionRegister, t0, 20*time.Second)

	store.Revert(key("r1"))
	store.Revert(key("r2"))
	store.Revert(key("r3"))

	got, ok := store.Registration(key("r1"))
	require.True(t, ok)
	assert.Equal(t, models.RegistrationStatusUnconfirmed, got.Status)
	_, ok = store.Registration(key("r2"))
	assert.True(t, ok)
	_, ok = store.Registration(key("r3"))
	assert.False(t, ok)

	_, ok = store.LocalWrite(key("r1"))
	assert.False(t, ok)
}
