package clock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var wallStart = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func TestReal_FollowsBaseClock(t *testing.T) {
	fake := clockwork.NewFakeClockAt(wallStart)
	src := NewReal(fake)

	assert.Equal(t, wallStart, src.Now())
	fake.Advance(time.Minute)
	assert.Equal(t, wallStart.Add(time.Minute), src.Now())
	assert.False(t, src.IsSimulated())
}

func TestSimulated_BehavesAsRealUntilSet(t *testing.T) {
	fake := clockwork.NewFakeClockAt(wallStart)
	src, err := NewSimulated(fake, nil)
	require.NoError(t, err)

	assert.Equal(t, wallStart, src.Now())
	assert.False(t, src.IsSimulated())
}

func TestSimulated_SetKeepsAdvancing(t *testing.T) {
	fake := clockwork.NewFakeClockAt(wallStart)
	src, err := NewSimulated(fake, nil)
	require.NoError(t, err)

	target := time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC)
	require.NoError(t, src.Set(target))
	assert.True(t, src.IsSimulated())
	assert.Equal(t, target, src.Now())

	fake.Advance(90 * time.Second)
	assert.Equal(t, target.Add(90*time.Second), src.Now(), "simulated time must not freeze")
	assert.Equal(t, wallStart.Add(90*time.Second), src.Wall())
}

func TestSimulated_ClearRemovesOffset(t *testing.T) {
	fake := clockwork.NewFakeClockAt(wallStart)
	store := NewMemoryOffsetStore()
	src, err := NewSimulated(fake, store)
	require.NoError(t, err)

	require.NoError(t, src.Set(wallStart.Add(48*time.Hour)))
	require.NoError(t, src.Clear())

	assert.False(t, src.IsSimulated())
	assert.Equal(t, wallStart, src.Now())
	_, ok, err := store.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSimulated_OnChangeNotifies(t *testing.T) {
	fake := clockwork.NewFakeClockAt(wallStart)
	src, err := NewSimulated(fake, nil)
	require.NoError(t, err)

	var seen []bool
	src.OnChange(func(simulated bool) { seen = append(seen, simulated) })

	require.NoError(t, src.Set(wallStart.Add(time.Hour)))
	require.NoError(t, src.Clear())
	assert.Equal(t, []bool{true, false}, seen)
}

func TestSimulated_OffsetSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clock.yaml")
	fake := clockwork.NewFakeClockAt(wallStart)
	target := time.Date(2024, 1, 10, 13, 0, 0, 0, time.UTC)

	first, err := NewSimulated(fake, NewFileOffsetStore(path, fake))
	require.NoError(t, err)
	require.NoError(t, first.Set(target))

	fake.Advance(5 * time.Minute)
	second, err := NewSimulated(fake, NewFileOffsetStore(path, fake))
	require.NoError(t, err)

	assert.True(t, second.IsSimulated())
	assert.Equal(t, target.Add(5*time.Minute), second.Now())
}

func TestFileOffsetStore_MissingFile(t *testing.T) {
	store := NewFileOffsetStore(filepath.Join(t.TempDir(), "absent.yaml"), nil)

	_, ok, err := store.Load()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, store.Clear())
}

func TestFileOffsetStore_StampsWithInjectedClock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clock.yaml")
	fake := clockwork.NewFakeClockAt(wallStart)
	store := NewFileOffsetStore(path, fake)

	require.NoError(t, store.Save(-2*time.Hour))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var state offsetState
	require.NoError(t, yaml.Unmarshal(data, &state))
	assert.Equal(t, wallStart.UTC(), state.SetAt.UTC())
	assert.Equal(t, "-2h0m0s", state.Offset)
}
