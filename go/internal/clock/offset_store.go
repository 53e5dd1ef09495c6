package clock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"gopkg.in/yaml.v3"
)

// OffsetStore persists the simulated clock offset across restarts.
type OffsetStore interface {
	Load() (time.Duration, bool, error)
	Save(offset time.Duration) error
	Clear() error
}

// MemoryOffsetStore keeps the offset for the life of the process only.
type MemoryOffsetStore struct {
	mu     sync.Mutex
	offset *time.Duration
}

func NewMemoryOffsetStore() *MemoryOffsetStore {
	return &MemoryOffsetStore{}
}

func (m *MemoryOffsetStore) Load() (time.Duration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offset == nil {
		return 0, false, nil
	}
	return *m.offset, true, nil
}

func (m *MemoryOffsetStore) Save(offset time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offset = &offset
	return nil
}

func (m *MemoryOffsetStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offset = nil
	return nil
}

type offsetState struct {
	Offset string    `yaml:"offset"`
	SetAt  time.Time `yaml:"set_at"`
}

// FileOffsetStore keeps the offset in a small YAML state file.
type FileOffsetStore struct {
	path  string
	clock clockwork.Clock
}

// NewFileOffsetStore stamps saves with clk, which should be the base clock of
// the Simulated it backs. A nil clk uses the real clock.
func NewFileOffsetStore(path string, clk clockwork.Clock) *FileOffsetStore {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &FileOffsetStore{path: path, clock: clk}
}

func (f *FileOffsetStore) Load() (time.Duration, bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read clock state: %w", err)
	}

	var state offsetState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return 0, false, fmt.Errorf("failed to parse clock state: %w", err)
	}
	if state.Offset == "" {
		return 0, false, nil
	}
	offset, err := time.ParseDuration(state.Offset)
	if err != nil {
		return 0, false, fmt.Errorf("invalid clock offset %q: %w", state.Offset, err)
	}
	return offset, true, nil
}

func (f *FileOffsetStore) Save(offset time.Duration) error {
	data, err := yaml.Marshal(offsetState{Offset: offset.String(), SetAt: f.clock.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode clock state: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create clock state dir: %w", err)
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write clock state: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func (f *FileOffsetStore) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove clock state: %w", err)
	}
	return nil
}
