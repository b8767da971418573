package settings

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the singleton in process memory.
type MemoryStore struct {
	mu  sync.Mutex
	cur *Settings
	now func() time.Time
}

// NewMemoryStore returns an empty store; the first Get seeds defaults.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Get returns the settings, creating the default row when absent.
func (m *MemoryStore) Get(ctx context.Context) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		d := Default()
		d.UpdatedAt = m.now().UTC()
		m.cur = &d
	}
	return *m.cur, nil
}

// Save replaces the singleton.
func (m *MemoryStore) Save(ctx context.Context, s Settings) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.UpdatedAt = m.now().UTC()
	m.cur = &s
	return s, nil
}
