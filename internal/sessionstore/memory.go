package sessionstore

import (
	"context"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps encoded snapshots in a map.
type MemoryStore struct {
	opts options

	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{opts: buildOptions(opts), data: make(map[string][]byte)}
}

// Save implements [Store].
func (m *MemoryStore) Save(_ context.Context, key string, s Snapshot) error {
	b, err := Encode(s)
	if err != nil {
		return persistErr("save", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = b
	return nil
}

// Load implements [Store].
func (m *MemoryStore) Load(_ context.Context, key string) (*Snapshot, error) {
	m.mu.Lock()
	b, ok := m.data[key]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	s, err := Decode(b, m.opts.now(), m.opts.window)
	return s, persistErr("load", key, err)
}

// Clear implements [Store].
func (m *MemoryStore) Clear(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
