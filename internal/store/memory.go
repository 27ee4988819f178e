package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store. Batches and
// multi-key reads are applied under a single lock.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// compile-time checks
var (
	_ Store       = (*MemoryStore)(nil)
	_ MultiGetter = (*MemoryStore)(nil)
	_ Batcher     = (*MemoryStore)(nil)
)

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]string),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) MGet(_ context.Context, keys ...string) ([]*string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*string, len(keys))
	for i, k := range keys {
		if v, ok := m.data[k]; ok {
			out[i] = &v
		}
	}
	return out, nil
}

func (m *MemoryStore) Apply(_ context.Context, ops []Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		if op.Delete {
			delete(m.data, op.Key)
		} else {
			m.data[op.Key] = op.Value
		}
	}
	return nil
}

// Len returns the number of keys held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemoryStore) Close() error {
	return nil
}
