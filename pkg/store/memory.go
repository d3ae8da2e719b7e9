package store

import (
	"context"
	"sync"
)

// Memory is the in-process backend. Snapshots are copied on both save and
// load so callers can never alias the stored bytes.
type Memory struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
	reserved  map[string]bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		snapshots: make(map[string][]byte),
		reserved:  make(map[string]bool),
	}
}

func (m *Memory) Save(_ context.Context, id string, snapshot []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[id] = append([]byte(nil), snapshot...)
	return nil
}

func (m *Memory) SaveBatch(_ context.Context, snapshots map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, snap := range snapshots {
		m.snapshots[id] = append([]byte(nil), snap...)
	}
	return nil
}

func (m *Memory) Load(_ context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), snap...), nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, id)
	delete(m.reserved, id)
	return nil
}

func (m *Memory) ListIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.snapshots))
	for id := range m.snapshots {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Memory) ReserveID(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reserved[id] {
		return false, nil
	}
	if _, exists := m.snapshots[id]; exists {
		return false, nil
	}
	m.reserved[id] = true
	return true, nil
}

func (m *Memory) Close() error { return nil }
