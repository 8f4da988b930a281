package cursor

import (
	"context"
	"sync"
)

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

// Get returns the cursor value or ErrNotFound.
func (m *Memory) Get(_ context.Context, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[name]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Put stores value under name.
func (m *Memory) Put(_ context.Context, name, value string) error {
	m.mu.Lock()
	m.values[name] = value
	m.mu.Unlock()
	return nil
}

// Delete removes name. Deleting an absent cursor is not an error.
func (m *Memory) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.values, name)
	m.mu.Unlock()
	return nil
}

// Apply performs every op under one lock.
func (m *Memory) Apply(_ context.Context, ops ...Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		if op.Delete {
			delete(m.values, op.Name)
		} else {
			m.values[op.Name] = op.Value
		}
	}
	return nil
}
