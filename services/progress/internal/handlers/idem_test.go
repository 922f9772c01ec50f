package handlers

import (
	"context"
	"sync"
)

type memIdem struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemIdem() *memIdem { return &memIdem{seen: map[string]bool{}} }

func (m *memIdem) Check(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[key] {
		return true, nil
	}
	m.seen[key] = true
	return false, nil
}

func (m *memIdem) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.seen, key)
	m.mu.Unlock()
	return nil
}
