package storage

import (
	"context"
	"sync"
)

// MemorySink keeps the last snapshot in memory. It backs the "memory" storage
// backend and tests.
type MemorySink struct {
	mu     sync.RWMutex
	data   []byte
	writes int
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Read returns a copy of the last written snapshot.
func (m *MemorySink) Read(ctx context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.data == nil {
		return nil, ErrSnapshotNotFound
	}
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out, nil
}

// Write replaces the stored snapshot.
func (m *MemorySink) Write(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make([]byte, len(data))
	copy(m.data, data)
	m.writes++
	return nil
}

// Writes returns how many snapshots have been written.
func (m *MemorySink) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}
