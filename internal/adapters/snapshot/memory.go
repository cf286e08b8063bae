// Package snapshot provides SnapshotStore implementations.
package snapshot

import (
	"context"
	"sync"

	"billtracker/internal/domain"
)

// Memory is a process-local snapshot store for one-shot runs and tests.
type Memory struct {
	mu        sync.RWMutex
	snapshots map[int64]domain.BillSnapshot
}

var _ domain.SnapshotStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{snapshots: make(map[int64]domain.BillSnapshot)}
}

// Get returns the stored snapshot for a bill.
func (m *Memory) Get(_ context.Context, billID int64) (domain.BillSnapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[billID]
	return snap, ok, nil
}

// Put replaces the stored snapshot for a bill.
func (m *Memory) Put(_ context.Context, billID int64, snap domain.BillSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[billID] = snap
	return nil
}
