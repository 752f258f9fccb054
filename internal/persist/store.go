package persist

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by LoadState when no blob exists for the id.
var ErrNotFound = errors.New("no persisted state for tournament")

// Store is the key-value persistence collaborator: a JSON blob per tournament
// id. The running flag is stored alongside so listings can show live status
// without parsing blobs.
type Store interface {
	LoadState(ctx context.Context, tournamentID int64) ([]byte, error)
	SaveState(ctx context.Context, tournamentID int64, blob []byte, running bool) error
}

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[int64][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[int64][]byte)}
}

func (m *MemoryStore) LoadState(_ context.Context, tournamentID int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[tournamentID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

func (m *MemoryStore) SaveState(_ context.Context, tournamentID int64, blob []byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(blob))
	copy(stored, blob)
	m.blobs[tournamentID] = stored
	return nil
}
