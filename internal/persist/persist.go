// Package persist keeps the latest session snapshot so a restarted process
// can pick up where it left off. Only one snapshot slot exists; every save
// replaces it.
package persist

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/medscribe/internal/note"
	"github.com/MrWong99/medscribe/pkg/types"
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet.
var ErrNoSnapshot = errors.New("persist: no snapshot")

// Snapshot is the persisted session state.
type Snapshot struct {
	Note         note.Content      `json:"note"`
	Transcript   []types.Utterance `json:"transcript"`
	SessionID    string            `json:"sessionId"`
	LastModified time.Time         `json:"lastModified"`
	Specialty    string            `json:"specialty"`
}

// Store is a single-slot snapshot store.
type Store interface {
	Save(ctx context.Context, s Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
	Close() error
}

// MemoryStore keeps the snapshot in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	snap *Snapshot
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Save replaces the stored snapshot.
func (m *MemoryStore) Save(_ context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Transcript = append([]types.Utterance(nil), s.Transcript...)
	m.snap = &s
	return nil
}

// Load returns the stored snapshot or [ErrNoSnapshot].
func (m *MemoryStore) Load(context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return Snapshot{}, ErrNoSnapshot
	}
	s := *m.snap
	s.Transcript = append([]types.Utterance(nil), s.Transcript...)
	return s, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
