package checkpoint

import (
	"context"
	"sync"

	"github.com/lukahq/dialogcore/pkg/models"
)

// MemoryStore keeps snapshots for the process lifetime. Deep copies on both
// paths keep callers from mutating stored state through shared slices.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*models.ConversationState
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*models.ConversationState)}
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, threadID string) (*models.ConversationState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[threadID]
	if !ok {
		return nil, nil
	}
	return state.Clone(), nil
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, threadID string, state *models.ConversationState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[threadID] = state.Clone()
	return nil
}
