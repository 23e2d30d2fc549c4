package reasoning

import (
	"context"
	"sync"
)

// OutcomeStore persists outcomes per conversation.
type OutcomeStore interface {
	Save(ctx context.Context, o Outcome) error
	// Latest returns the most recent outcome, or false when there is none.
	Latest(ctx context.Context, conversationID string) (Outcome, bool, error)
	List(ctx context.Context, conversationID string) ([]Outcome, error)
}

// MemoryStore keeps outcomes in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	outcomes map[string][]Outcome
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{outcomes: make(map[string][]Outcome)}
}

func (s *MemoryStore) Save(_ context.Context, o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[o.ConversationID] = append(s.outcomes[o.ConversationID], o)
	return nil
}

func (s *MemoryStore) Latest(_ context.Context, conversationID string) (Outcome, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.outcomes[conversationID]
	if len(list) == 0 {
		return Outcome{}, false, nil
	}
	return list[len(list)-1], true, nil
}

func (s *MemoryStore) List(_ context.Context, conversationID string) ([]Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Outcome, len(s.outcomes[conversationID]))
	copy(out, s.outcomes[conversationID])
	return out, nil
}
