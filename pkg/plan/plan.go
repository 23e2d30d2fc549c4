// Package plan tracks the per-conversation checklist that gates delivery.
package plan

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrEmptyConversationID is returned for operations without a conversation key.
var ErrEmptyConversationID = errors.New("conversation id is required")

// Plan is the checklist document of one conversation.
type Plan struct {
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Progress returns the checklist progress of the plan text.
func (p Plan) Progress() Progress { return ProgressOf(p.Text) }

// Empty reports a plan without text.
func (p Plan) Empty() bool { return strings.TrimSpace(p.Text) == "" }

// Incomplete reports a non-empty plan with open items.
func (p Plan) Incomplete() bool {
	pr := p.Progress()
	return !p.Empty() && pr.Total > 0 && !pr.IsComplete
}

// UpdateFunc receives the current plan (zero text when none exists) and
// returns the replacement.
type UpdateFunc func(current Plan) (Plan, error)

// Store persists plans keyed by conversation. Update is an atomic
// read-modify-write: two updates for the same id never interleave.
type Store interface {
	// Get returns the plan, or false when none exists.
	Get(ctx context.Context, conversationID string) (Plan, bool, error)
	Update(ctx context.Context, conversationID string, fn UpdateFunc) (Plan, error)
	// Reset deletes the plan. Resetting a missing plan is not an error.
	Reset(ctx context.Context, conversationID string) error
}

// Stamp prepares fn's result for writing: the key is forced and UpdatedAt set.
func Stamp(conversationID string, p Plan, now time.Time) Plan {
	p.ConversationID = conversationID
	p.UpdatedAt = now.UTC()
	return p
}

// MemoryStore keeps plans in process memory, with one lock per conversation.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	plans map[string]Plan
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks: make(map[string]*sync.Mutex),
		plans: make(map[string]Plan),
	}
}

func (s *MemoryStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *MemoryStore) Get(_ context.Context, conversationID string) (Plan, bool, error) {
	if conversationID == "" {
		return Plan{}, false, ErrEmptyConversationID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[conversationID]
	return p, ok, nil
}

func (s *MemoryStore) Update(ctx context.Context, conversationID string, fn UpdateFunc) (Plan, error) {
	if conversationID == "" {
		return Plan{}, ErrEmptyConversationID
	}
	l := s.lockFor(conversationID)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return Plan{}, err //nolint:wrapcheck // context errors pass through
	}
	s.mu.Lock()
	current, ok := s.plans[conversationID]
	s.mu.Unlock()
	if !ok {
		current = Plan{ConversationID: conversationID}
	}

	next, err := fn(current)
	if err != nil {
		return current, err
	}
	next = Stamp(conversationID, next, time.Now())

	s.mu.Lock()
	s.plans[conversationID] = next
	s.mu.Unlock()
	return next, nil
}

func (s *MemoryStore) Reset(_ context.Context, conversationID string) error {
	if conversationID == "" {
		return ErrEmptyConversationID
	}
	l := s.lockFor(conversationID)
	l.Lock()
	defer l.Unlock()
	s.mu.Lock()
	delete(s.plans, conversationID)
	s.mu.Unlock()
	return nil
}
