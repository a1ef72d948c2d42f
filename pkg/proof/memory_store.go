package proof

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process proof store: tests, single-node
// deployments, and the default when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	events   []*Event
	byID     map[string]*Event
	byIntent map[string][]*Event
	sequence uint64
	head     string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*Event),
		byIntent: make(map[string][]*Event),
		head:     GenesisHash,
	}
}

func (s *MemoryStore) Append(_ context.Context, phase Phase, intentID, agentID string, payload any) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := newEvent(s.sequence+1, s.head, intentID, agentID, phase, payload, time.Now())
	if err != nil {
		return nil, err
	}
	s.sequence = ev.Sequence
	s.head = ev.EventHash
	s.events = append(s.events, ev)
	s.byID[ev.EventID] = ev
	s.byIntent[intentID] = append(s.byIntent[intentID], ev)
	return ev, nil
}

func (s *MemoryStore) Get(_ context.Context, eventID string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.byID[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	return ev, nil
}

func (s *MemoryStore) ListByIntent(_ context.Context, intentID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.byIntent[intentID]
	out := make([]*Event, len(events))
	copy(out, events)
	return out, nil
}

func (s *MemoryStore) Head(_ context.Context) (string, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head, s.sequence, nil
}

func (s *MemoryStore) VerifyChain(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return VerifyEvents(s.events)
}

func (s *MemoryStore) Close() error { return nil }

// Size returns the number of stored events.
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
