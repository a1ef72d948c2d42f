package orchestrator

import (
	"context"
	"fmt"
	"sync"
)

// DefaultCeiling applies when a profile is registered without one.
const DefaultCeiling = 100.0

// MemoryProfileStore is the in-process profile store: single-node
// deployments and tests. Satisfies ProfileStore and ScoreWriter.
type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]*Profile)}
}

// Put registers or replaces an agent's profile.
func (s *MemoryProfileStore) Put(_ context.Context, p *Profile) error {
	if p == nil || p.AgentID == "" {
		return fmt.Errorf("orchestrator: profile requires an agent id")
	}
	stored := *p
	if stored.Ceiling <= 0 {
		stored.Ceiling = DefaultCeiling
	}
	if stored.Score < 0 {
		stored.Score = 0
	}
	if stored.Score > stored.Ceiling {
		stored.Score = stored.Ceiling
	}
	s.mu.Lock()
	s.profiles[stored.AgentID] = &stored
	s.mu.Unlock()
	return nil
}

func (s *MemoryProfileStore) Get(_ context.Context, agentID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, agentID)
	}
	out := *p
	return &out, nil
}

func (s *MemoryProfileStore) UpdateScore(_ context.Context, agentID string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, agentID)
	}
	if score < 0 {
		score = 0
	}
	if score > p.Ceiling {
		score = p.Ceiling
	}
	p.Score = score
	return nil
}
