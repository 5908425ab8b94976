package flowstate

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for local development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[Key]*State
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[Key]*State)}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (*State, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[key].Clone(), nil
}

func (s *MemoryStore) Set(_ context.Context, key Key, state *State) error {
	if err := validateWrite(key, state); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key] = state.Clone()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, key Key) error {
	if err := key.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key)
	return nil
}
