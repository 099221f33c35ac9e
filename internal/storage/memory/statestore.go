// Package memory provides an in-process StateStore for development and tests.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

type StateStore struct {
	mu     sync.RWMutex
	states map[string]dispatch.State
}

func NewStateStore() *StateStore {
	return &StateStore{states: make(map[string]dispatch.State)}
}

func (s *StateStore) GetState(_ context.Context, id string) (dispatch.State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[id]
	return st, ok, nil
}

func (s *StateStore) SetState(_ context.Context, id string, st dispatch.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = st
	return nil
}

func (s *StateStore) DeleteState(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, id)
	return nil
}

func (s *StateStore) ScanStates(_ context.Context, prefix, suffix string) (map[string]dispatch.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]dispatch.State)
	for id, st := range s.states {
		if strings.HasPrefix(id, prefix) && strings.HasSuffix(id, suffix) {
			out[id] = st
		}
	}
	return out, nil
}
