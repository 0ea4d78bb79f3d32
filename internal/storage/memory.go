package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"joanabot/internal/conversation/history"
)

type memoryStore struct {
	mu     sync.RWMutex
	m      map[string]*history.History
	closed bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{m: map[string]*history.History{}}
}

func (s *memoryStore) LoadHistory(_ context.Context, sender string) (*history.History, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	h, ok := s.m[sender]
	if !ok {
		return nil, false, nil
	}
	return h.Clone(), true, nil
}

func (s *memoryStore) SaveHistory(_ context.Context, h *history.History) error {
	if h == nil || strings.TrimSpace(h.Sender) == "" {
		return errors.New("history without sender")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.m[h.Sender] = h.Clone()
	return nil
}

func (s *memoryStore) ListSenders(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]string, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
