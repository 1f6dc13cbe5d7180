package store

import (
	"context"
	"sync"

	"github.com/capitalize-ai/call-negotiator/internal/model"
)

// MemoryStore keeps encoded envelopes in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
	active   string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]byte)}
}

func (s *MemoryStore) Save(_ context.Context, env model.Envelope) error {
	raw, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.sessions[env.SessionID]; ok {
		if old, err := DecodeEnvelope(prev); err == nil && old.Revision > env.Revision {
			return nil
		}
	}
	s.sessions[env.SessionID] = raw
	return nil
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (model.Envelope, error) {
	s.mu.RLock()
	raw, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return model.Envelope{}, ErrNotFound
	}
	return DecodeEnvelope(raw)
}

func (s *MemoryStore) SetActive(_ context.Context, sessionID string) error {
	s.mu.Lock()
	s.active = sessionID
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Active(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == "" {
		return "", ErrNotFound
	}
	return s.active, nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
