package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gatekeeper/internal/captcha/models"
	"gatekeeper/pkg/platform/sentinel"
)

// InMemorySessionStore keeps sessions in a map guarded by a RWMutex. Sessions
// are copied on the way in and out so callers never alias stored state.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[models.SessionKey]*models.Session
}

func NewInMemory() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[models.SessionKey]*models.Session)}
}

func (s *InMemorySessionStore) Create(_ context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := session.Key()
	if _, ok := s.sessions[key]; ok {
		return fmt.Errorf("create session %d/%d: %w", key.ChatID, key.UserID, sentinel.ErrConflict)
	}
	s.sessions[key] = session.Clone()
	return nil
}

func (s *InMemorySessionStore) Get(_ context.Context, key models.SessionKey) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return session.Clone(), nil
}

func (s *InMemorySessionStore) Update(_ context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := session.Key()
	if _, ok := s.sessions[key]; !ok {
		return sentinel.ErrNotFound
	}
	s.sessions[key] = session.Clone()
	return nil
}

func (s *InMemorySessionStore) Delete(_ context.Context, key models.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

func (s *InMemorySessionStore) ListCreatedBefore(_ context.Context, cutoff time.Time) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Session
	for _, session := range s.sessions {
		if session.CreatedAt.Before(cutoff) {
			out = append(out, session.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Len reports the number of stored sessions.
func (s *InMemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
