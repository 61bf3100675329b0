package settings

import (
	"context"
	"sort"
	"sync"
	"time"

	"gatekeeper/internal/captcha/models"
)

// InMemorySettingsStore keeps group policy and statistics in process memory.
type InMemorySettingsStore struct {
	mu       sync.RWMutex
	policies map[int64]models.Policy
	stats    map[int64][]models.GroupStatistic
}

func NewInMemory() *InMemorySettingsStore {
	return &InMemorySettingsStore{
		policies: make(map[int64]models.Policy),
		stats:    make(map[int64][]models.GroupStatistic),
	}
}

func (s *InMemorySettingsStore) GetPolicy(_ context.Context, chatID int64) (*models.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	policy, ok := s.policies[chatID]
	if !ok {
		return nil, nil
	}
	out := clonePolicy(policy)
	return &out, nil
}

func (s *InMemorySettingsStore) SavePolicy(_ context.Context, chatID int64, policy models.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[chatID] = clonePolicy(policy)
	return nil
}

func (s *InMemorySettingsStore) ListChats(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chats := make([]int64, 0, len(s.policies))
	for id := range s.policies {
		chats = append(chats, id)
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i] < chats[j] })
	return chats, nil
}

func (s *InMemorySettingsStore) RecordMemberCount(_ context.Context, chatID int64, count int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[chatID] = append(s.stats[chatID], models.GroupStatistic{
		ChatID:      chatID,
		MemberCount: count,
		RecordedAt:  at,
	})
	return nil
}

func (s *InMemorySettingsStore) MemberCounts(_ context.Context, chatID int64, limit int) ([]models.GroupStatistic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recorded := s.stats[chatID]
	out := make([]models.GroupStatistic, 0, len(recorded))
	for i := len(recorded) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, recorded[i])
	}
	return out, nil
}

func clonePolicy(p models.Policy) models.Policy {
	p.Challenge.Answers = append([]string(nil), p.Challenge.Answers...)
	p.Challenge.Options = append([]string(nil), p.Challenge.Options...)
	return p
}
