package settings

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"

	"gatekeeper/internal/captcha/models"
	"gatekeeper/internal/captcha/ports"
)

type storeContract struct {
	suite.Suite
	store ports.SettingsStore
}

func samplePolicy() models.Policy {
	return models.Policy{
		Timeout:        90 * time.Second,
		AttemptLimit:   2,
		WelcomeText:    "Hi!",
		WelcomeDisplay: 5 * time.Second,
		Strict:         true,
		Challenge: models.Challenge{
			Mode:     models.ChallengeMultiple,
			Question: "Capital of France?",
			Answers:  []string{"Paris"},
			Options:  []string{"Paris", "Rome", "Berlin"},
		},
	}
}

func (s *storeContract) TestPolicy() {
	ctx := context.Background()

	s.Run("absent policy is nil without error", func() {
		policy, err := s.store.GetPolicy(ctx, -1)
		s.NoError(err)
		s.Nil(policy)
	})

	s.Run("saved policy round-trips", func() {
		s.Require().NoError(s.store.SavePolicy(ctx, -100, samplePolicy()))
		got, err := s.store.GetPolicy(ctx, -100)
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.Equal(samplePolicy(), *got)
	})

	s.Run("save overwrites", func() {
		updated := samplePolicy()
		updated.AttemptLimit = 5
		updated.Strict = false
		s.Require().NoError(s.store.SavePolicy(ctx, -100, updated))
		got, err := s.store.GetPolicy(ctx, -100)
		s.Require().NoError(err)
		s.Equal(5, got.AttemptLimit)
		s.False(got.Strict)
	})
}

func (s *storeContract) TestListChats() {
	ctx := context.Background()
	for _, id := range []int64{-30, -10, -20} {
		s.Require().NoError(s.store.SavePolicy(ctx, id, samplePolicy()))
	}
	chats, err := s.store.ListChats(ctx)
	s.Require().NoError(err)
	s.Equal([]int64{-30, -20, -10}, chats)
}

func (s *storeContract) TestMemberCounts() {
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, count := range []int{10, 12, 15} {
		s.Require().NoError(s.store.RecordMemberCount(ctx, -5, count, day.Add(time.Duration(i)*24*time.Hour)))
	}
	s.Require().NoError(s.store.RecordMemberCount(ctx, -6, 99, day))

	s.Run("newest first with limit", func() {
		stats, err := s.store.MemberCounts(ctx, -5, 2)
		s.Require().NoError(err)
		s.Require().Len(stats, 2)
		s.Equal(15, stats[0].MemberCount)
		s.Equal(12, stats[1].MemberCount)
		s.True(stats[0].RecordedAt.Equal(day.Add(48 * time.Hour)))
	})

	s.Run("no limit returns all for the chat", func() {
		stats, err := s.store.MemberCounts(ctx, -5, 0)
		s.Require().NoError(err)
		s.Len(stats, 3)
		for _, stat := range stats {
			s.Equal(int64(-5), stat.ChatID)
		}
	})

	s.Run("unknown chat is empty", func() {
		stats, err := s.store.MemberCounts(ctx, -7, 10)
		s.NoError(err)
		s.Empty(stats)
	})
}
