package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/suite"

	"gatekeeper/internal/captcha/models"
	"gatekeeper/internal/captcha/ports"
	"gatekeeper/pkg/platform/sentinel"
)

// storeContract holds behaviour every SessionStore backend must share.
// Backend suites embed it and assign store in SetupTest.
type storeContract struct {
	suite.Suite
	store ports.SessionStore
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func makeSession(chatID, userID int64, createdAt time.Time) *models.Session {
	return &models.Session{
		ChatID:           chatID,
		UserID:           userID,
		DisplayName:      "Ada",
		Question:         "What is 2+2?",
		AcceptedAnswers:  []string{"4", "four"},
		AttemptLimit:     3,
		Strict:           true,
		Status:           models.SessionChallenged,
		ChallengeMessage: 100,
		TransientMessages: []models.MessageRef{
			99,
		},
		CreatedAt: createdAt,
	}
}

func (s *storeContract) TestCreateAndGet() {
	ctx := context.Background()

	s.Run("created session round-trips", func() {
		session := makeSession(-1001, 7, baseTime)
		session.Options = []string{"4", "5", "22"}
		s.Require().NoError(s.store.Create(ctx, session))

		got, err := s.store.Get(ctx, session.Key())
		s.Require().NoError(err)
		s.Equal(session.ChatID, got.ChatID)
		s.Equal(session.UserID, got.UserID)
		s.Equal(session.Question, got.Question)
		s.Equal(session.AcceptedAnswers, got.AcceptedAnswers)
		s.Equal(session.Options, got.Options)
		s.Equal(3, got.AttemptLimit)
		s.True(got.Strict)
		s.Equal(session.ChallengeMessage, got.ChallengeMessage)
		s.Equal(session.TransientMessages, got.TransientMessages)
		s.Equal(models.SessionChallenged, got.Status)
		s.True(session.CreatedAt.Equal(got.CreatedAt))
	})

	s.Run("duplicate key conflicts", func() {
		session := makeSession(-1002, 7, baseTime)
		s.Require().NoError(s.store.Create(ctx, session))

		err := s.store.Create(ctx, makeSession(-1002, 7, baseTime.Add(time.Minute)))
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("missing session is not found", func() {
		_, err := s.store.Get(ctx, models.SessionKey{ChatID: -1, UserID: 1})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("same user in two chats is independent", func() {
		s.Require().NoError(s.store.Create(ctx, makeSession(-2001, 9, baseTime)))
		s.Require().NoError(s.store.Create(ctx, makeSession(-2002, 9, baseTime)))

		_, err := s.store.Get(ctx, models.SessionKey{ChatID: -2001, UserID: 9})
		s.NoError(err)
		_, err = s.store.Get(ctx, models.SessionKey{ChatID: -2002, UserID: 9})
		s.NoError(err)
	})
}

func (s *storeContract) TestUpdate() {
	ctx := context.Background()

	s.Run("update persists attempts and transient messages", func() {
		session := makeSession(-3001, 1, baseTime)
		s.Require().NoError(s.store.Create(ctx, session))

		ref := models.MessageRef(105)
		session.RecordFailure(&ref)
		session.Status = models.SessionEvicting
		s.Require().NoError(s.store.Update(ctx, session))

		got, err := s.store.Get(ctx, session.Key())
		s.Require().NoError(err)
		s.Equal(1, got.Attempts)
		s.Equal(models.SessionEvicting, got.Status)
		s.Equal([]models.MessageRef{99, 105}, got.TransientMessages)
	})

	s.Run("update of deleted session is not found", func() {
		session := makeSession(-3002, 1, baseTime)
		err := s.store.Update(ctx, session)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *storeContract) TestDelete() {
	ctx := context.Background()

	s.Run("delete removes the session", func() {
		session := makeSession(-4001, 1, baseTime)
		s.Require().NoError(s.store.Create(ctx, session))
		s.Require().NoError(s.store.Delete(ctx, session.Key()))

		_, err := s.store.Get(ctx, session.Key())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("delete of missing session is a no-op", func() {
		s.NoError(s.store.Delete(ctx, models.SessionKey{ChatID: -4002, UserID: 1}))
	})

	s.Run("key is reusable after delete", func() {
		session := makeSession(-4003, 1, baseTime)
		s.Require().NoError(s.store.Create(ctx, session))
		s.Require().NoError(s.store.Delete(ctx, session.Key()))
		s.NoError(s.store.Create(ctx, session))
	})
}

func (s *storeContract) TestListCreatedBefore() {
	ctx := context.Background()

	old := makeSession(-5001, 1, baseTime.Add(-3*time.Hour))
	older := makeSession(-5001, 2, baseTime.Add(-4*time.Hour))
	fresh := makeSession(-5001, 3, baseTime.Add(-time.Hour))
	for _, session := range []*models.Session{old, older, fresh} {
		s.Require().NoError(s.store.Create(ctx, session))
	}

	got, err := s.store.ListCreatedBefore(ctx, baseTime.Add(-2*time.Hour))
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(int64(2), got[0].UserID, "oldest first")
	s.Equal(int64(1), got[1].UserID)

	s.Run("cutoff is exclusive", func() {
		got, err := s.store.ListCreatedBefore(ctx, older.CreatedAt)
		s.Require().NoError(err)
		s.Empty(got)
	})

	s.Run("deleted sessions are not listed", func() {
		s.Require().NoError(s.store.Delete(ctx, old.Key()))
		got, err := s.store.ListCreatedBefore(ctx, baseTime)
		s.Require().NoError(err)
		s.Len(got, 2)
	})
}

func (s *storeContract) TestConcurrentCreateSingleWinner() {
	ctx := context.Background()
	const goroutines = 20

	var wg sync.WaitGroup
	var created, conflicts, other atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.Create(ctx, makeSession(-6001, 1, baseTime))
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			default:
				other.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), created.Load(), "exactly one create should win")
	s.Equal(int32(goroutines-1), conflicts.Load())
	s.Equal(int32(0), other.Load())
}
