package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
)

type InMemorySessionStoreSuite struct {
	storeContract
	mem *InMemorySessionStore
}

func TestInMemorySessionStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemorySessionStoreSuite))
}

func (s *InMemorySessionStoreSuite) SetupTest() {
	s.mem = NewInMemory()
	s.store = s.mem
}

func (s *InMemorySessionStoreSuite) TestReturnedSessionsAreCopies() {
	ctx := context.Background()
	session := makeSession(-1, 1, baseTime)
	s.Require().NoError(s.mem.Create(ctx, session))

	session.Attempts = 5
	got, err := s.mem.Get(ctx, session.Key())
	s.Require().NoError(err)
	s.Equal(0, got.Attempts, "caller mutation must not leak into the store")

	got.AcceptedAnswers[0] = "mutated"
	again, err := s.mem.Get(ctx, session.Key())
	s.Require().NoError(err)
	s.Equal("4", again.AcceptedAnswers[0])
}

func (s *InMemorySessionStoreSuite) TestLen() {
	ctx := context.Background()
	s.Equal(0, s.mem.Len())
	s.Require().NoError(s.mem.Create(ctx, makeSession(-1, 1, baseTime)))
	s.Require().NoError(s.mem.Create(ctx, makeSession(-1, 2, baseTime)))
	s.Equal(2, s.mem.Len())
}
