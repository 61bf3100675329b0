package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type SchedulerSuite struct {
	suite.Suite
	sched *Scheduler
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.sched = New()
}

func (s *SchedulerSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Require().NoError(s.sched.Shutdown(ctx))
}

func evictKey(chatID, userID int64) Key {
	return Key{ChatID: chatID, UserID: userID, Kind: KindEviction}
}

func (s *SchedulerSuite) TestSchedule() {
	s.Run("runs once after delay with payload", func() {
		got := make(chan any, 1)
		_, err := s.sched.Schedule(evictKey(1, 2), 5*time.Millisecond, "payload", func(_ context.Context, job *Job) {
			got <- job.Payload
		})
		s.Require().NoError(err)

		select {
		case p := <-got:
			s.Equal("payload", p)
		case <-time.After(time.Second):
			s.Fail("job did not run")
		}
		s.Eventually(func() bool { return len(s.sched.Find(evictKey(1, 2))) == 0 }, time.Second, time.Millisecond)
	})

	s.Run("zero delay runs immediately", func() {
		var ran atomic.Bool
		_, err := s.sched.Schedule(evictKey(3, 4), 0, nil, func(context.Context, *Job) { ran.Store(true) })
		s.Require().NoError(err)
		s.Eventually(ran.Load, time.Second, time.Millisecond)
	})

	s.Run("missing callback is rejected", func() {
		_, err := s.sched.Schedule(evictKey(5, 6), time.Second, nil, nil)
		s.Error(err)
	})
}

func (s *SchedulerSuite) TestFindAndCancel() {
	var ran atomic.Int32
	fn := func(context.Context, *Job) { ran.Add(1) }

	job, err := s.sched.Schedule(evictKey(1, 2), time.Hour, nil, fn)
	s.Require().NoError(err)

	found := s.sched.Find(evictKey(1, 2))
	s.Require().Len(found, 1)
	s.Equal(job.ID, found[0].ID)
	s.Empty(s.sched.Find(evictKey(1, 3)), "keys are independent")

	s.sched.Cancel(job)
	s.Empty(s.sched.Find(evictKey(1, 2)))

	s.NotPanics(func() {
		s.sched.Cancel(job)
		s.sched.Cancel(nil)
		s.Equal(0, s.sched.CancelKey(evictKey(1, 2)))
	}, "cancelling twice is a no-op")
	s.Equal(int32(0), ran.Load())
}

func (s *SchedulerSuite) TestCancelAfterFire() {
	done := make(chan struct{})
	job, err := s.sched.Schedule(evictKey(9, 9), 0, nil, func(context.Context, *Job) { close(done) })
	s.Require().NoError(err)
	<-done

	s.NotPanics(func() { s.sched.Cancel(job) })
	s.Equal(0, s.sched.CancelKey(evictKey(9, 9)))
}

func (s *SchedulerSuite) TestReplaceKeepsSingleJob() {
	var first, second atomic.Bool
	_, err := s.sched.Schedule(evictKey(1, 1), 20*time.Millisecond, nil, func(context.Context, *Job) { first.Store(true) })
	s.Require().NoError(err)
	_, err = s.sched.Replace(evictKey(1, 1), 0, nil, func(context.Context, *Job) { second.Store(true) })
	s.Require().NoError(err)

	s.Eventually(second.Load, time.Second, time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	s.False(first.Load(), "replaced job must not fire")
}

func (s *SchedulerSuite) TestEvery() {
	var runs atomic.Int32
	key := Key{Kind: KindSweep}
	_, err := s.sched.Every(key, 0, 5*time.Millisecond, nil, func(context.Context, *Job) { runs.Add(1) })
	s.Require().NoError(err)

	s.Eventually(func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	s.Len(s.sched.Find(key), 1, "recurring jobs stay registered")

	s.Equal(1, s.sched.CancelKey(key))
	n := runs.Load()
	time.Sleep(20 * time.Millisecond)
	s.LessOrEqual(runs.Load(), n+1)

	_, err = s.sched.Every(key, 0, 0, nil, func(context.Context, *Job) {})
	s.Error(err)
}

func (s *SchedulerSuite) TestShutdown() {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	_, err := s.sched.Schedule(evictKey(1, 1), 0, nil, func(ctx context.Context, _ *Job) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	})
	s.Require().NoError(err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Require().NoError(s.sched.Shutdown(ctx))
	<-cancelled

	_, err = s.sched.Schedule(evictKey(1, 1), 0, nil, func(context.Context, *Job) {})
	s.ErrorIs(err, ErrStopped)
	s.Equal(0, s.sched.Len())
}
