package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"gatekeeper/internal/audit"
	"gatekeeper/internal/captcha/metrics"
	"gatekeeper/internal/captcha/models"
	"gatekeeper/internal/captcha/ports"
	"gatekeeper/internal/captcha/store/settings"
	"gatekeeper/internal/scheduler"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/platform/sentinel"
	"gatekeeper/pkg/requestcontext"
)

const (
	testChat = int64(-1001)
	testUser = int64(42)
	joinRef  = models.MessageRef(500)
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// EngineSuite drives admission and answer arbitration against in-memory
// stores, a recording gateway and a manually fired scheduler.
type EngineSuite struct {
	suite.Suite
	gateway  *fakeGateway
	sessions *flakyStore
	settings *settings.InMemorySettingsStore
	jobs     *manualScheduler
	sink     *audit.MemorySink
	metrics  *metrics.Metrics
	service  *Service
	ctx      context.Context
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.gateway = newFakeGateway()
	s.sessions = newFlakyStore()
	s.settings = settings.NewInMemory()
	s.jobs = newManualScheduler()
	s.sink = audit.NewMemorySink()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.ctx = requestcontext.WithTime(context.Background(), t0)

	svc, err := New(s.sessions, s.settings, s.gateway, s.jobs,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(audit.NewSyncPublisher(s.sink)),
		WithMetrics(s.metrics),
		WithShuffle(func(o []string) { slices.Reverse(o) }),
	)
	s.Require().NoError(err)
	s.service = svc
}

func (s *EngineSuite) savePolicy(p models.Policy) {
	s.Require().NoError(s.settings.SavePolicy(context.Background(), testChat, p))
}

func (s *EngineSuite) admit() *models.Session {
	session, err := s.service.Admit(s.ctx, models.AdmitRequest{
		ChatID:      testChat,
		UserID:      testUser,
		DisplayName: "Ada",
		JoinMessage: joinRef,
	})
	s.Require().NoError(err)
	return session
}

func (s *EngineSuite) answer(text string, source models.MessageRef) models.Outcome {
	outcome, err := s.service.SubmitAnswer(s.ctx, models.AnswerRequest{
		ChatID:    testChat,
		UserID:    testUser,
		Candidate: text,
		Source:    &source,
	})
	s.Require().NoError(err)
	return outcome
}

func (s *EngineSuite) press(idx int) models.Outcome {
	outcome, err := s.service.SubmitAnswer(s.ctx, models.AnswerRequest{
		ChatID: testChat,
		UserID: testUser,
		Button: &idx,
	})
	s.Require().NoError(err)
	return outcome
}

func (s *EngineSuite) stored() (*models.Session, error) {
	return s.sessions.Get(context.Background(), models.SessionKey{ChatID: testChat, UserID: testUser})
}

func evictionKey() scheduler.Key {
	return ports.EvictionKey(models.SessionKey{ChatID: testChat, UserID: testUser})
}

func jobKey(kind scheduler.Kind) scheduler.Key {
	return scheduler.Key{ChatID: testChat, UserID: testUser, Kind: kind}
}

func (s *EngineSuite) TestNew() {
	s.Run("nil collaborators are rejected", func() {
		_, err := New(nil, s.settings, s.gateway, s.jobs)
		s.ErrorContains(err, "session store is required")
		_, err = New(s.sessions, nil, s.gateway, s.jobs)
		s.ErrorContains(err, "settings store is required")
		_, err = New(s.sessions, s.settings, nil, s.jobs)
		s.ErrorContains(err, "chat gateway is required")
		_, err = New(s.sessions, s.settings, s.gateway, nil)
		s.ErrorContains(err, "scheduler is required")
	})

	s.Run("sweep options ignore non-positive values", func() {
		svc, err := New(s.sessions, s.settings, s.gateway, s.jobs, WithSweep(0, time.Minute, -1))
		s.Require().NoError(err)
		s.Equal(DefaultGraceWindow, svc.graceWindow)
		s.Equal(time.Minute, svc.sweepInterval)
		s.Equal(DefaultSweepDelay, svc.sweepDelay)
	})
}

func (s *EngineSuite) TestAdmit() {
	s.Run("creates session, posts challenge and arms eviction", func() {
		session := s.admit()

		s.Equal(0, session.Attempts)
		s.Equal(models.DefaultAttemptLimit, session.AttemptLimit)
		s.Equal(models.SessionChallenged, session.Status)
		s.Equal(models.DefaultQuestion, session.Question)
		s.Equal([]models.MessageRef{joinRef}, session.TransientMessages)
		s.True(session.CreatedAt.Equal(t0))

		post := s.gateway.lastPost()
		s.Equal(post.Ref, session.ChallengeMessage)
		s.Contains(post.Text, "Welcome Ada!")
		s.Contains(post.Text, "within 60 seconds")
		s.Equal(joinRef, post.Opts.ReplyTo)
		s.Empty(post.Opts.Keyboard, "open challenges have no buttons")

		pending := s.jobs.pending(evictionKey())
		s.Require().Len(pending, 1)
		s.Equal(models.DefaultTimeout, pending[0].delay)
		job := pending[0].job.Payload.(models.EvictionJob)
		s.Equal(models.EvictionTimeout, job.Reason)
		s.False(job.Strict)

		s.Equal([]audit.Action{audit.ActionSessionAdmitted}, s.sink.Actions())
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.SessionsAdmitted))
	})

	s.Run("second join while pending fails and keeps the session", func() {
		_, err := s.service.Admit(s.ctx, models.AdmitRequest{ChatID: testChat, UserID: testUser, JoinMessage: 777})
		s.ErrorIs(err, models.ErrSessionAlreadyActive)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		stored, err := s.stored()
		s.Require().NoError(err)
		s.Equal([]models.MessageRef{joinRef}, stored.TransientMessages)
		s.Len(s.jobs.pending(evictionKey()), 1)
	})
}

func (s *EngineSuite) TestAdmitUsesGroupPolicy() {
	policy := models.Policy{
		Timeout:      90 * time.Second,
		AttemptLimit: 2,
		Strict:       true,
		Challenge: models.Challenge{
			Mode:     models.ChallengeMultiple,
			Question: "Capital of France?",
			Answers:  []string{"Paris"},
			Options:  []string{"Rome", "Berlin"},
		},
	}
	s.savePolicy(policy)

	session := s.admit()

	// Shuffle reverses: [Paris Rome Berlin] -> [Berlin Rome Paris].
	s.Equal([]string{"Berlin", "Rome", "Paris"}, session.Options)
	post := s.gateway.lastPost()
	s.Require().Len(post.Opts.Keyboard, 3)
	s.Equal("Berlin", post.Opts.Keyboard[0][0].Label)
	s.Equal(models.CallbackData(testUser, 2), post.Opts.Keyboard[2][0].Data)
	s.Contains(post.Text, "within 90 seconds:\nCapital of France?")

	pending := s.jobs.pending(evictionKey())
	s.Require().Len(pending, 1)
	s.Equal(90*time.Second, pending[0].delay)
	s.True(pending[0].job.Payload.(models.EvictionJob).Strict)
}

func (s *EngineSuite) TestAdmitFailures() {
	s.Run("gateway failure persists nothing", func() {
		s.gateway.postErr = sentinel.ErrUnavailable
		defer func() { s.gateway.postErr = nil }()

		_, err := s.service.Admit(s.ctx, models.AdmitRequest{ChatID: testChat, UserID: testUser})
		s.True(dErrors.HasCode(err, dErrors.CodeGatewayUnavailable))
		s.ErrorIs(err, sentinel.ErrUnavailable)

		_, err = s.stored()
		s.ErrorIs(err, sentinel.ErrNotFound)
		s.Empty(s.jobs.pending(evictionKey()))
	})

	s.Run("persistence failure removes the posted challenge", func() {
		s.sessions.createErr = errors.New("disk full")
		defer func() { s.sessions.createErr = nil }()

		_, err := s.service.Admit(s.ctx, models.AdmitRequest{ChatID: testChat, UserID: testUser})
		s.True(dErrors.HasCode(err, dErrors.CodePersistenceUnavailable))

		post := s.gateway.lastPost()
		s.Contains(s.gateway.deleted, post.Ref)
		s.Empty(s.jobs.pending(evictionKey()))
	})

	s.Run("stopped scheduler rolls the admission back", func() {
		s.jobs.stopped = true
		defer func() { s.jobs.stopped = false }()

		_, err := s.service.Admit(s.ctx, models.AdmitRequest{ChatID: testChat, UserID: testUser})
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
		_, err = s.stored()
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

// TestRetryThenSuccess: limit 2, "5" then "4".
func (s *EngineSuite) TestRetryThenSuccess() {
	s.savePolicy(models.Policy{Timeout: 60 * time.Second, AttemptLimit: 2})
	session := s.admit()

	outcome := s.answer("5", 601)
	s.Equal(models.OutcomeRetry, outcome.Kind)
	s.Equal(1, outcome.Remaining)
	s.Equal(1, outcome.Attempts)

	stored, err := s.stored()
	s.Require().NoError(err)
	s.Equal(1, stored.Attempts)
	s.Equal([]models.MessageRef{joinRef, 601}, stored.TransientMessages)

	s.Require().Len(s.gateway.edits, 1)
	s.Equal(session.ChallengeMessage, s.gateway.edits[0].Ref)
	s.Contains(s.gateway.edits[0].Text, "You have 1 attempt remaining")

	outcome = s.answer("4", 602)
	s.Equal(models.OutcomeSuccess, outcome.Kind)

	_, err = s.stored()
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.Empty(s.jobs.pending(evictionKey()), "eviction job cancelled")

	welcome := s.gateway.lastPost()
	s.Equal("Correct! "+models.DefaultWelcomeText, welcome.Text)
	welcomeJobs := s.jobs.pending(jobKey(scheduler.KindWelcomeCleanup))
	s.Require().Len(welcomeJobs, 1)
	s.Equal(models.DefaultWelcomeDisplay, welcomeJobs[0].delay)

	cleanup := s.jobs.pending(jobKey(scheduler.KindMessageCleanup))
	s.Require().Len(cleanup, 1)
	s.Equal(TransientCleanupDelay, cleanup[0].delay)
	s.Equal([]models.MessageRef{session.ChallengeMessage, joinRef, 601},
		cleanup[0].job.Payload.(cleanupPayload).Refs)

	s.jobs.fire(s.ctx, jobKey(scheduler.KindWelcomeCleanup))
	s.Contains(s.gateway.deleted, welcome.Ref)

	s.Equal([]audit.Action{
		audit.ActionSessionAdmitted,
		audit.ActionAnswerRejected,
		audit.ActionVerificationPassed,
	}, s.sink.Actions())
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Answers.WithLabelValues("success")))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Answers.WithLabelValues("retry")))
}

// TestLimitExceededEvictsImmediately: "5" twice with limit 2.
func (s *EngineSuite) TestLimitExceededEvictsImmediately() {
	s.savePolicy(models.Policy{Timeout: 60 * time.Second, AttemptLimit: 2, Strict: true})
	session := s.admit()

	s.Equal(models.OutcomeRetry, s.answer("5", 601).Kind)
	outcome := s.answer("5", 602)
	s.Equal(models.OutcomeLimitExceeded, outcome.Kind)
	s.Equal(2, outcome.Attempts)

	stored, err := s.stored()
	s.Require().NoError(err)
	s.Equal(models.SessionEvicting, stored.Status)

	pending := s.jobs.pending(evictionKey())
	s.Require().Len(pending, 1, "timeout job replaced")
	s.Equal(time.Duration(0), pending[0].delay)
	job := pending[0].job.Payload.(models.EvictionJob)
	s.Equal(models.EvictionAttempts, job.Reason)
	s.True(job.Strict)

	s.Run("answers after the limit see no session", func() {
		s.Equal(models.OutcomeNoActiveSession, s.answer("4", 603).Kind)
	})

	s.jobs.fire(s.ctx, evictionKey())

	s.Equal([]int64{testUser}, s.gateway.bans)
	s.Empty(s.gateway.unbans)
	s.ElementsMatch([]models.MessageRef{session.ChallengeMessage, joinRef, 601, 602}, s.gateway.deleted)
	s.Contains(s.gateway.lastPost().Text, "Ada has been banned")

	_, err = s.stored()
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// TestAttemptLimitFixedAtAdmission lowers the group limit from 5 to 2 after
// three wrong answers. The member keeps the limit and strictness in force
// when they joined.
func (s *EngineSuite) TestAttemptLimitFixedAtAdmission() {
	s.savePolicy(models.Policy{AttemptLimit: 5})
	s.admit()

	for i := 1; i <= 3; i++ {
		outcome := s.answer("5", models.MessageRef(600+i))
		s.Equal(models.OutcomeRetry, outcome.Kind)
		s.Equal(i, outcome.Attempts)
	}

	s.savePolicy(models.Policy{AttemptLimit: 2, Strict: true})

	outcome := s.answer("5", 604)
	s.Equal(models.OutcomeRetry, outcome.Kind)
	s.Equal(4, outcome.Attempts)
	s.Equal(1, outcome.Remaining)

	outcome = s.answer("5", 605)
	s.Equal(models.OutcomeLimitExceeded, outcome.Kind)
	s.Equal(5, outcome.Attempts)

	pending := s.jobs.pending(evictionKey())
	s.Require().Len(pending, 1)
	s.False(pending[0].job.Payload.(models.EvictionJob).Strict)
}

func (s *EngineSuite) TestSessionWithoutLimitUsesLivePolicy() {
	s.savePolicy(models.Policy{AttemptLimit: 1, Strict: true})
	s.Require().NoError(s.sessions.Create(context.Background(), &models.Session{
		ChatID:           testChat,
		UserID:           testUser,
		Question:         "What is 2+2?",
		AcceptedAnswers:  []string{"4"},
		Status:           models.SessionChallenged,
		ChallengeMessage: 10,
		CreatedAt:        t0,
	}))

	outcome := s.answer("5", 601)
	s.Equal(models.OutcomeLimitExceeded, outcome.Kind)
	pending := s.jobs.pending(evictionKey())
	s.Require().Len(pending, 1)
	s.True(pending[0].job.Payload.(models.EvictionJob).Strict)
}

func (s *EngineSuite) TestNotifyFailure() {
	s.service.NotifyFailure(s.ctx, testChat, testUser)

	post := s.gateway.lastPost()
	s.Equal(failureNoticeText, post.Text)
	pending := s.jobs.pending(jobKey(scheduler.KindNoticeCleanup))
	s.Require().Len(pending, 1)
	s.Equal(NoticeDisplay, pending[0].delay)

	s.jobs.fire(s.ctx, jobKey(scheduler.KindNoticeCleanup))
	s.Contains(s.gateway.deleted, post.Ref)
}

func (s *EngineSuite) TestNonStrictLimitKicks() {
	s.savePolicy(models.Policy{AttemptLimit: 1})
	s.admit()

	s.Equal(models.OutcomeLimitExceeded, s.answer("nope", 601).Kind)
	s.jobs.fire(s.ctx, evictionKey())

	s.Equal([]int64{testUser}, s.gateway.bans)
	s.Equal([]int64{testUser}, s.gateway.unbans)
	s.Contains(s.gateway.lastPost().Text, "has been kicked")
}

func (s *EngineSuite) TestAnswerMatching() {
	s.Run("no session is a no-op", func() {
		outcome := s.answer("4", 601)
		s.Equal(models.OutcomeNoActiveSession, outcome.Kind)
		s.Empty(s.gateway.posts)
	})

	s.Run("matching ignores case and whitespace", func() {
		s.admit()
		s.Equal(models.OutcomeSuccess, s.answer("  FOUR ", 601).Kind)
	})

	s.Run("empty candidate is incorrect", func() {
		s.admit()
		s.Equal(models.OutcomeRetry, s.answer("", 602).Kind)
		s.Require().NoError(s.sessions.Delete(context.Background(), models.SessionKey{ChatID: testChat, UserID: testUser}))
	})
}

func (s *EngineSuite) TestButtonAnswers() {
	s.savePolicy(models.Policy{
		AttemptLimit: 3,
		Challenge: models.Challenge{
			Mode:     models.ChallengeMultiple,
			Question: "Pick the fruit",
			Answers:  []string{"Apple"},
			Options:  []string{"Chair", "Cloud"},
		},
	})
	session := s.admit()
	correct := slices.Index(session.Options, "Apple")
	s.Require().GreaterOrEqual(correct, 0)

	s.Run("wrong option retries and keeps the keyboard", func() {
		outcome := s.press((correct + 1) % len(session.Options))
		s.Equal(models.OutcomeRetry, outcome.Kind)
		s.Equal(2, outcome.Remaining)
		s.Require().NotEmpty(s.gateway.edits)
		s.Len(s.gateway.edits[len(s.gateway.edits)-1].Opts.Keyboard, 3)
	})

	s.Run("out of range index costs no attempt", func() {
		s.Equal(models.OutcomeNoActiveSession, s.press(99).Kind)
		stored, err := s.stored()
		s.Require().NoError(err)
		s.Equal(1, stored.Attempts)
	})

	s.Run("button on another message is stale", func() {
		outcome, err := s.service.SubmitAnswer(s.ctx, models.AnswerRequest{
			ChatID:        testChat,
			UserID:        testUser,
			Button:        &correct,
			ButtonMessage: session.ChallengeMessage + 1,
		})
		s.Require().NoError(err)
		s.Equal(models.OutcomeNoActiveSession, outcome.Kind)
		_, err = s.stored()
		s.Require().NoError(err, "session still open")
	})

	s.Run("correct option on the challenge message succeeds", func() {
		outcome, err := s.service.SubmitAnswer(s.ctx, models.AnswerRequest{
			ChatID:        testChat,
			UserID:        testUser,
			Button:        &correct,
			ButtonMessage: session.ChallengeMessage,
		})
		s.Require().NoError(err)
		s.Equal(models.OutcomeSuccess, outcome.Kind)
	})

	s.Run("text answer after success is a no-op", func() {
		s.Equal(models.OutcomeNoActiveSession, s.answer("Apple", 700).Kind)
	})
}

func (s *EngineSuite) TestSuccessDeleteFailureRestoresEviction() {
	s.admit()
	s.sessions.failDelete(sentinel.ErrUnavailable)

	_, err := s.service.SubmitAnswer(s.ctx, models.AnswerRequest{ChatID: testChat, UserID: testUser, Candidate: "4"})
	s.True(dErrors.HasCode(err, dErrors.CodePersistenceUnavailable))

	stored, getErr := s.stored()
	s.Require().NoError(getErr, "session left unchanged")
	s.Equal(0, stored.Attempts)

	pending := s.jobs.pending(evictionKey())
	s.Require().Len(pending, 1, "eviction job re-registered")
	s.Equal(models.EvictionTimeout, pending[0].job.Payload.(models.EvictionJob).Reason)
	s.Empty(s.jobs.pending(jobKey(scheduler.KindWelcomeCleanup)), "no welcome on failure")

	s.sessions.failDelete(nil)
	s.Equal(models.OutcomeSuccess, s.answer("4", 601).Kind)
}

func (s *EngineSuite) TestRetryPersistenceFailureLeavesSessionUnchanged() {
	s.admit()
	s.sessions.updateErr = sentinel.ErrUnavailable
	defer func() { s.sessions.updateErr = nil }()

	_, err := s.service.SubmitAnswer(s.ctx, models.AnswerRequest{ChatID: testChat, UserID: testUser, Candidate: "5"})
	s.True(dErrors.HasCode(err, dErrors.CodePersistenceUnavailable))

	stored, getErr := s.stored()
	s.Require().NoError(getErr)
	s.Equal(0, stored.Attempts)
}

// TestRacingChannelsSingleWinner races a button press against a text reply,
// both correct. Exactly one resolves the session.
func (s *EngineSuite) TestRacingChannelsSingleWinner() {
	s.savePolicy(models.Policy{
		Challenge: models.Challenge{
			Mode:     models.ChallengeMultiple,
			Question: "2+2?",
			Answers:  []string{"4"},
			Options:  []string{"5"},
		},
	})

	for round := 0; round < 25; round++ {
		session := s.admit()
		idx := slices.Index(session.Options, "4")

		var wg sync.WaitGroup
		outcomes := make([]models.OutcomeKind, 2)
		errs := make([]error, 2)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			o, err := s.service.SubmitAnswer(s.ctx, models.AnswerRequest{ChatID: testChat, UserID: testUser, Button: &idx})
			outcomes[0], errs[0] = o.Kind, err
		}()
		go func() {
			defer wg.Done()
			<-start
			src := models.MessageRef(900 + round)
			o, err := s.service.SubmitAnswer(s.ctx, models.AnswerRequest{ChatID: testChat, UserID: testUser, Candidate: "4", Source: &src})
			outcomes[1], errs[1] = o.Kind, err
		}()
		close(start)
		wg.Wait()

		s.Require().NoError(errs[0])
		s.Require().NoError(errs[1])
		s.ElementsMatch([]models.OutcomeKind{models.OutcomeSuccess, models.OutcomeNoActiveSession}, outcomes,
			"round %d", round)
	}
	s.Equal(float64(25), testutil.ToFloat64(s.metrics.Answers.WithLabelValues("success")))
}

// TestRacingCorrectAndIncorrect races a correct button press against an
// incorrect text reply. Whatever the order, exactly one succeeds and the
// wrong answer costs at most one attempt.
func (s *EngineSuite) TestRacingCorrectAndIncorrect() {
	s.savePolicy(models.Policy{
		AttemptLimit: 2,
		Challenge: models.Challenge{
			Mode:     models.ChallengeMultiple,
			Question: "2+2?",
			Answers:  []string{"4"},
			Options:  []string{"5"},
		},
	})

	for round := 0; round < 25; round++ {
		session := s.admit()
		idx := slices.Index(session.Options, "4")

		var wg sync.WaitGroup
		outcomes := make([]models.Outcome, 2)
		errs := make([]error, 2)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			outcomes[0], errs[0] = s.service.SubmitAnswer(s.ctx, models.AnswerRequest{ChatID: testChat, UserID: testUser, Button: &idx})
		}()
		go func() {
			defer wg.Done()
			<-start
			src := models.MessageRef(900 + round)
			outcomes[1], errs[1] = s.service.SubmitAnswer(s.ctx, models.AnswerRequest{ChatID: testChat, UserID: testUser, Candidate: "5", Source: &src})
		}()
		close(start)
		wg.Wait()

		s.Require().NoError(errs[0])
		s.Require().NoError(errs[1])
		s.Equal(models.OutcomeSuccess, outcomes[0].Kind, "round %d", round)
		s.LessOrEqual(outcomes[0].Attempts, 1, "round %d", round)
		s.Contains([]models.OutcomeKind{models.OutcomeRetry, models.OutcomeNoActiveSession}, outcomes[1].Kind, "round %d", round)

		_, err := s.stored()
		s.ErrorIs(err, sentinel.ErrNotFound)
	}
	s.Equal(float64(25), testutil.ToFloat64(s.metrics.Answers.WithLabelValues("success")))
	s.Zero(testutil.ToFloat64(s.metrics.Answers.WithLabelValues("limit_exceeded")))
}

// TestAnswerRacesTimer fires the eviction timer concurrently with a correct
// answer. Either the member is welcomed or evicted, never both.
func (s *EngineSuite) TestAnswerRacesTimer() {
	for round := 0; round < 25; round++ {
		s.admit()
		bansBefore := s.gateway.banCount()

		var wg sync.WaitGroup
		var outcome models.Outcome
		var answerErr error
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			outcome, answerErr = s.service.SubmitAnswer(s.ctx, models.AnswerRequest{ChatID: testChat, UserID: testUser, Candidate: "4"})
		}()
		go func() {
			defer wg.Done()
			<-start
			s.jobs.fire(s.ctx, evictionKey())
		}()
		close(start)
		wg.Wait()

		s.Require().NoError(answerErr)
		banned := s.gateway.banCount() > bansBefore
		switch outcome.Kind {
		case models.OutcomeSuccess:
			s.False(banned, "round %d: welcomed member must not be banned", round)
		case models.OutcomeNoActiveSession:
			s.True(banned, "round %d: evicted member must be banned", round)
		default:
			s.Failf("unexpected outcome", "round %d: %s", round, outcome.Kind)
		}
		_, err := s.stored()
		s.ErrorIs(err, sentinel.ErrNotFound)
		s.jobs.CancelKey(evictionKey())
	}
}

func (s *EngineSuite) TestSettingsFailureFallsBackToDefaults() {
	failing := &failingSettings{SettingsStore: s.settings, err: sentinel.ErrUnavailable}
	svc, err := New(s.sessions, failing, s.gateway, s.jobs,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.Require().NoError(err)

	session, err := svc.Admit(s.ctx, models.AdmitRequest{ChatID: testChat, UserID: testUser})
	s.Require().NoError(err)
	s.Equal(models.DefaultQuestion, session.Question)
	s.Equal(models.DefaultTimeout, s.jobs.pending(evictionKey())[0].delay)
}

type failingSettings struct {
	ports.SettingsStore
	err error
}

func (f *failingSettings) GetPolicy(context.Context, int64) (*models.Policy, error) {
	return nil, f.err
}
