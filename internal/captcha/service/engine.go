package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gatekeeper/internal/audit"
	"gatekeeper/internal/captcha/models"
	"gatekeeper/internal/captcha/ports"
	"gatekeeper/internal/scheduler"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/platform/sentinel"
	"gatekeeper/pkg/requestcontext"
)

// Admit opens a verification session for a member who just joined: it posts
// the challenge, persists the session and arms the eviction timer.
//
// A second join while a session is pending fails with
// models.ErrSessionAlreadyActive and leaves the existing session untouched.
func (s *Service) Admit(ctx context.Context, req models.AdmitRequest) (session *models.Session, err error) {
	ctx, span := s.startSpan(ctx, "captcha.Admit", req.ChatID, req.UserID)
	defer func() { endSpan(span, err) }()

	key := models.SessionKey{ChatID: req.ChatID, UserID: req.UserID}
	unlock, err := s.locks.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := s.sessions.Get(ctx, key); err == nil {
		s.metrics.IncAdmitFailure("already_active")
		return nil, models.ErrSessionAlreadyActive
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		s.metrics.IncAdmitFailure("persistence")
		return nil, dErrors.Wrap(err, dErrors.CodePersistenceUnavailable, "failed to load session")
	}

	policy := s.policy(ctx, req.ChatID)
	challenge := policy.Challenge
	options := append([]string(nil), challenge.Options...)
	s.shuffle(options)

	ref, err := s.gateway.PostMessage(ctx, req.ChatID,
		challengeText(req.DisplayName, policy.Timeout, challenge),
		&models.PostOptions{Keyboard: keyboard(req.UserID, options), ReplyTo: req.JoinMessage},
	)
	if err != nil {
		s.metrics.IncAdmitFailure("gateway")
		return nil, dErrors.Wrap(err, dErrors.CodeGatewayUnavailable, "failed to post challenge")
	}

	session = &models.Session{
		ChatID:           req.ChatID,
		UserID:           req.UserID,
		DisplayName:      req.DisplayName,
		Question:         challenge.Question,
		AcceptedAnswers:  append([]string(nil), challenge.Answers...),
		Options:          options,
		AttemptLimit:     policy.AttemptLimit,
		Strict:           policy.Strict,
		Status:           models.SessionChallenged,
		ChallengeMessage: ref,
		CreatedAt:        requestcontext.Now(ctx),
	}
	session.Track(req.JoinMessage)

	if err := s.sessions.Create(ctx, session); err != nil {
		s.deleteMessage(ctx, req.ChatID, ref)
		if errors.Is(err, sentinel.ErrConflict) {
			// Another replica admitted the same member first.
			s.metrics.IncAdmitFailure("already_active")
			return nil, models.ErrSessionAlreadyActive
		}
		s.metrics.IncAdmitFailure("persistence")
		return nil, dErrors.Wrap(err, dErrors.CodePersistenceUnavailable, "failed to persist session")
	}

	job := models.EvictionJob{
		ChatID:      req.ChatID,
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		Strict:      policy.Strict,
		Reason:      models.EvictionTimeout,
	}
	if _, err := s.jobs.Replace(ports.EvictionKey(key), policy.Timeout, job, s.runEviction); err != nil {
		if delErr := s.sessions.Delete(ctx, key); delErr != nil {
			s.logger.ErrorContext(ctx, "failed to roll back session", "chat_id", req.ChatID, "user_id", req.UserID, "error", delErr)
		}
		s.deleteMessage(ctx, req.ChatID, ref)
		s.metrics.IncAdmitFailure("scheduler")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to schedule eviction")
	}

	s.metrics.IncAdmitted()
	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		Action: audit.ActionSessionAdmitted,
		ChatID: req.ChatID,
		UserID: req.UserID,
	})
	return session.Clone(), nil
}

// SubmitAnswer is the single arbitration point for free-text replies and
// button presses. Calls for the same member are serialized, so of two racing
// answers exactly one observes the open session.
func (s *Service) SubmitAnswer(ctx context.Context, req models.AnswerRequest) (outcome models.Outcome, err error) {
	ctx, span := s.startSpan(ctx, "captcha.SubmitAnswer", req.ChatID, req.UserID)
	defer func() {
		span.SetAttributes(attribute.String("captcha.outcome", outcome.Kind.String()))
		endSpan(span, err)
	}()

	key := models.SessionKey{ChatID: req.ChatID, UserID: req.UserID}
	unlock, err := s.locks.Lock(ctx, key)
	if err != nil {
		return models.Outcome{}, err
	}
	defer unlock()

	session, err := s.sessions.Get(ctx, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		return models.Outcome{Kind: models.OutcomeNoActiveSession}, nil
	}
	if err != nil {
		return models.Outcome{}, dErrors.Wrap(err, dErrors.CodePersistenceUnavailable, "failed to load session")
	}
	if !session.IsOpen() {
		return models.Outcome{Kind: models.OutcomeNoActiveSession}, nil
	}

	policy := s.policy(ctx, req.ChatID)
	if session.AttemptLimit <= 0 {
		// Records written before admission snapshots follow the live policy.
		session.AttemptLimit = policy.AttemptLimit
		session.Strict = policy.Strict
	}

	candidate := req.Candidate
	if req.Button != nil {
		if req.ButtonMessage != 0 && req.ButtonMessage != session.ChallengeMessage {
			return models.Outcome{Kind: models.OutcomeNoActiveSession}, nil
		}
		option, ok := session.Option(*req.Button)
		if !ok {
			return models.Outcome{Kind: models.OutcomeNoActiveSession}, nil
		}
		candidate = option
	}

	if session.Accepts(candidate) {
		outcome, err = s.accept(ctx, session, policy)
	} else {
		outcome, err = s.reject(ctx, session, req.Source)
	}
	if err == nil {
		s.metrics.IncAnswer(outcome.Kind.String())
	}
	return outcome, err
}

// accept resolves the session as verified. The eviction job is cancelled
// before the session is deleted; if the delete fails the job is restored for
// the rest of its window.
func (s *Service) accept(ctx context.Context, session *models.Session, policy models.Policy) (models.Outcome, error) {
	key := session.Key()
	evictKey := ports.EvictionKey(key)
	pending := s.jobs.Find(evictKey)
	s.jobs.CancelKey(evictKey)

	if err := s.sessions.Delete(ctx, key); err != nil {
		s.restoreEviction(ctx, session, policy, pending)
		return models.Outcome{}, dErrors.Wrap(err, dErrors.CodePersistenceUnavailable, "failed to resolve session")
	}

	now := requestcontext.Now(ctx)
	s.metrics.ObserveVerification(now.Sub(session.CreatedAt))
	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		Action:   audit.ActionVerificationPassed,
		ChatID:   session.ChatID,
		UserID:   session.UserID,
		Attempts: session.Attempts,
		Decision: "admitted",
	})

	welcome, err := s.gateway.PostMessage(ctx, session.ChatID, welcomeText(policy.WelcomeText), nil)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to post welcome message",
			"chat_id", session.ChatID, "user_id", session.UserID, "error", err)
	} else {
		s.scheduleCleanup(ctx, scheduler.Key{ChatID: session.ChatID, UserID: session.UserID, Kind: scheduler.KindWelcomeCleanup},
			policy.WelcomeDisplay, session.ChatID, []models.MessageRef{welcome})
	}
	s.scheduleCleanup(ctx, scheduler.Key{ChatID: session.ChatID, UserID: session.UserID, Kind: scheduler.KindMessageCleanup},
		TransientCleanupDelay, session.ChatID, session.CleanupRefs())

	return models.Outcome{Kind: models.OutcomeSuccess, Attempts: session.Attempts}, nil
}

func (s *Service) restoreEviction(ctx context.Context, session *models.Session, policy models.Policy, pending []*scheduler.Job) {
	payload := any(models.EvictionJob{
		ChatID:      session.ChatID,
		UserID:      session.UserID,
		DisplayName: session.DisplayName,
		Strict:      session.Strict,
		Reason:      models.EvictionTimeout,
	})
	delay := session.CreatedAt.Add(policy.Timeout).Sub(requestcontext.Now(ctx))
	if len(pending) > 0 {
		payload = pending[0].Payload
		delay = time.Until(pending[0].RunAt)
	}
	if _, err := s.jobs.Replace(ports.EvictionKey(session.Key()), max(delay, 0), payload, s.runEviction); err != nil {
		s.logger.ErrorContext(ctx, "failed to restore eviction job",
			"chat_id", session.ChatID, "user_id", session.UserID, "error", err)
	}
}

// reject counts an incorrect answer. Reaching the attempt limit commits the
// session to eviction and fires the eviction job immediately.
func (s *Service) reject(ctx context.Context, session *models.Session, source *models.MessageRef) (models.Outcome, error) {
	session.RecordFailure(source)
	exhausted := session.Exhausted(session.AttemptLimit)
	if exhausted {
		session.Status = models.SessionEvicting
	}

	if err := s.sessions.Update(ctx, session); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Outcome{Kind: models.OutcomeNoActiveSession}, nil
		}
		return models.Outcome{}, dErrors.Wrap(err, dErrors.CodePersistenceUnavailable, "failed to record attempt")
	}

	if exhausted {
		job := models.EvictionJob{
			ChatID:      session.ChatID,
			UserID:      session.UserID,
			DisplayName: session.DisplayName,
			Strict:      session.Strict,
			Reason:      models.EvictionAttempts,
		}
		if _, err := s.jobs.Replace(ports.EvictionKey(session.Key()), 0, job, s.runEviction); err != nil {
			// The sweep purges the evicting session once the grace window passes.
			s.logger.ErrorContext(ctx, "failed to schedule immediate eviction",
				"chat_id", session.ChatID, "user_id", session.UserID, "error", err)
		}
		audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
			Action:   audit.ActionAttemptsExhausted,
			ChatID:   session.ChatID,
			UserID:   session.UserID,
			Attempts: session.Attempts,
			Decision: "evict",
		})
		return models.Outcome{Kind: models.OutcomeLimitExceeded, Attempts: session.Attempts}, nil
	}

	remaining := session.Remaining(session.AttemptLimit)
	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		Action:   audit.ActionAnswerRejected,
		ChatID:   session.ChatID,
		UserID:   session.UserID,
		Attempts: session.Attempts,
		Decision: "retry",
	})
	err := s.gateway.EditMessage(ctx, session.ChatID, session.ChallengeMessage,
		retryText(session.Question, remaining),
		&models.PostOptions{Keyboard: keyboard(session.UserID, session.Options)},
	)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to show retry feedback",
			"chat_id", session.ChatID, "user_id", session.UserID, "error", err)
	}
	return models.Outcome{Kind: models.OutcomeRetry, Attempts: session.Attempts, Remaining: remaining}, nil
}

// policy returns the effective group policy. A settings failure degrades to
// the defaults so joiners are still challenged.
func (s *Service) policy(ctx context.Context, chatID int64) models.Policy {
	stored, err := s.settings.GetPolicy(ctx, chatID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to load group policy, using defaults", "chat_id", chatID, "error", err)
		return models.DefaultPolicy()
	}
	return models.EffectivePolicy(stored)
}

func (s *Service) startSpan(ctx context.Context, name string, chatID, userID int64) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.Int64("chat.id", chatID),
		attribute.Int64("user.id", userID),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
