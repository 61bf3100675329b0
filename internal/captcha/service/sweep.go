package service

import (
	"context"
	"errors"
	"time"

	"gatekeeper/internal/audit"
	"gatekeeper/internal/captcha/models"
	"gatekeeper/internal/captcha/ports"
	"gatekeeper/internal/scheduler"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/platform/sentinel"
	"gatekeeper/pkg/requestcontext"
)

// Sweep deletes sessions older than the grace window that no eviction job
// will ever resolve, typically because the process restarted and lost its
// timers. Sessions with a registered eviction job are left to that job.
// No chat actions are taken.
func (s *Service) Sweep(ctx context.Context) (result models.SweepResult, err error) {
	ctx, span := s.tracer.Start(ctx, "captcha.Sweep")
	defer func() { endSpan(span, err) }()

	started := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(started)) }()

	cutoff := requestcontext.Now(ctx).Add(-s.graceWindow)
	stale, err := s.sessions.ListCreatedBefore(ctx, cutoff)
	if err != nil {
		return result, dErrors.Wrap(err, dErrors.CodePersistenceUnavailable, "failed to list sessions")
	}

	for _, candidate := range stale {
		result.Scanned++
		deleted, err := s.sweepOne(ctx, candidate)
		if err != nil {
			if ctx.Err() != nil {
				return result, err
			}
			s.logger.WarnContext(ctx, "failed to sweep session",
				"chat_id", candidate.ChatID, "user_id", candidate.UserID, "error", err)
			result.Skipped++
			continue
		}
		if deleted {
			result.Deleted++
		} else {
			result.Skipped++
		}
	}

	s.metrics.AddOrphansSwept(result.Deleted)
	s.logger.InfoContext(ctx, "reconciliation sweep finished",
		"scanned", result.Scanned, "deleted", result.Deleted, "skipped", result.Skipped)
	return result, nil
}

func (s *Service) sweepOne(ctx context.Context, candidate *models.Session) (bool, error) {
	key := candidate.Key()
	if s.hasPendingEviction(key) {
		return false, nil
	}

	unlock, err := s.locks.Lock(ctx, key)
	if err != nil {
		return false, err
	}
	defer unlock()

	// Re-check under the lock: the session may have been resolved, or a new
	// session for the same key may have replaced it, since listing.
	current, err := s.sessions.Get(ctx, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !current.CreatedAt.Equal(candidate.CreatedAt) || s.hasPendingEviction(key) {
		return false, nil
	}

	if err := s.sessions.Delete(ctx, key); err != nil {
		return false, err
	}
	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		Action:   audit.ActionOrphanSwept,
		ChatID:   key.ChatID,
		UserID:   key.UserID,
		Attempts: current.Attempts,
		Reason:   string(current.Status),
	})
	return true, nil
}

func (s *Service) hasPendingEviction(key models.SessionKey) bool {
	return len(s.jobs.Find(ports.EvictionKey(key))) > 0
}

func (s *Service) runSweep(ctx context.Context, _ *scheduler.Job) {
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.ErrorContext(ctx, "reconciliation sweep failed", "error", err)
	}
}

// Start registers the recurring sweep and statistics jobs.
func (s *Service) Start() error {
	if _, err := s.jobs.Every(scheduler.Key{Kind: scheduler.KindSweep}, s.sweepDelay, s.sweepInterval, nil, s.runSweep); err != nil {
		return err
	}
	if _, err := s.jobs.Every(scheduler.Key{Kind: scheduler.KindStatistics}, StatisticsInterval, StatisticsInterval, nil, s.runStatistics); err != nil {
		return err
	}
	return nil
}
