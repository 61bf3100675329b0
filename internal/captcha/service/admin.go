package service

import (
	"context"
	"time"

	"gatekeeper/internal/captcha/models"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/requestcontext"
)

// PendingSessions lists every session currently awaiting an answer or an
// eviction, oldest first.
func (s *Service) PendingSessions(ctx context.Context) ([]*models.Session, error) {
	// Sessions are stamped with the current time, so a cutoff in the future
	// includes all of them.
	cutoff := requestcontext.Now(ctx).Add(24 * time.Hour)
	sessions, err := s.sessions.ListCreatedBefore(ctx, cutoff)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistenceUnavailable, "failed to list sessions")
	}
	return sessions, nil
}

// GroupPolicy returns the stored policy for a chat and whether one exists.
// Absent policies report the defaults.
func (s *Service) GroupPolicy(ctx context.Context, chatID int64) (models.Policy, bool, error) {
	stored, err := s.settings.GetPolicy(ctx, chatID)
	if err != nil {
		return models.Policy{}, false, dErrors.Wrap(err, dErrors.CodePersistenceUnavailable, "failed to load policy")
	}
	return models.EffectivePolicy(stored), stored != nil, nil
}

// UpdateGroupPolicy validates and stores a chat policy. The normalized
// policy that admissions will use is returned.
func (s *Service) UpdateGroupPolicy(ctx context.Context, chatID int64, policy models.Policy) (models.Policy, error) {
	if err := validatePolicy(policy); err != nil {
		return models.Policy{}, err
	}
	effective := models.EffectivePolicy(&policy)
	if err := s.settings.SavePolicy(ctx, chatID, effective); err != nil {
		return models.Policy{}, dErrors.Wrap(err, dErrors.CodePersistenceUnavailable, "failed to save policy")
	}
	s.logger.InfoContext(ctx, "group policy updated",
		"chat_id", chatID,
		"timeout", effective.Timeout.String(),
		"attempt_limit", effective.AttemptLimit,
		"strict", effective.Strict,
		"challenge_mode", string(effective.Challenge.Mode),
	)
	return effective, nil
}

// GroupStatistics returns recent member count snapshots, newest first.
func (s *Service) GroupStatistics(ctx context.Context, chatID int64, limit int) ([]models.GroupStatistic, error) {
	stats, err := s.settings.MemberCounts(ctx, chatID, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistenceUnavailable, "failed to load statistics")
	}
	return stats, nil
}

func validatePolicy(p models.Policy) error {
	switch {
	case p.Timeout < 0:
		return dErrors.New(dErrors.CodeValidation, "timeout must not be negative")
	case p.AttemptLimit < 0:
		return dErrors.New(dErrors.CodeValidation, "attempt limit must not be negative")
	case p.WelcomeDisplay < 0:
		return dErrors.New(dErrors.CodeValidation, "welcome display must not be negative")
	}
	switch p.Challenge.Mode {
	case "", models.ChallengeOpen:
	case models.ChallengeMultiple:
		if len(p.Challenge.Answers) != 1 {
			return dErrors.New(dErrors.CodeValidation, "multiple-choice challenges take exactly one correct answer")
		}
	default:
		return dErrors.New(dErrors.CodeValidation, "unknown challenge mode")
	}
	if (p.Challenge.Question == "") != (len(p.Challenge.Answers) == 0) {
		return dErrors.New(dErrors.CodeValidation, "challenge question and answers must be set together")
	}
	return nil
}
