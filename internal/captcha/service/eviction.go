package service

import (
	"context"
	"errors"

	"gatekeeper/internal/audit"
	"gatekeeper/internal/captcha/models"
	"gatekeeper/internal/scheduler"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/platform/sentinel"
)

// Evict removes a member whose session timed out or ran out of attempts.
// It is a no-op when the session was resolved after the job was scheduled.
// Chat side effects are best-effort; the session is deleted regardless.
func (s *Service) Evict(ctx context.Context, job models.EvictionJob) (result models.EvictionResult, err error) {
	ctx, span := s.startSpan(ctx, "captcha.Evict", job.ChatID, job.UserID)
	defer func() { endSpan(span, err) }()

	key := job.Key()
	unlock, err := s.locks.Lock(ctx, key)
	if err != nil {
		return result, err
	}
	defer unlock()

	session, err := s.sessions.Get(ctx, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.logger.DebugContext(ctx, "eviction skipped, session already resolved",
			"chat_id", job.ChatID, "user_id", job.UserID)
		return result, nil
	}
	if err != nil {
		s.metrics.IncEvictionFailure("persistence")
		return result, dErrors.Wrap(err, dErrors.CodePersistenceUnavailable, "failed to load session for eviction")
	}

	result.Executed = true
	result.Action = s.removeMember(ctx, job)
	result.DeletedMessages, result.FailedMessages = s.deleteMessages(ctx, job.ChatID, session.CleanupRefs())

	if result.Action != models.ActionNone {
		name := job.DisplayName
		if name == "" {
			name = session.DisplayName
		}
		notice, postErr := s.gateway.PostMessage(ctx, job.ChatID, evictionNotice(name, result.Action), nil)
		if postErr != nil {
			s.logger.WarnContext(ctx, "failed to post eviction notice", "chat_id", job.ChatID, "error", postErr)
		} else {
			s.scheduleCleanup(ctx, scheduler.Key{ChatID: job.ChatID, UserID: job.UserID, Kind: scheduler.KindNoticeCleanup},
				NoticeDisplay, job.ChatID, []models.MessageRef{notice})
		}
	}

	if delErr := s.sessions.Delete(ctx, key); delErr != nil {
		s.metrics.IncEvictionFailure("persistence")
		err = dErrors.Wrap(delErr, dErrors.CodePersistenceUnavailable, "failed to delete evicted session")
	}

	s.metrics.IncEviction(string(result.Action), string(job.Reason))
	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		Action:   audit.ActionMemberEvicted,
		ChatID:   job.ChatID,
		UserID:   job.UserID,
		Attempts: session.Attempts,
		Decision: string(result.Action),
		Reason:   string(job.Reason),
	})
	return result, err
}

// removeMember bans the member, then unbans unless strict so they may rejoin.
// A member who already left is not banned.
func (s *Service) removeMember(ctx context.Context, job models.EvictionJob) models.EvictionAction {
	status, err := s.gateway.MemberStatus(ctx, job.ChatID, job.UserID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to read member status, assuming present",
			"chat_id", job.ChatID, "user_id", job.UserID, "error", err)
	} else if !status.Present() {
		s.logger.InfoContext(ctx, "member already gone, skipping ban",
			"chat_id", job.ChatID, "user_id", job.UserID, "status", string(status))
		return models.ActionNone
	}

	if err := s.gateway.BanMember(ctx, job.ChatID, job.UserID); err != nil {
		cause := "gateway"
		if errors.Is(err, sentinel.ErrPermissionDenied) {
			cause = "permission"
			s.notifyMissingPermission(ctx, job.ChatID, rightBan)
		}
		s.metrics.IncEvictionFailure(cause)
		audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
			Action: audit.ActionEvictionFailed,
			ChatID: job.ChatID,
			UserID: job.UserID,
			Reason: cause,
		})
		s.logger.ErrorContext(ctx, "failed to remove member",
			"chat_id", job.ChatID, "user_id", job.UserID, "error", err)
		return models.ActionNone
	}
	s.permissionNotified.Delete(permissionNotice{chatID: job.ChatID, right: rightBan})

	if job.Strict {
		return models.ActionBanned
	}
	if err := s.gateway.UnbanMember(ctx, job.ChatID, job.UserID); err != nil {
		// The member stays banned; report what actually happened.
		s.logger.WarnContext(ctx, "failed to unban kicked member",
			"chat_id", job.ChatID, "user_id", job.UserID, "error", err)
		return models.ActionBanned
	}
	return models.ActionKicked
}

// permissionRight names an administrator right the bot needs in a chat.
type permissionRight string

const (
	rightBan    permissionRight = "ban"
	rightDelete permissionRight = "delete"
)

type permissionNotice struct {
	chatID int64
	right  permissionRight
}

// notifyMissingPermission tells the group once per right that the bot lacks
// it. The notice is re-armed by the next call in that chat that succeeds
// with the same right.
func (s *Service) notifyMissingPermission(ctx context.Context, chatID int64, right permissionRight) {
	key := permissionNotice{chatID: chatID, right: right}
	if _, already := s.permissionNotified.LoadOrStore(key, struct{}{}); already {
		return
	}
	text := permissionNoticeText
	if right == rightDelete {
		text = deletePermissionNoticeText
	}
	if _, err := s.gateway.PostMessage(ctx, chatID, text, nil); err != nil {
		s.logger.WarnContext(ctx, "failed to post permission notice",
			"chat_id", chatID, "right", string(right), "error", err)
		s.permissionNotified.Delete(key)
	}
}

// runEviction adapts Evict to the scheduler callback shape.
func (s *Service) runEviction(ctx context.Context, job *scheduler.Job) {
	payload, ok := job.Payload.(models.EvictionJob)
	if !ok {
		s.logger.ErrorContext(ctx, "eviction job has unexpected payload", "job", job.Key.String())
		return
	}
	if _, err := s.Evict(ctx, payload); err != nil {
		s.logger.ErrorContext(ctx, "eviction failed",
			"chat_id", payload.ChatID, "user_id", payload.UserID, "error", err)
	}
}
