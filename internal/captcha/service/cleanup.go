package service

import (
	"context"
	"errors"
	"time"

	"gatekeeper/internal/captcha/models"
	"gatekeeper/internal/scheduler"
	"gatekeeper/pkg/platform/sentinel"
)

// cleanupPayload lists messages a cleanup job deletes.
type cleanupPayload struct {
	ChatID int64
	Refs   []models.MessageRef
}

// NotifyFailure posts a short-lived generic failure notice, used when a join
// or answer could not be recorded.
func (s *Service) NotifyFailure(ctx context.Context, chatID, userID int64) {
	ref, err := s.gateway.PostMessage(ctx, chatID, failureNoticeText, nil)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to post failure notice", "chat_id", chatID, "user_id", userID, "error", err)
		return
	}
	s.scheduleCleanup(ctx, scheduler.Key{ChatID: chatID, UserID: userID, Kind: scheduler.KindNoticeCleanup},
		NoticeDisplay, chatID, []models.MessageRef{ref})
}

func (s *Service) scheduleCleanup(ctx context.Context, key scheduler.Key, delay time.Duration, chatID int64, refs []models.MessageRef) {
	if len(refs) == 0 {
		return
	}
	payload := cleanupPayload{ChatID: chatID, Refs: append([]models.MessageRef(nil), refs...)}
	if _, err := s.jobs.Schedule(key, delay, payload, s.runCleanup); err != nil {
		s.logger.WarnContext(ctx, "failed to schedule message cleanup", "job", key.String(), "error", err)
	}
}

func (s *Service) runCleanup(ctx context.Context, job *scheduler.Job) {
	payload, ok := job.Payload.(cleanupPayload)
	if !ok {
		s.logger.ErrorContext(ctx, "cleanup job has unexpected payload", "job", job.Key.String())
		return
	}
	s.deleteMessages(ctx, payload.ChatID, payload.Refs)
}

// deleteMessages deletes each ref independently; one failure never stops
// the rest.
func (s *Service) deleteMessages(ctx context.Context, chatID int64, refs []models.MessageRef) (deleted, failed int) {
	for _, ref := range refs {
		if s.deleteMessage(ctx, chatID, ref) {
			deleted++
		} else {
			failed++
		}
	}
	return deleted, failed
}

func (s *Service) deleteMessage(ctx context.Context, chatID int64, ref models.MessageRef) bool {
	err := s.gateway.DeleteMessage(ctx, chatID, ref)
	switch {
	case err == nil:
		s.metrics.IncMessageDelete("deleted")
		s.permissionNotified.Delete(permissionNotice{chatID: chatID, right: rightDelete})
		return true
	case errors.Is(err, sentinel.ErrNotFound):
		s.metrics.IncMessageDelete("not_found")
		s.logger.DebugContext(ctx, "message already gone", "chat_id", chatID, "message_id", int(ref))
	case errors.Is(err, sentinel.ErrPermissionDenied):
		s.metrics.IncMessageDelete("permission")
		s.logger.WarnContext(ctx, "no permission to delete message", "chat_id", chatID, "message_id", int(ref))
		s.notifyMissingPermission(ctx, chatID, rightDelete)
	default:
		s.metrics.IncMessageDelete("failed")
		s.logger.WarnContext(ctx, "failed to delete message", "chat_id", chatID, "message_id", int(ref), "error", err)
	}
	return false
}
