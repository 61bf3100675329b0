package service

import (
	"context"
	"errors"
	"fmt"

	"gatekeeper/internal/scheduler"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/requestcontext"
)

// RecordStatistics snapshots the member count of every configured chat.
// Per-chat failures are joined; the remaining chats are still recorded.
func (s *Service) RecordStatistics(ctx context.Context) (int, error) {
	chats, err := s.settings.ListChats(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodePersistenceUnavailable, "failed to list chats")
	}

	now := requestcontext.Now(ctx)
	recorded := 0
	var errs []error
	for _, chatID := range chats {
		count, err := s.gateway.MemberCount(ctx, chatID)
		if err != nil {
			errs = append(errs, fmt.Errorf("member count for chat %d: %w", chatID, err))
			continue
		}
		if err := s.settings.RecordMemberCount(ctx, chatID, count, now); err != nil {
			errs = append(errs, fmt.Errorf("record member count for chat %d: %w", chatID, err))
			continue
		}
		recorded++
		s.logger.InfoContext(ctx, "group statistics updated", "chat_id", chatID, "member_count", count)
	}
	return recorded, errors.Join(errs...)
}

func (s *Service) runStatistics(ctx context.Context, _ *scheduler.Job) {
	if _, err := s.RecordStatistics(ctx); err != nil {
		s.logger.WarnContext(ctx, "statistics job finished with errors", "error", err)
	}
}
