package audit

import (
	"context"
	"log/slog"

	"gatekeeper/pkg/requestcontext"
)

// LogAudit logs an audit event to the structured logger and emits it to the
// publisher if one is configured. Publisher failures are logged, never
// returned: auditing must not change the outcome of the audited action.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher Publisher, event Event) {
	if logger != nil {
		args := []any{
			"event", string(event.Action),
			"log_type", "audit",
			"chat_id", event.ChatID,
			"user_id", event.UserID,
		}
		if event.Attempts > 0 {
			args = append(args, "attempts", event.Attempts)
		}
		if event.Decision != "" {
			args = append(args, "decision", event.Decision)
		}
		if event.Reason != "" {
			args = append(args, "reason", event.Reason)
		}
		if requestID := requestcontext.RequestID(ctx); requestID != "" {
			args = append(args, "request_id", requestID)
		}
		logger.InfoContext(ctx, string(event.Action), args...)
	}

	if publisher == nil {
		return
	}
	if err := publisher.Emit(ctx, event); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", string(event.Action), "error", err)
	}
}
