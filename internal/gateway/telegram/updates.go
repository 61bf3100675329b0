package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"gatekeeper/internal/captcha/models"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/requestcontext"
)

// Verifier is the slice of the verification service the router drives.
type Verifier interface {
	Admit(ctx context.Context, req models.AdmitRequest) (*models.Session, error)
	SubmitAnswer(ctx context.Context, req models.AnswerRequest) (models.Outcome, error)
	NotifyFailure(ctx context.Context, chatID, userID int64)
}

type updateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Router turns Bot API updates into engine calls. Updates are handled
// concurrently up to a fixed limit; per-member ordering is enforced by the
// engine's key lock, not here.
type Router struct {
	source      updateSource
	gateway     *Gateway
	verifier    Verifier
	botID       int64
	pollTimeout int
	concurrency int
	logger      *slog.Logger
}

type RouterOption func(*Router)

func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

func WithConcurrency(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithPollTimeout(seconds int) RouterOption {
	return func(r *Router) {
		if seconds > 0 {
			r.pollTimeout = seconds
		}
	}
}

func NewRouter(source updateSource, gateway *Gateway, verifier Verifier, botID int64, opts ...RouterOption) *Router {
	r := &Router{
		source:      source,
		gateway:     gateway,
		verifier:    verifier,
		botID:       botID,
		pollTimeout: 60,
		concurrency: 16,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run long-polls for updates until ctx is cancelled, then waits for
// in-flight handlers.
func (r *Router) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = r.pollTimeout
	cfg.AllowedUpdates = []string{"message", "callback_query"}
	updates := r.source.GetUpdatesChan(cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for {
		select {
		case <-ctx.Done():
			r.source.StopReceivingUpdates()
			return g.Wait()
		case update, ok := <-updates:
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				r.Handle(gctx, update)
				return nil
			})
		}
	}
}

// Handle dispatches a single update.
func (r *Router) Handle(ctx context.Context, update tgbotapi.Update) {
	ctx = requestcontext.WithRequestID(ctx, "tg-"+strconv.Itoa(update.UpdateID))
	switch {
	case update.CallbackQuery != nil:
		r.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		r.handleMessage(ctx, update.Message)
	}
}

func (r *Router) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil || !(msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()) {
		return
	}
	switch {
	case len(msg.NewChatMembers) > 0:
		r.handleJoin(ctx, msg)
	case msg.LeftChatMember != nil:
		r.handleLeft(ctx, msg)
	case msg.From != nil && !msg.From.IsBot && msg.Text != "" && !msg.IsCommand():
		r.handleText(ctx, msg)
	}
}

func (r *Router) handleJoin(ctx context.Context, msg *tgbotapi.Message) {
	for _, member := range msg.NewChatMembers {
		if member.IsBot {
			continue
		}
		_, err := r.verifier.Admit(ctx, models.AdmitRequest{
			ChatID:      msg.Chat.ID,
			UserID:      member.ID,
			DisplayName: fullName(member),
			JoinMessage: models.MessageRef(msg.MessageID),
		})
		switch {
		case err == nil:
		case errors.Is(err, models.ErrSessionAlreadyActive):
			r.logger.DebugContext(ctx, "join ignored, verification already pending",
				"chat_id", msg.Chat.ID, "user_id", member.ID)
		default:
			r.logger.ErrorContext(ctx, "failed to admit member",
				"chat_id", msg.Chat.ID, "user_id", member.ID, "error", err)
			r.surfaceFailure(ctx, msg.Chat.ID, member.ID, err)
		}
	}
}

// handleLeft deletes the "member left" service message when the removal was
// performed by this bot, so evictions leave no trace in the chat.
func (r *Router) handleLeft(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.From.ID != r.botID {
		return
	}
	if err := r.gateway.DeleteMessage(ctx, msg.Chat.ID, models.MessageRef(msg.MessageID)); err != nil {
		r.logger.DebugContext(ctx, "failed to delete removal notice", "chat_id", msg.Chat.ID, "error", err)
	}
}

func (r *Router) handleText(ctx context.Context, msg *tgbotapi.Message) {
	source := models.MessageRef(msg.MessageID)
	_, err := r.verifier.SubmitAnswer(ctx, models.AnswerRequest{
		ChatID:    msg.Chat.ID,
		UserID:    msg.From.ID,
		Candidate: msg.Text,
		Source:    &source,
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to evaluate answer",
			"chat_id", msg.Chat.ID, "user_id", msg.From.ID, "error", err)
		r.surfaceFailure(ctx, msg.Chat.ID, msg.From.ID, err)
	}
}

// surfaceFailure tells the chat when storage lost a join or answer. Gateway
// failures are only logged.
func (r *Router) surfaceFailure(ctx context.Context, chatID, userID int64, err error) {
	if dErrors.HasCode(err, dErrors.CodePersistenceUnavailable) {
		r.verifier.NotifyFailure(ctx, chatID, userID)
	}
}

func (r *Router) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	userID, idx, ok := models.ParseCallbackData(cb.Data)
	if !ok || cb.Message == nil || cb.Message.Chat == nil || cb.From == nil {
		r.answerCallback(ctx, cb.ID, "")
		return
	}
	if cb.From.ID != userID {
		r.answerCallback(ctx, cb.ID, "This captcha is not for you.")
		return
	}

	outcome, err := r.verifier.SubmitAnswer(ctx, models.AnswerRequest{
		ChatID:        cb.Message.Chat.ID,
		UserID:        userID,
		Button:        &idx,
		ButtonMessage: models.MessageRef(cb.Message.MessageID),
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to evaluate button answer",
			"chat_id", cb.Message.Chat.ID, "user_id", userID, "error", err)
		r.answerCallback(ctx, cb.ID, "Something went wrong, please try again.")
		return
	}
	r.answerCallback(ctx, cb.ID, callbackText(outcome))
}

func (r *Router) answerCallback(ctx context.Context, id, text string) {
	if err := r.gateway.AnswerCallback(ctx, id, text); err != nil {
		r.logger.DebugContext(ctx, "failed to answer callback", "error", err)
	}
}

func callbackText(outcome models.Outcome) string {
	switch outcome.Kind {
	case models.OutcomeSuccess:
		return "Correct!"
	case models.OutcomeRetry:
		return "Incorrect, try again."
	case models.OutcomeLimitExceeded:
		return "Incorrect."
	default:
		return ""
	}
}

func fullName(u tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.UserName
	}
	return name
}
