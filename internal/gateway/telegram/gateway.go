// Package telegram adapts the Telegram Bot API to the verification service:
// Gateway performs chat side effects and Router feeds updates into the
// engine.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gatekeeper/internal/captcha/models"
	"gatekeeper/pkg/platform/sentinel"
)

// botAPI is the subset of *tgbotapi.BotAPI the gateway calls.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	GetChatMembersCount(config tgbotapi.ChatMemberCountConfig) (int, error)
}

// Gateway implements ports.Gateway on the Bot API. Calls are synchronous;
// the library has no context support so ctx only gates the call start.
type Gateway struct {
	bot    botAPI
	logger *slog.Logger
}

type Option func(*Gateway)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

func NewGateway(bot botAPI, opts ...Option) *Gateway {
	g := &Gateway{bot: bot, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) PostMessage(ctx context.Context, chatID int64, text string, opts *models.PostOptions) (models.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if opts != nil {
		msg.ReplyToMessageID = int(opts.ReplyTo)
		msg.AllowSendingWithoutReply = true
		if markup := inlineKeyboard(opts.Keyboard); markup != nil {
			msg.ReplyMarkup = *markup
		}
	}
	sent, err := g.bot.Send(msg)
	if err != nil {
		return 0, classify("send message", err)
	}
	return models.MessageRef(sent.MessageID), nil
}

func (g *Gateway) EditMessage(ctx context.Context, chatID int64, ref models.MessageRef, text string, opts *models.PostOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(chatID, int(ref), text)
	if opts != nil {
		edit.ReplyMarkup = inlineKeyboard(opts.Keyboard)
	}
	if _, err := g.bot.Request(edit); err != nil {
		if isNotModified(err) {
			return nil
		}
		return classify("edit message", err)
	}
	return nil
}

func (g *Gateway) DeleteMessage(ctx context.Context, chatID int64, ref models.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := g.bot.Request(tgbotapi.NewDeleteMessage(chatID, int(ref))); err != nil {
		return classify("delete message", err)
	}
	return nil
}

func (g *Gateway) BanMember(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ban := tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
	}
	if _, err := g.bot.Request(ban); err != nil {
		return classify("ban member", err)
	}
	return nil
}

func (g *Gateway) UnbanMember(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unban := tgbotapi.UnbanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		OnlyIfBanned:     true,
	}
	if _, err := g.bot.Request(unban); err != nil {
		return classify("unban member", err)
	}
	return nil
}

func (g *Gateway) MemberStatus(ctx context.Context, chatID, userID int64) (models.MemberStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	member, err := g.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil {
		return "", classify("get chat member", err)
	}
	return models.MemberStatus(member.Status), nil
}

func (g *Gateway) MemberCount(ctx context.Context, chatID int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := g.bot.GetChatMembersCount(tgbotapi.ChatMemberCountConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return 0, classify("get member count", err)
	}
	return n, nil
}

// AnswerCallback acknowledges an inline button press, optionally showing text.
func (g *Gateway) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := g.bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return classify("answer callback", err)
	}
	return nil
}

func inlineKeyboard(rows [][]models.Button) *tgbotapi.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		out = append(out, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(out...)
	return &markup
}

// classify maps Bot API failures onto sentinel errors.
func classify(op string, err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
	}
	desc := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.Code == 403,
		strings.Contains(desc, "not enough rights"),
		strings.Contains(desc, "chat_admin_required"),
		strings.Contains(desc, "have no rights"),
		strings.Contains(desc, "can't remove chat owner"),
		strings.Contains(desc, "user is an administrator"):
		return fmt.Errorf("%s: %w: %s", op, sentinel.ErrPermissionDenied, apiErr.Message)
	case strings.Contains(desc, "not found"),
		strings.Contains(desc, "message_id_invalid"),
		strings.Contains(desc, "message can't be deleted"):
		return fmt.Errorf("%s: %w: %s", op, sentinel.ErrNotFound, apiErr.Message)
	case apiErr.Code == 429, apiErr.Code >= 500:
		return fmt.Errorf("%s: %w: %s", op, sentinel.ErrUnavailable, apiErr.Message)
	default:
		return fmt.Errorf("%s: %s (code %d)", op, apiErr.Message, apiErr.Code)
	}
}

func isNotModified(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.Message), "message is not modified")
}
