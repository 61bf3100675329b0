package telegram

import (
	"context"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gatekeeper/internal/captcha/models"
)

type fakeBot struct {
	mu        sync.Mutex
	sent      []tgbotapi.Chattable
	requested []tgbotapi.Chattable
	nextID    int

	sendErr    error
	requestErr error
	member     tgbotapi.ChatMember
	memberErr  error
	count      int
	countErr   error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return tgbotapi.Message{}, b.sendErr
	}
	b.nextID++
	b.sent = append(b.sent, c)
	return tgbotapi.Message{MessageID: 100 + b.nextID}, nil
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requested = append(b.requested, c)
	if b.requestErr != nil {
		return nil, b.requestErr
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) GetChatMember(tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	return b.member, b.memberErr
}

func (b *fakeBot) GetChatMembersCount(tgbotapi.ChatMemberCountConfig) (int, error) {
	return b.count, b.countErr
}

func (b *fakeBot) requests() []tgbotapi.Chattable {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]tgbotapi.Chattable(nil), b.requested...)
}

type fakeVerifier struct {
	mu      sync.Mutex
	admits   []models.AdmitRequest
	answers  []models.AnswerRequest
	failures []int64

	admitErr  error
	outcome   models.Outcome
	answerErr error
}

func (v *fakeVerifier) Admit(_ context.Context, req models.AdmitRequest) (*models.Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.admits = append(v.admits, req)
	if v.admitErr != nil {
		return nil, v.admitErr
	}
	return &models.Session{ChatID: req.ChatID, UserID: req.UserID}, nil
}

func (v *fakeVerifier) SubmitAnswer(_ context.Context, req models.AnswerRequest) (models.Outcome, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.answers = append(v.answers, req)
	return v.outcome, v.answerErr
}

func (v *fakeVerifier) NotifyFailure(_ context.Context, _ int64, userID int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failures = append(v.failures, userID)
}

func (v *fakeVerifier) admitCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.admits)
}

type fakeSource struct {
	ch      chan tgbotapi.Update
	stopped chan struct{}
	once    sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan tgbotapi.Update, 8), stopped: make(chan struct{})}
}

func (s *fakeSource) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return s.ch
}

func (s *fakeSource) StopReceivingUpdates() {
	s.once.Do(func() { close(s.stopped) })
}
