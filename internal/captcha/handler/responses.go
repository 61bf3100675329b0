package handler

import (
	"time"

	"gatekeeper/internal/captcha/models"
)

type PolicyResponse struct {
	ChatID                int64             `json:"chat_id"`
	Stored                bool              `json:"stored"`
	TimeoutSeconds        int               `json:"timeout_seconds"`
	AttemptLimit          int               `json:"attempt_limit"`
	WelcomeText           string            `json:"welcome_text"`
	WelcomeDisplaySeconds int               `json:"welcome_display_seconds"`
	Strict                bool              `json:"strict"`
	Challenge             ChallengeResponse `json:"challenge"`
}

type ChallengeResponse struct {
	Mode     string   `json:"mode"`
	Question string   `json:"question"`
	Answers  []string `json:"answers"`
	Options  []string `json:"options,omitempty"`
}

type SessionResponse struct {
	ChatID       int64     `json:"chat_id"`
	UserID       int64     `json:"user_id"`
	Name         string    `json:"display_name"`
	Status       string    `json:"status"`
	Attempts     int       `json:"attempts"`
	AttemptLimit int       `json:"attempt_limit"`
	CreatedAt    time.Time `json:"created_at"`
}

type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	Total    int               `json:"total"`
}

type StatisticsResponse struct {
	ChatID    int64                   `json:"chat_id"`
	Snapshots []models.GroupStatistic `json:"snapshots"`
}

type SweepResponse struct {
	Scanned int `json:"scanned"`
	Deleted int `json:"deleted"`
	Skipped int `json:"skipped"`
}

func toPolicyResponse(chatID int64, p models.Policy, stored bool) PolicyResponse {
	return PolicyResponse{
		ChatID:                chatID,
		Stored:                stored,
		TimeoutSeconds:        int(p.Timeout / time.Second),
		AttemptLimit:          p.AttemptLimit,
		WelcomeText:           p.WelcomeText,
		WelcomeDisplaySeconds: int(p.WelcomeDisplay / time.Second),
		Strict:                p.Strict,
		Challenge: ChallengeResponse{
			Mode:     string(p.Challenge.Mode),
			Question: p.Challenge.Question,
			Answers:  p.Challenge.Answers,
			Options:  p.Challenge.Options,
		},
	}
}

// toSessionList omits the accepted answers so the admin listing cannot leak
// them.
func toSessionList(sessions []*models.Session) SessionListResponse {
	out := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionResponse{
			ChatID:       s.ChatID,
			UserID:       s.UserID,
			Name:         s.DisplayName,
			Status:       string(s.Status),
			Attempts:     s.Attempts,
			AttemptLimit: s.AttemptLimit,
			CreatedAt:    s.CreatedAt,
		})
	}
	return SessionListResponse{Sessions: out, Total: len(out)}
}
