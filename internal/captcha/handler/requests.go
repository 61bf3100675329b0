package handler

import (
	"strings"
	"time"

	"gatekeeper/internal/captcha/models"
)

// PolicyRequest is the PUT body for group settings. Durations are seconds;
// zero or omitted fields fall back to the defaults.
type PolicyRequest struct {
	TimeoutSeconds        int              `json:"timeout_seconds"`
	AttemptLimit          int              `json:"attempt_limit"`
	WelcomeText           string           `json:"welcome_text"`
	WelcomeDisplaySeconds int              `json:"welcome_display_seconds"`
	Strict                bool             `json:"strict"`
	Challenge             ChallengeRequest `json:"challenge"`
}

type ChallengeRequest struct {
	Mode     string   `json:"mode"`
	Question string   `json:"question"`
	Answers  []string `json:"answers"`
	Options  []string `json:"options"`
}

func (r *PolicyRequest) ToPolicy() models.Policy {
	return models.Policy{
		Timeout:        time.Duration(r.TimeoutSeconds) * time.Second,
		AttemptLimit:   r.AttemptLimit,
		WelcomeText:    strings.TrimSpace(r.WelcomeText),
		WelcomeDisplay: time.Duration(r.WelcomeDisplaySeconds) * time.Second,
		Strict:         r.Strict,
		Challenge: models.Challenge{
			Mode:     models.ChallengeMode(strings.ToLower(strings.TrimSpace(r.Challenge.Mode))),
			Question: strings.TrimSpace(r.Challenge.Question),
			Answers:  r.Challenge.Answers,
			Options:  r.Challenge.Options,
		},
	}
}
