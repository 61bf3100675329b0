package models

import (
	"time"

	pstrings "gatekeeper/pkg/platform/strings"
)

// ChallengeMode selects how a challenge is answered.
type ChallengeMode string

const (
	// ChallengeOpen is answered with a free-text reply.
	ChallengeOpen ChallengeMode = "open"
	// ChallengeMultiple is answered with an inline button; free text is also
	// evaluated against the accepted answers.
	ChallengeMultiple ChallengeMode = "multiple"
)

// Challenge is the question a group asks new members.
type Challenge struct {
	Mode     ChallengeMode `json:"mode"`
	Question string        `json:"question"`
	// Answers are the accepted answers. For multiple-choice this is the
	// single correct option.
	Answers []string `json:"answers"`
	// Options holds every button label (correct and wrong) for multiple-choice.
	Options []string `json:"options,omitempty"`
}

// Policy is the per-group configuration consulted at admission and on every
// answer.
type Policy struct {
	Timeout        time.Duration `json:"timeout"`
	AttemptLimit   int           `json:"attempt_limit"`
	WelcomeText    string        `json:"welcome_text"`
	WelcomeDisplay time.Duration `json:"welcome_display"`
	Strict         bool          `json:"strict"`
	Challenge      Challenge     `json:"challenge"`
}

const (
	DefaultTimeout        = 60 * time.Second
	DefaultAttemptLimit   = 3
	DefaultWelcomeDisplay = 10 * time.Second
	DefaultWelcomeText    = "Welcome to the group!"
	DefaultQuestion       = "What is 2+2?"
)

// DefaultChallenge is used by groups without a configured challenge.
func DefaultChallenge() Challenge {
	return Challenge{
		Mode:     ChallengeOpen,
		Question: DefaultQuestion,
		Answers:  []string{"4", "four"},
	}
}

// DefaultPolicy is applied when a group has no stored policy.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:        DefaultTimeout,
		AttemptLimit:   DefaultAttemptLimit,
		WelcomeText:    DefaultWelcomeText,
		WelcomeDisplay: DefaultWelcomeDisplay,
		Strict:         false,
		Challenge:      DefaultChallenge(),
	}
}

// EffectivePolicy returns p with unset or invalid fields replaced by their
// defaults. A nil policy yields DefaultPolicy.
func EffectivePolicy(p *Policy) Policy {
	def := DefaultPolicy()
	if p == nil {
		return def
	}
	out := *p
	if out.Timeout <= 0 {
		out.Timeout = def.Timeout
	}
	if out.AttemptLimit <= 0 {
		out.AttemptLimit = def.AttemptLimit
	}
	if out.WelcomeText == "" {
		out.WelcomeText = def.WelcomeText
	}
	if out.WelcomeDisplay <= 0 {
		out.WelcomeDisplay = def.WelcomeDisplay
	}
	out.Challenge = effectiveChallenge(out.Challenge)
	return out
}

func effectiveChallenge(c Challenge) Challenge {
	answers := pstrings.DedupeFold(c.Answers)
	if c.Question == "" || len(answers) == 0 {
		return DefaultChallenge()
	}
	out := Challenge{Mode: c.Mode, Question: c.Question, Answers: answers}
	switch c.Mode {
	case ChallengeMultiple:
		out.Answers = answers[:1]
		out.Options = pstrings.DedupeFold(append([]string{answers[0]}, c.Options...))
		if len(out.Options) < 2 {
			out.Mode = ChallengeOpen
			out.Options = nil
		}
	default:
		out.Mode = ChallengeOpen
	}
	return out
}
