package models

import (
	"strings"
	"time"
)

// MessageRef identifies a message within a chat.
type MessageRef int

// SessionKey identifies the pending verification of one user in one chat.
type SessionKey struct {
	ChatID int64
	UserID int64
}

// SessionStatus tracks whether a session still accepts answers.
type SessionStatus string

const (
	// SessionChallenged sessions accept answers until resolved.
	SessionChallenged SessionStatus = "challenged"
	// SessionEvicting sessions exhausted their attempts; an immediate eviction
	// job owns them and answers are no longer evaluated.
	SessionEvicting SessionStatus = "evicting"
)

// Session is a pending verification record. The challenge fields, the
// attempt limit and strictness are a snapshot taken at admission; later
// policy edits do not alter them.
type Session struct {
	ChatID            int64         `json:"chat_id"`
	UserID            int64         `json:"user_id"`
	DisplayName       string        `json:"display_name"`
	Question          string        `json:"question"`
	AcceptedAnswers   []string      `json:"accepted_answers"`
	Options           []string      `json:"options,omitempty"`
	Attempts          int           `json:"attempts"`
	AttemptLimit      int           `json:"attempt_limit"`
	Strict            bool          `json:"strict"`
	Status            SessionStatus `json:"status"`
	ChallengeMessage  MessageRef    `json:"challenge_message"`
	TransientMessages []MessageRef  `json:"transient_messages,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

func (s *Session) Key() SessionKey {
	return SessionKey{ChatID: s.ChatID, UserID: s.UserID}
}

// Accepts reports whether candidate matches one of the accepted answers,
// ignoring case and surrounding whitespace.
func (s *Session) Accepts(candidate string) bool {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return false
	}
	for _, ans := range s.AcceptedAnswers {
		if strings.EqualFold(candidate, ans) {
			return true
		}
	}
	return false
}

// Option resolves an inline button index against the option snapshot.
func (s *Session) Option(idx int) (string, bool) {
	if idx < 0 || idx >= len(s.Options) {
		return "", false
	}
	return s.Options[idx], true
}

// IsOpen reports whether answers may still be evaluated.
func (s *Session) IsOpen() bool {
	return s.Status != SessionEvicting
}

// RecordFailure counts an incorrect answer and tracks its message for cleanup.
func (s *Session) RecordFailure(source *MessageRef) {
	s.Attempts++
	if source != nil {
		s.Track(*source)
	}
}

// Track appends ref to the transient messages, skipping duplicates.
func (s *Session) Track(ref MessageRef) {
	if ref == 0 || ref == s.ChallengeMessage {
		return
	}
	for _, existing := range s.TransientMessages {
		if existing == ref {
			return
		}
	}
	s.TransientMessages = append(s.TransientMessages, ref)
}

// Exhausted reports whether attempts reached limit.
func (s *Session) Exhausted(limit int) bool {
	return s.Attempts >= limit
}

// Remaining returns how many incorrect answers are still tolerated.
func (s *Session) Remaining(limit int) int {
	return max(limit-s.Attempts, 0)
}

// CleanupRefs lists every message to delete when the session resolves:
// the challenge first, then transient messages in arrival order.
func (s *Session) CleanupRefs() []MessageRef {
	refs := make([]MessageRef, 0, len(s.TransientMessages)+1)
	if s.ChallengeMessage != 0 {
		refs = append(refs, s.ChallengeMessage)
	}
	return append(refs, s.TransientMessages...)
}

// Clone returns a deep copy so stores never share slices with callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.AcceptedAnswers = append([]string(nil), s.AcceptedAnswers...)
	c.Options = append([]string(nil), s.Options...)
	c.TransientMessages = append([]MessageRef(nil), s.TransientMessages...)
	return &c
}
