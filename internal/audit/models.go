package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action names an auditable step of the verification lifecycle.
type Action string

const (
	ActionSessionAdmitted    Action = "session_admitted"
	ActionAnswerRejected     Action = "answer_rejected"
	ActionVerificationPassed Action = "verification_passed"
	ActionAttemptsExhausted  Action = "attempts_exhausted"
	ActionMemberEvicted      Action = "member_evicted"
	ActionEvictionFailed     Action = "eviction_failed"
	ActionOrphanSwept        Action = "orphan_swept"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	ChatID    int64     `json:"chat_id"`
	UserID    int64     `json:"user_id"`
	Attempts  int       `json:"attempts,omitempty"`
	Decision  string    `json:"decision,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}
