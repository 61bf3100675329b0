package models

import (
	dErrors "gatekeeper/pkg/domain-errors"
)

// ErrSessionAlreadyActive is returned by Admit when the user already has a
// pending session in the chat. The existing session is never overwritten.
var ErrSessionAlreadyActive = dErrors.New(dErrors.CodeConflict, "verification session already active")

// AdmitRequest describes a member that just joined.
type AdmitRequest struct {
	ChatID      int64
	UserID      int64
	DisplayName string
	// JoinMessage is the service message announcing the join, tracked for cleanup.
	JoinMessage MessageRef
}

// AnswerRequest is a candidate answer from either ingress channel.
type AnswerRequest struct {
	ChatID    int64
	UserID    int64
	Candidate string
	// Button is the pressed option index for inline-button answers.
	Button *int
	// ButtonMessage is the message carrying the pressed button. A press on a
	// message other than the session's challenge is stale.
	ButtonMessage MessageRef
	// Source is the user's reply message for free-text answers.
	Source *MessageRef
}

// OutcomeKind is the result of evaluating an answer.
type OutcomeKind int

const (
	// OutcomeNoActiveSession means the session was already resolved or never
	// existed. It is not an error.
	OutcomeNoActiveSession OutcomeKind = iota
	OutcomeSuccess
	OutcomeRetry
	OutcomeLimitExceeded
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	case OutcomeLimitExceeded:
		return "limit_exceeded"
	default:
		return "no_active_session"
	}
}

type Outcome struct {
	Kind      OutcomeKind
	Attempts  int
	Remaining int
}

// EvictionReason records why an eviction was scheduled.
type EvictionReason string

const (
	EvictionTimeout  EvictionReason = "timeout"
	EvictionAttempts EvictionReason = "attempts_exhausted"
)

// EvictionJob is the payload of a scheduled eviction.
type EvictionJob struct {
	ChatID      int64
	UserID      int64
	DisplayName string
	Strict      bool
	Reason      EvictionReason
}

func (j EvictionJob) Key() SessionKey {
	return SessionKey{ChatID: j.ChatID, UserID: j.UserID}
}

// EvictionAction is what the executor did to the member.
type EvictionAction string

const (
	ActionNone   EvictionAction = "none"
	ActionBanned EvictionAction = "banned"
	ActionKicked EvictionAction = "kicked"
)

// EvictionResult summarizes one executor run.
type EvictionResult struct {
	Executed        bool
	Action          EvictionAction
	DeletedMessages int
	FailedMessages  int
}

// SweepResult summarizes one reconciliation pass.
type SweepResult struct {
	Scanned int
	Deleted int
	Skipped int
}
