// Package ports declares the collaborators the verification service consumes.
// Adapters live in internal/gateway, internal/scheduler and
// internal/captcha/store.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Gateway,SessionStore,SettingsStore,Scheduler

import (
	"context"
	"time"

	"gatekeeper/internal/audit"
	"gatekeeper/internal/captcha/models"
	"gatekeeper/internal/scheduler"
)

// Gateway is the chat transport.
//
// Adapters map transport failures onto sentinel errors:
// sentinel.ErrNotFound for missing messages, sentinel.ErrPermissionDenied
// for missing chat rights and sentinel.ErrUnavailable for transient failures.
type Gateway interface {
	PostMessage(ctx context.Context, chatID int64, text string, opts *models.PostOptions) (models.MessageRef, error)
	EditMessage(ctx context.Context, chatID int64, ref models.MessageRef, text string, opts *models.PostOptions) error
	DeleteMessage(ctx context.Context, chatID int64, ref models.MessageRef) error
	BanMember(ctx context.Context, chatID, userID int64) error
	UnbanMember(ctx context.Context, chatID, userID int64) error
	MemberStatus(ctx context.Context, chatID, userID int64) (models.MemberStatus, error)
	MemberCount(ctx context.Context, chatID int64) (int, error)
}

// SessionStore persists pending verification sessions.
type SessionStore interface {
	// Create inserts s, failing with sentinel.ErrConflict if the key exists.
	Create(ctx context.Context, s *models.Session) error
	// Get returns sentinel.ErrNotFound when no session exists for key.
	Get(ctx context.Context, key models.SessionKey) (*models.Session, error)
	// Update overwrites an existing session, failing with sentinel.ErrNotFound
	// if it was deleted.
	Update(ctx context.Context, s *models.Session) error
	// Delete removes the session. Deleting a missing session is a no-op.
	Delete(ctx context.Context, key models.SessionKey) error
	// ListCreatedBefore returns sessions with CreatedAt strictly before cutoff.
	ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]*models.Session, error)
}

// SettingsStore owns per-group policy.
type SettingsStore interface {
	// GetPolicy returns nil, nil when the group has no stored policy.
	GetPolicy(ctx context.Context, chatID int64) (*models.Policy, error)
	SavePolicy(ctx context.Context, chatID int64, policy models.Policy) error
	ListChats(ctx context.Context) ([]int64, error)
	RecordMemberCount(ctx context.Context, chatID int64, count int, at time.Time) error
	// MemberCounts returns up to limit snapshots for the chat, newest first.
	MemberCounts(ctx context.Context, chatID int64, limit int) ([]models.GroupStatistic, error)
}

// Scheduler registers delayed and recurring jobs under typed keys.
type Scheduler interface {
	Schedule(key scheduler.Key, delay time.Duration, payload any, fn scheduler.Func) (*scheduler.Job, error)
	Replace(key scheduler.Key, delay time.Duration, payload any, fn scheduler.Func) (*scheduler.Job, error)
	Every(key scheduler.Key, first, interval time.Duration, payload any, fn scheduler.Func) (*scheduler.Job, error)
	Find(key scheduler.Key) []*scheduler.Job
	Cancel(job *scheduler.Job)
	CancelKey(key scheduler.Key) int
}

// AuditPublisher emits verification audit events.
type AuditPublisher = audit.Publisher

// EvictionKey names the eviction job of a session.
func EvictionKey(key models.SessionKey) scheduler.Key {
	return scheduler.Key{ChatID: key.ChatID, UserID: key.UserID, Kind: scheduler.KindEviction}
}
