// Package service implements the admission verification state machine:
// admitting joiners, arbitrating answers, evicting members who fail, and
// reconciling sessions orphaned by restarts.
package service

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"gatekeeper/internal/captcha/metrics"
	"gatekeeper/internal/captcha/models"
	"gatekeeper/internal/captcha/ports"
	"gatekeeper/pkg/platform/keylock"
)

const (
	// TransientCleanupDelay is how long the challenge and replies stay
	// visible after a correct answer.
	TransientCleanupDelay = 15 * time.Second
	// NoticeDisplay is how long eviction notices stay visible.
	NoticeDisplay = 5 * time.Second

	DefaultGraceWindow   = 2 * time.Hour
	DefaultSweepInterval = time.Hour
	DefaultSweepDelay    = 10 * time.Second
	StatisticsInterval   = 24 * time.Hour
)

type AuditPublisher = ports.AuditPublisher

// Service owns every session transition. Admit, SubmitAnswer, Evict and the
// sweep's delete all run under the same per-key lock.
type Service struct {
	sessions ports.SessionStore
	settings ports.SettingsStore
	gateway  ports.Gateway
	jobs     ports.Scheduler
	locks    *keylock.Locker[models.SessionKey]

	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	shuffle        func([]string)

	graceWindow   time.Duration
	sweepInterval time.Duration
	sweepDelay    time.Duration

	// chats already told the bot lacks ban rights
	permissionNotified sync.Map
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithSweep overrides the reconciliation cadence. Non-positive values keep
// the defaults.
func WithSweep(grace, interval, firstRun time.Duration) Option {
	return func(s *Service) {
		if grace > 0 {
			s.graceWindow = grace
		}
		if interval > 0 {
			s.sweepInterval = interval
		}
		if firstRun > 0 {
			s.sweepDelay = firstRun
		}
	}
}

// WithShuffle replaces the option shuffler for multiple-choice challenges.
func WithShuffle(shuffle func([]string)) Option {
	return func(s *Service) {
		if shuffle != nil {
			s.shuffle = shuffle
		}
	}
}

func New(sessions ports.SessionStore, settings ports.SettingsStore, gateway ports.Gateway, jobs ports.Scheduler, opts ...Option) (*Service, error) {
	switch {
	case sessions == nil:
		return nil, errors.New("session store is required")
	case settings == nil:
		return nil, errors.New("settings store is required")
	case gateway == nil:
		return nil, errors.New("chat gateway is required")
	case jobs == nil:
		return nil, errors.New("scheduler is required")
	}

	svc := &Service{
		sessions:      sessions,
		settings:      settings,
		gateway:       gateway,
		jobs:          jobs,
		locks:         keylock.New[models.SessionKey](),
		logger:        slog.Default(),
		tracer:        otel.Tracer("gatekeeper/internal/captcha/service"),
		shuffle:       shuffleOptions,
		graceWindow:   DefaultGraceWindow,
		sweepInterval: DefaultSweepInterval,
		sweepDelay:    DefaultSweepDelay,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func shuffleOptions(options []string) {
	rand.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})
}
