// Package scheduler runs callbacks once after a delay or repeatedly on an
// interval. Jobs are registered under a typed Key so they can be looked up
// and cancelled later; several jobs may share a key unless registered with
// Replace.
//
// Jobs live in memory only. A restart loses every pending job; callers that
// need recovery must reconcile from durable state.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind names the purpose of a job.
type Kind string

const (
	KindEviction       Kind = "evict"
	KindWelcomeCleanup Kind = "welcome_cleanup"
	KindMessageCleanup Kind = "message_cleanup"
	KindNoticeCleanup  Kind = "notice_cleanup"
	KindSweep          Kind = "sweep"
	KindStatistics     Kind = "statistics"
)

// Key identifies jobs. Chat-independent jobs leave ChatID and UserID zero.
type Key struct {
	ChatID int64
	UserID int64
	Kind   Kind
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d:%d", k.Kind, k.ChatID, k.UserID)
}

// Func is a job callback. ctx is cancelled when the scheduler shuts down.
type Func func(ctx context.Context, job *Job)

// Job is a registered unit of work.
type Job struct {
	ID       uuid.UUID
	Key      Key
	Payload  any
	RunAt    time.Time
	Interval time.Duration

	fn    Func
	timer *time.Timer
}

// ErrStopped is returned when registering on a scheduler that has shut down.
var ErrStopped = errors.New("scheduler stopped")

type Scheduler struct {
	mu      sync.Mutex
	jobs    map[Key]map[uuid.UUID]*Job
	stopped bool

	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
	logger  *slog.Logger
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func New(opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		jobs:   make(map[Key]map[uuid.UUID]*Job),
		ctx:    ctx,
		cancel: cancel,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule runs fn once after delay. A non-positive delay runs it as soon as
// a goroutine is available.
func (s *Scheduler) Schedule(key Key, delay time.Duration, payload any, fn Func) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(key, delay, 0, payload, fn)
}

// Replace cancels every job registered under key and schedules a new one in
// the same critical section, so at most one job exists for key afterwards.
func (s *Scheduler) Replace(key Key, delay time.Duration, payload any, fn Func) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelKeyLocked(key)
	return s.addLocked(key, delay, 0, payload, fn)
}

// Every runs fn after first and then every interval until cancelled.
func (s *Scheduler) Every(key Key, first, interval time.Duration, payload any, fn Func) (*Job, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("schedule %s: interval must be positive", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(key, first, interval, payload, fn)
}

// Find returns the jobs currently pending under key. A one-shot job stops
// being pending the moment it starts running.
func (s *Scheduler) Find(key Key) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]*Job, 0, len(s.jobs[key]))
	for _, j := range s.jobs[key] {
		jobs = append(jobs, j)
	}
	return jobs
}

// Cancel removes job. Cancelling a job that already ran or was already
// cancelled is a no-op. Cancel never waits for a running callback.
func (s *Scheduler) Cancel(job *Job) {
	if job == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(job)
}

// CancelKey removes every job under key and reports how many were pending.
func (s *Scheduler) CancelKey(key Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelKeyLocked(key)
}

// Len reports the number of pending jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.jobs {
		n += len(m)
	}
	return n
}

// Shutdown stops all timers, cancels the context passed to running callbacks
// and waits for them to return or for ctx to expire.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	for key := range s.jobs {
		s.cancelKeyLocked(key)
	}
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) addLocked(key Key, delay, interval time.Duration, payload any, fn Func) (*Job, error) {
	if s.stopped {
		return nil, ErrStopped
	}
	if fn == nil {
		return nil, fmt.Errorf("schedule %s: callback is required", key)
	}
	if delay < 0 {
		delay = 0
	}
	job := &Job{
		ID:       uuid.New(),
		Key:      key,
		Payload:  payload,
		RunAt:    time.Now().Add(delay),
		Interval: interval,
		fn:       fn,
	}
	if s.jobs[key] == nil {
		s.jobs[key] = make(map[uuid.UUID]*Job)
	}
	s.jobs[key][job.ID] = job
	job.timer = time.AfterFunc(delay, func() { s.fire(job) })
	return job, nil
}

func (s *Scheduler) fire(job *Job) {
	s.mu.Lock()
	if _, ok := s.jobs[job.Key][job.ID]; !ok {
		s.mu.Unlock()
		return
	}
	if job.Interval > 0 {
		job.RunAt = time.Now().Add(job.Interval)
		job.timer.Reset(job.Interval)
	} else {
		s.removeLocked(job)
	}
	s.running.Add(1)
	s.mu.Unlock()

	defer s.running.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled job panicked", "job", job.Key.String(), "panic", r)
		}
	}()
	job.fn(s.ctx, job)
}

func (s *Scheduler) removeLocked(job *Job) {
	byID, ok := s.jobs[job.Key]
	if !ok {
		return
	}
	if _, ok := byID[job.ID]; !ok {
		return
	}
	job.timer.Stop()
	delete(byID, job.ID)
	if len(byID) == 0 {
		delete(s.jobs, job.Key)
	}
}

func (s *Scheduler) cancelKeyLocked(key Key) int {
	byID := s.jobs[key]
	n := len(byID)
	for _, job := range byID {
		job.timer.Stop()
	}
	delete(s.jobs, key)
	return n
}
