package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatekeeper/internal/captcha/models"
	"gatekeeper/internal/captcha/store/session"
	"gatekeeper/internal/scheduler"
	"gatekeeper/pkg/platform/sentinel"
)

type postedMessage struct {
	ChatID int64
	Ref    models.MessageRef
	Text   string
	Opts   *models.PostOptions
}

// fakeGateway records chat side effects.
type fakeGateway struct {
	mu      sync.Mutex
	nextRef models.MessageRef
	posts   []postedMessage
	edits   []postedMessage
	deleted []models.MessageRef
	bans    []int64
	unbans  []int64
	status  map[int64]models.MemberStatus
	counts  map[int64]int

	postErr   error
	banErr    error
	deleteErr map[models.MessageRef]error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		nextRef:   1000,
		status:    make(map[int64]models.MemberStatus),
		counts:    make(map[int64]int),
		deleteErr: make(map[models.MessageRef]error),
	}
}

func (g *fakeGateway) PostMessage(_ context.Context, chatID int64, text string, opts *models.PostOptions) (models.MessageRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.postErr != nil {
		return 0, g.postErr
	}
	g.nextRef++
	g.posts = append(g.posts, postedMessage{ChatID: chatID, Ref: g.nextRef, Text: text, Opts: opts})
	return g.nextRef, nil
}

func (g *fakeGateway) EditMessage(_ context.Context, chatID int64, ref models.MessageRef, text string, opts *models.PostOptions) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edits = append(g.edits, postedMessage{ChatID: chatID, Ref: ref, Text: text, Opts: opts})
	return nil
}

func (g *fakeGateway) DeleteMessage(_ context.Context, _ int64, ref models.MessageRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.deleteErr[ref]; err != nil {
		return err
	}
	g.deleted = append(g.deleted, ref)
	return nil
}

func (g *fakeGateway) BanMember(_ context.Context, _ int64, userID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.banErr != nil {
		return g.banErr
	}
	g.bans = append(g.bans, userID)
	return nil
}

func (g *fakeGateway) UnbanMember(_ context.Context, _ int64, userID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unbans = append(g.unbans, userID)
	return nil
}

func (g *fakeGateway) MemberStatus(_ context.Context, _ int64, userID int64) (models.MemberStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.status[userID]; ok {
		return st, nil
	}
	return models.MemberMember, nil
}

func (g *fakeGateway) MemberCount(_ context.Context, chatID int64) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.counts[chatID]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	return n, nil
}

func (g *fakeGateway) banCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.bans)
}

func (g *fakeGateway) lastPost() postedMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.posts[len(g.posts)-1]
}

// manualScheduler registers jobs without timers; tests fire them explicitly.
type manualScheduler struct {
	mu      sync.Mutex
	jobs    map[scheduler.Key][]*manualJob
	stopped bool
}

type manualJob struct {
	job   *scheduler.Job
	delay time.Duration
	fn    scheduler.Func
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{jobs: make(map[scheduler.Key][]*manualJob)}
}

func (m *manualScheduler) add(key scheduler.Key, delay, interval time.Duration, payload any, fn scheduler.Func) (*scheduler.Job, error) {
	if m.stopped {
		return nil, scheduler.ErrStopped
	}
	job := &scheduler.Job{
		ID:       uuid.New(),
		Key:      key,
		Payload:  payload,
		RunAt:    time.Now().Add(delay),
		Interval: interval,
	}
	m.jobs[key] = append(m.jobs[key], &manualJob{job: job, delay: delay, fn: fn})
	return job, nil
}

func (m *manualScheduler) Schedule(key scheduler.Key, delay time.Duration, payload any, fn scheduler.Func) (*scheduler.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.add(key, delay, 0, payload, fn)
}

func (m *manualScheduler) Replace(key scheduler.Key, delay time.Duration, payload any, fn scheduler.Func) (*scheduler.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, key)
	return m.add(key, delay, 0, payload, fn)
}

func (m *manualScheduler) Every(key scheduler.Key, first, interval time.Duration, payload any, fn scheduler.Func) (*scheduler.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.add(key, first, interval, payload, fn)
}

func (m *manualScheduler) Find(key scheduler.Key) []*scheduler.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*scheduler.Job
	for _, j := range m.jobs[key] {
		out = append(out, j.job)
	}
	return out
}

func (m *manualScheduler) Cancel(job *scheduler.Job) {
	if job == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.jobs[job.Key]
	for i, j := range entries {
		if j.job.ID == job.ID {
			m.jobs[job.Key] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(m.jobs[job.Key]) == 0 {
		delete(m.jobs, job.Key)
	}
}

func (m *manualScheduler) CancelKey(key scheduler.Key) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.jobs[key])
	delete(m.jobs, key)
	return n
}

// pending returns the registered jobs under key with their delays.
func (m *manualScheduler) pending(key scheduler.Key) []*manualJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*manualJob(nil), m.jobs[key]...)
}

// fire runs every job under key, removing one-shot jobs first.
func (m *manualScheduler) fire(ctx context.Context, key scheduler.Key) int {
	m.mu.Lock()
	entries := append([]*manualJob(nil), m.jobs[key]...)
	var keep []*manualJob
	for _, j := range entries {
		if j.job.Interval > 0 {
			keep = append(keep, j)
		}
	}
	if len(keep) == 0 {
		delete(m.jobs, key)
	} else {
		m.jobs[key] = keep
	}
	m.mu.Unlock()

	for _, j := range entries {
		j.fn(ctx, j.job)
	}
	return len(entries)
}

// flakyStore injects failures into an in-memory session store.
type flakyStore struct {
	*session.InMemorySessionStore
	mu        sync.Mutex
	createErr error
	updateErr error
	deleteErr error
	listErr   error
}

func newFlakyStore() *flakyStore {
	return &flakyStore{InMemorySessionStore: session.NewInMemory()}
}

func (f *flakyStore) Create(ctx context.Context, s *models.Session) error {
	f.mu.Lock()
	err := f.createErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.InMemorySessionStore.Create(ctx, s)
}

func (f *flakyStore) Update(ctx context.Context, s *models.Session) error {
	f.mu.Lock()
	err := f.updateErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.InMemorySessionStore.Update(ctx, s)
}

func (f *flakyStore) Delete(ctx context.Context, key models.SessionKey) error {
	f.mu.Lock()
	err := f.deleteErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.InMemorySessionStore.Delete(ctx, key)
}

func (f *flakyStore) ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]*models.Session, error) {
	f.mu.Lock()
	err := f.listErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.InMemorySessionStore.ListCreatedBefore(ctx, cutoff)
}

func (f *flakyStore) failDelete(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteErr = err
}
