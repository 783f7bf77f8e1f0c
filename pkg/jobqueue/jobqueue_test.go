package jobqueue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	contracts "socialnotify/contracts/mq"
)

// memStore 内存版 Store，行为与 PostgresStore 一致
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	now  time.Time
}

func newMemStore() *memStore {
	return &memStore{jobs: map[string]*Job{}, now: time.Now()}
}

func (m *memStore) Insert(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = StatusPending
	job.NextAttemptAt = m.now
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memStore) ClaimDue(_ context.Context, limit int) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Job
	for _, j := range m.jobs {
		if len(out) == limit {
			break
		}
		if j.Status == StatusPending && !j.NextAttemptAt.After(m.now) {
			j.Status = StatusProcessing
			locked := m.now
			j.LockedAt = &locked
			out = append(out, *j)
		}
	}
	return out, nil
}

func (m *memStore) MarkCompleted(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = StatusCompleted
	return nil
}

func (m *memStore) Reschedule(_ context.Context, id string, attempts int, next time.Time, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	j.Status, j.Attempts, j.NextAttemptAt, j.LastError, j.LockedAt = StatusPending, attempts, next, &lastErr, nil
	return nil
}

func (m *memStore) MarkDead(_ context.Context, id string, attempts int, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	j.Status, j.Attempts, j.LastError, j.LockedAt = StatusDead, attempts, &lastErr, nil
	return nil
}

func (m *memStore) ReleaseExpired(_ context.Context, lease time.Duration) (released, dead int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.Status == StatusProcessing && j.LockedAt != nil && j.LockedAt.Before(m.now.Add(-lease)) {
			msg := leaseExpiredReason
			j.Attempts++
			j.LastError, j.LockedAt = &msg, nil
			if j.Attempts >= j.MaxAttempts {
				j.Status = StatusDead
				dead++
			} else {
				j.Status = StatusPending
				released++
			}
		}
	}
	return released, dead, nil
}

func (m *memStore) ListDead(_ context.Context, limit int) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Job
	for _, j := range m.jobs {
		if j.Status == StatusDead && len(out) < limit {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (m *memStore) Requeue(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != StatusDead {
		return ErrNotFound
	}
	j.Status, j.Attempts, j.NextAttemptAt, j.LastError = StatusPending, 0, m.now, nil
	return nil
}

func (m *memStore) advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func (m *memStore) get(id string) Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memStore) only(t *testing.T) Job {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.jobs) != 1 {
		t.Fatalf("expected one job, have %d", len(m.jobs))
	}
	for _, j := range m.jobs {
		return *j
	}
	return Job{}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 10 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
	if b.Delay(0) != time.Second {
		t.Error("attempt below 1 is treated as the first")
	}
	if got := b.Delay(200); got != 10*time.Second {
		t.Errorf("large attempts must not overflow, got %v", got)
	}
}

func TestEnqueueEmptyEmailIsNoop(t *testing.T) {
	store := newMemStore()
	q := NewQueue(store, 3, zaptest.NewLogger(t))

	for _, email := range []string{"", "   "} {
		err := q.Enqueue(context.Background(), contracts.NotificationJob{UserEmail: email, JobType: contracts.JobUserFollowed})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if len(store.jobs) != 0 {
		t.Fatalf("nothing may reach storage, have %d jobs", len(store.jobs))
	}
}

func TestEnqueueStoresPending(t *testing.T) {
	store := newMemStore()
	q := NewQueue(store, 3, zaptest.NewLogger(t))

	err := q.Enqueue(context.Background(), contracts.NotificationJob{
		UserEmail: "u1@example.com",
		JobType:   contracts.JobPostCreated,
		Payload:   map[string]any{"postId": "p1"},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	j := store.only(t)
	if j.Status != StatusPending || j.MaxAttempts != 3 || j.Payload["postId"] != "p1" {
		t.Fatalf("stored job %+v", j)
	}
}

func newTestProcessor(t *testing.T, store *memStore, h Handler, logger *zap.Logger) *Processor {
	p := NewProcessor(store, h, ProcessorConfig{
		Concurrency: 2,
		JobTimeout:  time.Second,
		Backoff:     Backoff{Base: time.Second, Max: time.Minute},
	}, logger)
	p.now = func() time.Time { return store.now }
	return p
}

func TestProcessorCompletesJob(t *testing.T) {
	store := newMemStore()
	_ = NewQueue(store, 3, zap.NewNop()).Enqueue(context.Background(), contracts.NotificationJob{UserEmail: "a@b.c", JobType: contracts.JobLikeAdded})

	var handled []string
	var mu sync.Mutex
	p := newTestProcessor(t, store, HandlerFunc(func(_ context.Context, j Job) error {
		mu.Lock()
		handled = append(handled, j.UserEmail)
		mu.Unlock()
		return nil
	}), zaptest.NewLogger(t))

	if n := p.RunOnce(context.Background()); n != 1 {
		t.Fatalf("claimed %d", n)
	}
	if j := store.only(t); j.Status != StatusCompleted {
		t.Fatalf("status = %s", j.Status)
	}
	if len(handled) != 1 || handled[0] != "a@b.c" {
		t.Fatalf("handled = %v", handled)
	}
	if n := p.RunOnce(context.Background()); n != 0 {
		t.Fatal("completed jobs are not claimed again")
	}
}

func TestProcessorRetriesWithBackoffThenDead(t *testing.T) {
	store := newMemStore()
	_ = NewQueue(store, 3, zap.NewNop()).Enqueue(context.Background(), contracts.NotificationJob{UserEmail: "a@b.c", JobType: contracts.JobPostCreated})

	core, logs := observer.New(zap.InfoLevel)
	p := newTestProcessor(t, store, HandlerFunc(func(context.Context, Job) error {
		return errors.New("provider 503")
	}), zap.New(core))

	id := store.only(t).ID
	start := store.now

	p.RunOnce(context.Background())
	j := store.get(id)
	if j.Status != StatusPending || j.Attempts != 1 || !j.NextAttemptAt.Equal(start.Add(time.Second)) {
		t.Fatalf("after first failure: %+v", j)
	}

	if n := p.RunOnce(context.Background()); n != 0 {
		t.Fatal("job must wait for its backoff")
	}

	store.advance(time.Second)
	p.RunOnce(context.Background())
	j = store.get(id)
	if j.Attempts != 2 || !j.NextAttemptAt.Equal(store.now.Add(2*time.Second)) {
		t.Fatalf("after second failure: %+v", j)
	}

	store.advance(2 * time.Second)
	p.RunOnce(context.Background())
	j = store.get(id)
	if j.Status != StatusDead || j.Attempts != 3 || j.LastError == nil || *j.LastError != "provider 503" {
		t.Fatalf("after final failure: %+v", j)
	}

	dead := logs.FilterMessage("Job exhausted retries, marked dead").All()
	if len(dead) != 1 || dead[0].Level != zap.ErrorLevel {
		t.Fatalf("dead jobs are logged at error, got %v", logs.All())
	}
}

func TestProcessorPermanentErrorSkipsRetries(t *testing.T) {
	store := newMemStore()
	_ = NewQueue(store, 5, zap.NewNop()).Enqueue(context.Background(), contracts.NotificationJob{UserEmail: "a@b.c", JobType: contracts.JobPostCreated})

	p := newTestProcessor(t, store, HandlerFunc(func(context.Context, Job) error {
		return Permanent(errors.New("provider 400: invalid recipient"))
	}), zaptest.NewLogger(t))

	p.RunOnce(context.Background())
	if j := store.only(t); j.Status != StatusDead || j.Attempts != 1 {
		t.Fatalf("permanent failures go straight to dead: %+v", j)
	}
}

func TestProcessorJobTimeout(t *testing.T) {
	store := newMemStore()
	_ = NewQueue(store, 5, zap.NewNop()).Enqueue(context.Background(), contracts.NotificationJob{UserEmail: "a@b.c", JobType: contracts.JobPostCreated})

	p := newTestProcessor(t, store, HandlerFunc(func(ctx context.Context, _ Job) error {
		<-ctx.Done()
		return ctx.Err()
	}), zaptest.NewLogger(t))
	p.cfg.JobTimeout = 20 * time.Millisecond

	p.RunOnce(context.Background())
	if j := store.only(t); j.Status != StatusPending || j.Attempts != 1 {
		t.Fatalf("timed out job should be rescheduled: %+v", j)
	}
}

func TestReaperReleasesExpiredLeases(t *testing.T) {
	store := newMemStore()
	_ = NewQueue(store, 5, zap.NewNop()).Enqueue(context.Background(), contracts.NotificationJob{UserEmail: "a@b.c", JobType: contracts.JobPostCreated})
	_, _ = store.ClaimDue(context.Background(), 10)

	r := NewReaper(store, "", time.Minute, zaptest.NewLogger(t))
	r.Sweep(context.Background())
	if j := store.only(t); j.Status != StatusProcessing {
		t.Fatal("lease has not expired yet")
	}

	store.advance(2 * time.Minute)
	r.Sweep(context.Background())
	j := store.only(t)
	if j.Status != StatusPending {
		t.Fatalf("expired lease must be released, status = %s", j.Status)
	}
	if j.Attempts != 1 || j.LastError == nil || *j.LastError != leaseExpiredReason {
		t.Fatalf("expired lease must count as an attempt, job = %+v", j)
	}
}

func TestReaperDeadLettersJobThatKeepsExpiring(t *testing.T) {
	store := newMemStore()
	_ = NewQueue(store, 3, zap.NewNop()).Enqueue(context.Background(), contracts.NotificationJob{UserEmail: "a@b.c", JobType: contracts.JobPostCreated})

	core, logs := observer.New(zap.WarnLevel)
	r := NewReaper(store, "", time.Minute, zap.New(core))
	for i := 1; i <= 3; i++ {
		if claimed, _ := store.ClaimDue(context.Background(), 10); len(claimed) != 1 {
			t.Fatalf("round %d: claimed %d jobs", i, len(claimed))
		}
		store.advance(2 * time.Minute)
		r.Sweep(context.Background())
	}

	j := store.only(t)
	if j.Status != StatusDead || j.Attempts != 3 {
		t.Fatalf("job must be dead after max_attempts expiries, job = %+v", j)
	}
	if logs.FilterMessage("Jobs exhausted attempts on expired leases").Len() != 1 {
		t.Fatalf("expected one exhaustion log, got %v", logs.All())
	}
	if claimed, _ := store.ClaimDue(context.Background(), 10); len(claimed) != 0 {
		t.Fatal("dead job must not be claimed again")
	}
}

func TestReplayDeadJobs(t *testing.T) {
	store := newMemStore()
	q := NewQueue(store, 1, zap.NewNop())
	for i := 0; i < 2; i++ {
		_ = q.Enqueue(context.Background(), contracts.NotificationJob{UserEmail: "a@b.c", JobType: contracts.JobPostCreated})
	}
	p := newTestProcessor(t, store, HandlerFunc(func(context.Context, Job) error { return errors.New("down") }), zap.NewNop())
	p.RunOnce(context.Background())

	svc := NewReplayService(store, zaptest.NewLogger(t))
	dead, err := svc.ListDead(context.Background(), 0)
	if err != nil || len(dead) != 2 {
		t.Fatalf("dead=%v err=%v", dead, err)
	}

	if err := svc.Replay(context.Background(), dead[0].ID); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if j := store.get(dead[0].ID); j.Status != StatusPending || j.Attempts != 0 {
		t.Fatalf("replayed job %+v", j)
	}
	if err := svc.Replay(context.Background(), dead[0].ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("replaying a pending job must report not found, got %v", err)
	}

	n, err := svc.ReplayAll(context.Background(), 10)
	if err != nil || n != 1 {
		t.Fatalf("ReplayAll n=%d err=%v", n, err)
	}
}
