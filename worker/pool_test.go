package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hirewire/workq"
	"github.com/hirewire/workq/hook"
	"github.com/hirewire/workq/id"
	"github.com/hirewire/workq/job"
	"github.com/hirewire/workq/middleware"
	"github.com/hirewire/workq/queue"
	"github.com/hirewire/workq/store/memory"
	"github.com/hirewire/workq/worker"
)

func setupTestPool(t *testing.T, concurrency int, pollInterval time.Duration) (
	*worker.Pool, *memory.Store, *job.Registry,
) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	hooks := hook.NewRegistry(logger)
	queues := queue.NewManager(queue.Config{
		Name:        "default",
		Concurrency: concurrency,
	})

	executor := worker.NewExecutor(
		reg, hooks, s, queues, logger,
		middleware.Recover(logger),
	)

	pool := worker.NewPool(s, executor, hooks, queues, logger,
		worker.WithPollInterval(pollInterval),
		worker.WithPromoteInterval(pollInterval),
	)

	return pool, s, reg
}

func newTestJob(name string, maxAttempts int) *job.Job {
	j := &job.Job{
		ID:          id.NewJobID(),
		Name:        name,
		Queue:       "default",
		MaxAttempts: maxAttempts,
		BackoffKind: job.BackoffFixed,
		BackoffBase: 10 * time.Millisecond,
		EnqueuedAt:  time.Now().UTC(),
		RunAt:       time.Now().UTC(),
	}
	j.CreatedAt = time.Now().UTC()
	j.UpdatedAt = j.CreatedAt
	return j
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func stopPool(t *testing.T, pool *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestPool_StartStop(t *testing.T) {
	pool, _, _ := setupTestPool(t, 2, 50*time.Millisecond)

	err := pool.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	// Double start should be no-op.
	err = pool.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = pool.Stop(ctx)
	if err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	// Double stop should be no-op.
	err = pool.Stop(ctx)
	if err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_ProcessesJob(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var processed atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition("greet", func(_ context.Context, p struct{ Name string }) (any, error) {
		if p.Name != "Alice" {
			t.Errorf("payload.Name = %q, want %q", p.Name, "Alice")
		}
		processed.Store(true)
		return map[string]string{"greeting": "hello Alice"}, nil
	}))

	payload, _ := json.Marshal(struct{ Name string }{Name: "Alice"})
	j := newTestJob("greet", 3)
	j.Payload = payload

	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, "job to be processed", processed.Load)
	stopPool(t, pool)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.State != job.StateCompleted {
		t.Errorf("job state = %q, want %q", got.State, job.StateCompleted)
	}
	if got.FinishedAt == nil {
		t.Error("expected FinishedAt to be set")
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if len(got.Result) == 0 {
		t.Error("expected result to be recorded")
	}
}

func TestPool_RetriesThenSucceeds(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var calls atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition("flaky", func(_ context.Context, _ struct{}) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient failure")
		}
		return nil, nil
	}))

	j := newTestJob("flaky", 5)
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, "three attempts", func() bool { return calls.Load() >= 3 })
	waitFor(t, "job completion", func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateCompleted
	})
	stopPool(t, pool)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.State != job.StateCompleted {
		t.Errorf("job state = %q, want %q", got.State, job.StateCompleted)
	}
	if got.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", got.Attempts)
	}
}

func TestPool_FailsAfterMaxAttempts(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var calls atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition("doomed", func(_ context.Context, _ struct{}) (any, error) {
		calls.Add(1)
		return nil, errors.New("persistent failure")
	}))

	j := newTestJob("doomed", 1)
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, "terminal failure", func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateFailed
	})
	stopPool(t, pool)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if got.FailureReason != "persistent failure" {
		t.Errorf("failure reason = %q, want %q", got.FailureReason, "persistent failure")
	}
	if calls.Load() != 1 {
		t.Errorf("processor called %d times, want 1", calls.Load())
	}
}

func TestPool_PermanentErrorShortCircuits(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var calls atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition("invalid", func(_ context.Context, _ struct{}) (any, error) {
		calls.Add(1)
		return nil, workq.Permanent(errors.New("payload validation failed"))
	}))

	// Plenty of attempt budget: the permanent wrapper must override it.
	j := newTestJob("invalid", 5)
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, "terminal failure", func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateFailed
	})
	stopPool(t, pool)

	if calls.Load() != 1 {
		t.Errorf("processor called %d times, want 1", calls.Load())
	}
}

func TestPool_UnknownJobNameFails(t *testing.T) {
	pool, s, _ := setupTestPool(t, 1, 10*time.Millisecond)

	j := newTestJob("never-registered", 3)
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, "terminal failure", func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateFailed
	})
	stopPool(t, pool)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.FailureReason == "" {
		t.Error("expected FailureReason to name the missing processor")
	}
}

func TestPool_ConcurrencyBound(t *testing.T) {
	pool, s, reg := setupTestPool(t, 2, 10*time.Millisecond)

	var inFlight atomic.Int32
	var peak atomic.Int32
	var done atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition("slow", func(_ context.Context, _ struct{}) (any, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		inFlight.Add(-1)
		done.Add(1)
		return nil, nil
	}))

	for i := 0; i < 6; i++ {
		if err := s.EnqueueJob(context.Background(), newTestJob("slow", 1)); err != nil {
			t.Fatalf("enqueue error: %v", err)
		}
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, "all jobs to finish", func() bool { return done.Load() == 6 })
	stopPool(t, pool)

	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestPool_GracefulShutdown(t *testing.T) {
	pool, _, _ := setupTestPool(t, 4, 50*time.Millisecond)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	// Allow workers to start polling.
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := pool.Stop(ctx)
	if err != nil {
		t.Fatalf("graceful shutdown failed: %v", err)
	}
}

func TestPool_HooksFire(t *testing.T) {
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	hooks := hook.NewRegistry(logger)
	queues := queue.NewManager(queue.Config{Name: "default", Concurrency: 1})

	tracker := &trackingHook{}
	hooks.Register(tracker)

	executor := worker.NewExecutor(reg, hooks, s, queues, logger)
	pool := worker.NewPool(s, executor, hooks, queues, logger,
		worker.WithPollInterval(10*time.Millisecond),
	)

	var processed atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition("tracked", func(_ context.Context, _ struct{}) (any, error) {
		processed.Store(true)
		return nil, nil
	}))

	j := newTestJob("tracked", 3)
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, "job to be processed", processed.Load)
	waitFor(t, "completion hook", tracker.completed.Load)
	stopPool(t, pool)

	if !tracker.started.Load() {
		t.Error("expected OnJobStarted to fire")
	}
	if !tracker.completed.Load() {
		t.Error("expected OnJobCompleted to fire")
	}
}

func TestPool_StalledJobRequeuedThenCompletes(t *testing.T) {
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	hooks := hook.NewRegistry(logger)
	queues := queue.NewManager(queue.Config{Name: "default", Concurrency: 1})

	stalls := &stallHook{}
	hooks.Register(stalls)

	executor := worker.NewExecutor(reg, hooks, s, queues, logger)
	pool := worker.NewPool(s, executor, hooks, queues, logger,
		worker.WithPollInterval(10*time.Millisecond),
		worker.WithStallThreshold(20*time.Millisecond),
		worker.WithMaxStalledCount(1),
	)

	var processed atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition("rescued", func(_ context.Context, _ struct{}) (any, error) {
		processed.Store(true)
		return nil, nil
	}))

	// Simulate a worker that claimed the job and then died: claim it
	// directly, then age the heartbeat past the stall threshold.
	j := newTestJob("rescued", 5)
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	claimed, err := s.DequeueJobs(context.Background(), "default", 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("dequeue = %v, %v, want one claimed job", claimed, err)
	}
	stale := time.Now().UTC().Add(-time.Minute)
	claimed[0].HeartbeatAt = &stale
	if err := s.UpdateJob(context.Background(), claimed[0]); err != nil {
		t.Fatalf("update error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, "stalled job to be requeued and processed", processed.Load)
	waitFor(t, "job completion", func() bool {
		got, getErr := s.GetJob(context.Background(), j.ID)
		return getErr == nil && got.State == job.StateCompleted
	})
	stopPool(t, pool)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.StalledCount != 1 {
		t.Errorf("stalled count = %d, want 1", got.StalledCount)
	}
	if got.Attempts != 2 {
		t.Errorf("attempts = %d, want 2 (claim + re-run)", got.Attempts)
	}
	if !stalls.requeued.Load() {
		t.Error("expected OnJobStalled(requeued=true) to fire")
	}
	if stalls.abandoned.Load() {
		t.Error("job within the stall budget must not be abandoned")
	}
}

func TestPool_StalledJobAbandonedPastBudget(t *testing.T) {
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	hooks := hook.NewRegistry(logger)
	queues := queue.NewManager(queue.Config{Name: "default", Concurrency: 1})

	stalls := &stallHook{}
	hooks.Register(stalls)

	executor := worker.NewExecutor(reg, hooks, s, queues, logger)
	pool := worker.NewPool(s, executor, hooks, queues, logger,
		worker.WithPollInterval(10*time.Millisecond),
		worker.WithStallThreshold(20*time.Millisecond),
		worker.WithMaxStalledCount(0),
	)

	j := newTestJob("lost", 5)
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	claimed, err := s.DequeueJobs(context.Background(), "default", 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("dequeue = %v, %v, want one claimed job", claimed, err)
	}
	stale := time.Now().UTC().Add(-time.Minute)
	claimed[0].HeartbeatAt = &stale
	if err := s.UpdateJob(context.Background(), claimed[0]); err != nil {
		t.Fatalf("update error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, "stalled job to be abandoned", func() bool {
		got, getErr := s.GetJob(context.Background(), j.ID)
		return getErr == nil && got.State == job.StateFailed
	})
	waitFor(t, "failure hook to fire", func() bool {
		return stalls.failedWith.Load() != nil
	})
	stopPool(t, pool)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.FailureReason != "job stalled: worker heartbeat lost" {
		t.Errorf("failure reason = %q, want stall reason", got.FailureReason)
	}
	if got.FinishedAt == nil {
		t.Error("expected FinishedAt to be set on abandonment")
	}
	if !stalls.abandoned.Load() {
		t.Error("expected OnJobStalled(requeued=false) to fire")
	}
	if !errors.Is(stalls.failedWith.Load().(error), worker.ErrJobStalled) {
		t.Errorf("failure hook error = %v, want ErrJobStalled", stalls.failedWith.Load())
	}
}

func TestPool_ThrottledJobParkedAsDelayed(t *testing.T) {
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	hooks := hook.NewRegistry(logger)
	// One token total during the test window: the second job must be
	// handed back rather than spun on.
	queues := queue.NewManager(queue.Config{
		Name:        "default",
		Concurrency: 2,
		RateLimit:   0.001,
		RateBurst:   1,
	})

	executor := worker.NewExecutor(reg, hooks, s, queues, logger)
	pool := worker.NewPool(s, executor, hooks, queues, logger,
		worker.WithPollInterval(10*time.Millisecond),
		worker.WithPromoteInterval(time.Second),
	)

	job.RegisterDefinition(reg, job.NewDefinition("limited", func(_ context.Context, _ struct{}) (any, error) {
		return nil, nil
	}))

	for i := 0; i < 2; i++ {
		if err := s.EnqueueJob(context.Background(), newTestJob("limited", 3)); err != nil {
			t.Fatalf("enqueue error: %v", err)
		}
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	// The throttled job is parked for the promoter, with the unexecuted
	// attempt handed back.
	waitFor(t, "throttled job parked as delayed", func() bool {
		parked, listErr := s.ListJobsByState(context.Background(), job.StateDelayed, job.ListOpts{Queue: "default"})
		return listErr == nil && len(parked) == 1 && parked[0].Attempts == 0
	})
	waitFor(t, "first job completion", func() bool {
		n, countErr := s.CountJobs(context.Background(), job.CountOpts{State: job.StateCompleted})
		return countErr == nil && n == 1
	})
	stopPool(t, pool)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// trackingHook records which lifecycle events fired.
type trackingHook struct {
	started   atomic.Bool
	completed atomic.Bool
	failed    atomic.Bool
}

func (h *trackingHook) Name() string { return "tracker" }

func (h *trackingHook) OnJobStarted(_ context.Context, _ *job.Job) error {
	h.started.Store(true)
	return nil
}

func (h *trackingHook) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	h.completed.Store(true)
	return nil
}

func (h *trackingHook) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	h.failed.Store(true)
	return nil
}

// stallHook records stall outcomes reported by the reaper.
type stallHook struct {
	requeued   atomic.Bool
	abandoned  atomic.Bool
	failedWith atomic.Value
}

func (h *stallHook) Name() string { return "stalls" }

func (h *stallHook) OnJobStalled(_ context.Context, _ *job.Job, requeued bool) error {
	if requeued {
		h.requeued.Store(true)
	} else {
		h.abandoned.Store(true)
	}
	return nil
}

func (h *stallHook) OnJobFailed(_ context.Context, _ *job.Job, err error) error {
	h.failedWith.Store(err)
	return nil
}
