package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hirewire/workq"
	"github.com/hirewire/workq/engine"
	"github.com/hirewire/workq/job"
	"github.com/hirewire/workq/store/memory"
)

type testPayload struct {
	Input string `json:"input"`
}

func newTestEngine(t *testing.T) (*engine.Engine, *workq.Coordinator) {
	t.Helper()

	cfg := workq.DefaultConfig()
	cfg.Concurrency = map[string]int{"video": 2}

	coord, err := workq.New(
		workq.WithConfig(cfg),
		workq.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		workq.WithStore(memory.New()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	eng, err := engine.Build(coord)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	engine.Register(eng, job.NewDefinition("test-job",
		func(ctx context.Context, p testPayload) (any, error) { return nil, nil },
		job.WithQueue("video"),
		job.WithMaxAttempts(2),
	))
	return eng, coord
}

func TestBuildRequiresFullStore(t *testing.T) {
	t.Parallel()

	coord, err := workq.New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := engine.Build(coord); err == nil {
		t.Fatal("Build() with no store: error = nil, want error")
	}
}

func TestEnqueueReturnsAck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	eng, _ := newTestEngine(t)

	ack, err := engine.Enqueue(ctx, eng, "test-job", testPayload{Input: "a"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if ack.JobID.String() == "" {
		t.Error("ack.JobID is empty")
	}
	if ack.Status != "queued" {
		t.Errorf("ack.Status = %q, want %q", ack.Status, "queued")
	}
	if ack.EstimatedWait <= 0 {
		t.Errorf("ack.EstimatedWait = %v, want > 0", ack.EstimatedWait)
	}

	view, err := eng.Tracker().Get(ctx, ack.JobID)
	if err != nil {
		t.Fatalf("Tracker().Get() error = %v", err)
	}
	if view.State != job.StateWaiting {
		t.Errorf("State = %q, want %q", view.State, job.StateWaiting)
	}
	if view.Queue != "video" {
		t.Errorf("Queue = %q, want %q", view.Queue, "video")
	}
}

func TestEnqueueDefinitionDefaultsApply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	eng, _ := newTestEngine(t)

	ack, err := engine.Enqueue(ctx, eng, "test-job", testPayload{Input: "a"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	view, err := eng.Tracker().Get(ctx, ack.JobID)
	if err != nil {
		t.Fatalf("Tracker().Get() error = %v", err)
	}
	if view.MaxAttempts != 2 {
		t.Errorf("MaxAttempts = %d, want 2 (from definition)", view.MaxAttempts)
	}
}

func TestEnqueueCallSiteOptionsOverride(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	eng, _ := newTestEngine(t)

	ack, err := engine.Enqueue(ctx, eng, "test-job", testPayload{Input: "a"},
		job.WithMaxAttempts(7),
		job.WithPriority(9),
	)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	view, err := eng.Tracker().Get(ctx, ack.JobID)
	if err != nil {
		t.Fatalf("Tracker().Get() error = %v", err)
	}
	if view.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d, want 7", view.MaxAttempts)
	}
	if view.Priority != 9 {
		t.Errorf("Priority = %d, want 9", view.Priority)
	}
}

func TestEnqueueWithDelayParksJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	eng, _ := newTestEngine(t)

	ack, err := engine.Enqueue(ctx, eng, "test-job", testPayload{Input: "a"},
		job.WithDelay(time.Hour),
	)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	view, err := eng.Tracker().Get(ctx, ack.JobID)
	if err != nil {
		t.Fatalf("Tracker().Get() error = %v", err)
	}
	if view.State != job.StateDelayed {
		t.Errorf("State = %q, want %q", view.State, job.StateDelayed)
	}
	if view.RunAt == nil {
		t.Error("RunAt is nil, want scheduled time")
	}
}

func TestEnqueueDistinctIDsForIdenticalPayloads(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	eng, _ := newTestEngine(t)

	a, err := engine.Enqueue(ctx, eng, "test-job", testPayload{Input: "same"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	b, err := engine.Enqueue(ctx, eng, "test-job", testPayload{Input: "same"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if a.JobID == b.JobID {
		t.Errorf("identical payloads share job ID %s", a.JobID)
	}
}

func TestEnqueueRejectedWhileDraining(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	eng, coord := newTestEngine(t)

	if err := coord.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	_, err := engine.Enqueue(ctx, eng, "test-job", testPayload{Input: "a"})
	if err != workq.ErrShuttingDown {
		t.Errorf("Enqueue() error = %v, want %v", err, workq.ErrShuttingDown)
	}
}

func TestEnqueueUnknownQueueRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	eng, _ := newTestEngine(t)

	_, err := engine.Enqueue(ctx, eng, "test-job", testPayload{Input: "a"},
		job.WithQueue("no-such-queue"),
	)
	if !errors.Is(err, workq.ErrQueueNotFound) {
		t.Fatalf("Enqueue() error = %v, want %v", err, workq.ErrQueueNotFound)
	}

	counts, err := eng.Tracker().Counts(ctx, "")
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if counts[job.StateWaiting] != 0 {
		t.Errorf("waiting count = %d, want 0 (rejected job must not be stored)", counts[job.StateWaiting])
	}
}

type checkedPayload struct {
	Input string `json:"input"`
}

func (p checkedPayload) Validate() error {
	if p.Input == "" {
		return errors.New("input is required")
	}
	return nil
}

func TestEnqueueInvalidPayloadRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	eng, _ := newTestEngine(t)
	engine.Register(eng, job.NewDefinition("checked-job",
		func(ctx context.Context, p checkedPayload) (any, error) { return nil, nil },
		job.WithQueue("video"),
	))

	_, err := engine.Enqueue(ctx, eng, "checked-job", checkedPayload{})
	if !errors.Is(err, workq.ErrInvalidPayload) {
		t.Fatalf("Enqueue() error = %v, want %v", err, workq.ErrInvalidPayload)
	}

	counts, err := eng.Tracker().Counts(ctx, "video")
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if counts[job.StateWaiting] != 0 {
		t.Errorf("waiting count = %d, want 0 (rejected job must not be stored)", counts[job.StateWaiting])
	}

	ack, err := engine.Enqueue(ctx, eng, "checked-job", checkedPayload{Input: "ok"})
	if err != nil {
		t.Fatalf("Enqueue() with valid payload error = %v", err)
	}
	if ack.Status != "queued" {
		t.Errorf("ack.Status = %q, want %q", ack.Status, "queued")
	}
}

func TestEnqueueRawConfigDefaultsApply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := workq.DefaultConfig()
	cfg.Concurrency = map[string]int{"video": 2}
	cfg.DefaultMaxAttempts = 9
	cfg.DefaultBackoffKind = "fixed"
	cfg.DefaultBackoffBase = 2 * time.Second

	st := memory.New()
	coord, err := workq.New(
		workq.WithConfig(cfg),
		workq.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		workq.WithStore(st),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	eng, err := engine.Build(coord)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	ack, err := eng.EnqueueRaw(ctx, "never-registered", []byte(`{}`),
		job.WithQueue("video"),
	)
	if err != nil {
		t.Fatalf("EnqueueRaw() error = %v", err)
	}
	stored, err := st.GetJob(ctx, ack.JobID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if stored.MaxAttempts != 9 {
		t.Errorf("MaxAttempts = %d, want 9 (from config)", stored.MaxAttempts)
	}
	if stored.BackoffKind != job.BackoffFixed {
		t.Errorf("BackoffKind = %q, want %q", stored.BackoffKind, job.BackoffFixed)
	}
	if stored.BackoffBase != 2*time.Second {
		t.Errorf("BackoffBase = %v, want 2s", stored.BackoffBase)
	}
}

func TestEnqueueUnregisteredNameUsesDefaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	eng, _ := newTestEngine(t)

	ack, err := eng.EnqueueRaw(ctx, "never-registered", []byte(`{}`),
		job.WithQueue("video"),
	)
	if err != nil {
		t.Fatalf("EnqueueRaw() error = %v", err)
	}
	view, err := eng.Tracker().Get(ctx, ack.JobID)
	if err != nil {
		t.Fatalf("Tracker().Get() error = %v", err)
	}
	if view.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want default 3", view.MaxAttempts)
	}
}
