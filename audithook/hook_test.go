package audithook_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hirewire/workq/audithook"
	"github.com/hirewire/workq/id"
	"github.com/hirewire/workq/job"
)

type captureRecorder struct {
	events []*audithook.AuditEvent
	err    error
}

func (r *captureRecorder) Record(_ context.Context, evt *audithook.AuditEvent) error {
	r.events = append(r.events, evt)
	return r.err
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:       id.NewJobID(),
		Name:     "transcode-video",
		Queue:    "video",
		Attempts: 2,
	}
}

func TestAllEventsRecorded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	rec := &captureRecorder{}
	h := audithook.New(rec)
	j := newTestJob()

	if err := h.OnJobEnqueued(ctx, j); err != nil {
		t.Fatalf("OnJobEnqueued() error = %v", err)
	}
	if err := h.OnJobStarted(ctx, j); err != nil {
		t.Fatalf("OnJobStarted() error = %v", err)
	}
	if err := h.OnJobCompleted(ctx, j, time.Second); err != nil {
		t.Fatalf("OnJobCompleted() error = %v", err)
	}
	if err := h.OnJobFailed(ctx, j, errors.New("boom")); err != nil {
		t.Fatalf("OnJobFailed() error = %v", err)
	}
	if err := h.OnJobRetrying(ctx, j, 2, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("OnJobRetrying() error = %v", err)
	}
	if err := h.OnJobStalled(ctx, j, true); err != nil {
		t.Fatalf("OnJobStalled() error = %v", err)
	}

	if got, want := len(rec.events), len(audithook.AllActions()); got != want {
		t.Fatalf("recorded events = %d, want %d", got, want)
	}

	byAction := make(map[string]*audithook.AuditEvent, len(rec.events))
	for _, evt := range rec.events {
		byAction[evt.Action] = evt
	}

	failed := byAction[audithook.ActionJobFailed]
	if failed == nil {
		t.Fatal("no job.failed event recorded")
	}
	if failed.Outcome != audithook.OutcomeFailure {
		t.Errorf("failed Outcome = %q, want %q", failed.Outcome, audithook.OutcomeFailure)
	}
	if failed.Severity != audithook.SeverityCritical {
		t.Errorf("failed Severity = %q, want %q", failed.Severity, audithook.SeverityCritical)
	}
	if failed.Reason != "boom" {
		t.Errorf("failed Reason = %q, want %q", failed.Reason, "boom")
	}
	if failed.ResourceID != j.ID.String() {
		t.Errorf("failed ResourceID = %q, want %q", failed.ResourceID, j.ID)
	}

	completed := byAction[audithook.ActionJobCompleted]
	if completed == nil {
		t.Fatal("no job.completed event recorded")
	}
	if got := completed.Metadata["duration_ms"]; got != int64(1000) {
		t.Errorf("completed duration_ms = %v, want 1000", got)
	}
}

func TestWithActionsFilters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	rec := &captureRecorder{}
	h := audithook.New(rec, audithook.WithActions(audithook.ActionJobFailed))
	j := newTestJob()

	if err := h.OnJobEnqueued(ctx, j); err != nil {
		t.Fatalf("OnJobEnqueued() error = %v", err)
	}
	if err := h.OnJobFailed(ctx, j, errors.New("boom")); err != nil {
		t.Fatalf("OnJobFailed() error = %v", err)
	}

	if len(rec.events) != 1 {
		t.Fatalf("recorded events = %d, want 1", len(rec.events))
	}
	if rec.events[0].Action != audithook.ActionJobFailed {
		t.Errorf("Action = %q, want %q", rec.events[0].Action, audithook.ActionJobFailed)
	}
}

func TestRecorderErrorDoesNotPropagate(t *testing.T) {
	t.Parallel()

	rec := &captureRecorder{err: errors.New("audit backend down")}
	h := audithook.New(rec)

	if err := h.OnJobEnqueued(context.Background(), newTestJob()); err != nil {
		t.Errorf("OnJobEnqueued() error = %v, want nil", err)
	}
}
