// Package worker provides the job execution engine — an Executor that
// invokes registered processors through middleware, and a Pool that
// manages per-queue worker goroutines polling for jobs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hirewire/workq"
	"github.com/hirewire/workq/backoff"
	"github.com/hirewire/workq/hook"
	"github.com/hirewire/workq/job"
	"github.com/hirewire/workq/middleware"
	"github.com/hirewire/workq/queue"
)

// Executor runs a single job through middleware and the registered
// processor, then handles retry scheduling, terminal state updates,
// retention trimming, and lifecycle events.
type Executor struct {
	registry *job.Registry
	hooks    *hook.Registry
	store    job.Store
	queues   *queue.Manager
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	hooks *hook.Registry,
	store job.Store,
	queues *queue.Manager,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry: registry,
		hooks:    hooks,
		store:    store,
		queues:   queues,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute runs a job through the middleware chain and processor.
// On success: marks completed with the result, emits JobCompleted.
// On retryable failure with attempts remaining: parks the job as delayed
// with a backoff delay, emits JobRetrying.
// On permanent failure or exhausted attempts: marks failed, emits JobFailed.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	processor, ok := e.registry.Get(j.Name)
	if !ok {
		// No processor will ever handle this name; retrying is pointless.
		return e.handleFailure(ctx, j,
			workq.Permanent(fmt.Errorf("no processor registered for job %q", j.Name)),
			time.Now().UTC(),
		)
	}

	start := time.Now()

	// The terminal handler that calls the registered processor.
	terminal := func(ctx context.Context) ([]byte, error) {
		return processor(ctx, j.Payload)
	}

	// Run through middleware chain.
	result, err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	now := time.Now().UTC()
	j.UpdatedAt = now

	if err != nil {
		return e.handleFailure(ctx, j, err, now)
	}

	return e.handleSuccess(ctx, j, result, now, elapsed)
}

// handleSuccess marks the job as completed and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, result []byte, now time.Time, elapsed time.Duration) error {
	j.State = job.StateCompleted
	j.Result = result
	j.FinishedAt = &now

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.trimFinished(ctx, j.Queue, job.StateCompleted)
	e.hooks.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// handleFailure records the failure and either schedules a retry or
// fails the job terminally.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.FailureReason = handlerErr.Error()

	if workq.IsPermanent(handlerErr) || j.Attempts >= j.MaxAttempts {
		return e.failTerminally(ctx, j, handlerErr, now)
	}

	return e.scheduleRetry(ctx, j, now)
}

// scheduleRetry parks the job as delayed with a backoff delay; the
// promoter re-surfaces it when RunAt arrives.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, now time.Time) error {
	policy := backoff.ForKind(string(j.BackoffKind), j.BackoffBase)
	delay := policy.Delay(j.Attempts)
	nextRunAt := now.Add(delay)

	j.State = job.StateDelayed
	j.RunAt = nextRunAt

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.hooks.EmitJobRetrying(ctx, j, j.Attempts, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s attempt %d/%d: %s", j.Name, j.Attempts, j.MaxAttempts, j.FailureReason)
}

// failTerminally marks the job as failed and emits events.
func (e *Executor) failTerminally(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.State = job.StateFailed
	j.FinishedAt = &now

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.trimFinished(ctx, j.Queue, job.StateFailed)
	e.hooks.EmitJobFailed(ctx, j, handlerErr)

	e.logger.Warn("job failed terminally",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempts", j.Attempts),
		slog.String("error", handlerErr.Error()),
	)

	return handlerErr
}

// trimFinished enforces the queue's bounded retention ring for the given
// terminal state. Trim failures are logged, never surfaced: retention is
// best effort.
func (e *Executor) trimFinished(ctx context.Context, queueName string, state job.State) {
	cfg, ok := e.queues.Get(queueName)
	if !ok {
		return
	}
	keep := cfg.KeepCompleted
	if state == job.StateFailed {
		keep = cfg.KeepFailed
	}
	if keep <= 0 {
		return
	}
	if _, err := e.store.TrimFinished(ctx, queueName, state, keep); err != nil {
		e.logger.Warn("retention trim failed",
			slog.String("queue", queueName),
			slog.String("state", string(state)),
			slog.String("error", err.Error()),
		)
	}
}
