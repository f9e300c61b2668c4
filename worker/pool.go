package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hirewire/workq/hook"
	"github.com/hirewire/workq/id"
	"github.com/hirewire/workq/job"
	"github.com/hirewire/workq/queue"
)

// ErrJobStalled is reported to failure hooks when the reaper abandons a
// job whose worker stopped heartbeating.
var ErrJobStalled = errors.New("workq/worker: job stalled, worker heartbeat lost")

// Pool manages per-queue worker goroutines that poll for jobs and
// execute them through the Executor. Each registered queue gets its own
// set of dequeue loops sized by the queue's concurrency, plus a promoter
// loop that re-surfaces due delayed jobs.
type Pool struct {
	store    job.Store
	executor *Executor
	hooks    *hook.Registry
	queues   *queue.Manager
	workerID id.WorkerID
	logger   *slog.Logger

	pollInterval    time.Duration
	promoteInterval time.Duration

	// Heartbeat / reaper configuration.
	heartbeatInterval time.Duration
	stallThreshold    time.Duration
	maxStalledCount   int

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPollInterval sets how often idle worker slots poll for new jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithPromoteInterval sets how often due delayed jobs are promoted back
// to waiting.
func WithPromoteInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.promoteInterval = d }
}

// WithHeartbeatInterval sets how often the pool sends heartbeats for
// active jobs. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStallThreshold sets the threshold after which active jobs without
// a heartbeat are considered stalled and reaped. A zero value disables
// stall reaping.
func WithStallThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.stallThreshold = d }
}

// WithMaxStalledCount bounds how many times a job may be requeued by the
// stall reaper before it is abandoned as failed.
func WithMaxStalledCount(n int) PoolOption {
	return func(p *Pool) { p.maxStalledCount = n }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	hooks *hook.Registry,
	queues *queue.Manager,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:           store,
		executor:        executor,
		hooks:           hooks,
		queues:          queues,
		workerID:        id.NewWorkerID(),
		logger:          logger,
		pollInterval:    time.Second,
		promoteInterval: time.Second,
		maxStalledCount: 1,
		stopCh:          make(chan struct{}),
		activeJobs:      make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	names := p.queues.Names()
	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Any("queues", names),
	)

	for _, name := range names {
		cfg, ok := p.queues.Get(name)
		if !ok {
			continue
		}
		slots := cfg.Concurrency
		if slots <= 0 {
			slots = 1
		}
		for range slots {
			p.wg.Add(1)
			go p.dequeueLoop(name)
		}

		p.wg.Add(1)
		go p.promoterLoop(name)
	}

	// Launch heartbeat goroutine if configured.
	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	// Launch reaper goroutine if configured.
	if p.stallThreshold > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// If the context has a deadline, active jobs are cancelled when time
// runs out; the broker's stall detection re-surfaces them later.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	// Signal all workers to stop.
	close(p.stopCh)

	// Wait for completion or context deadline.
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// dequeueLoop is run by each worker slot of a queue.
func (p *Pool) dequeueLoop(queueName string) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		jobs, err := p.store.DequeueJobs(context.Background(), queueName, 1)
		if err != nil {
			p.logger.Error("dequeue error",
				slog.String("queue", queueName),
				slog.String("error", err.Error()),
			)
			p.sleep()
			continue
		}

		if len(jobs) == 0 {
			p.sleep()
			continue
		}

		j := jobs[0]

		// Check queue rate limit and concurrency.
		if !p.queues.Acquire(queueName) {
			// Throttled — park the job as delayed so the promoter
			// re-surfaces it; putting it straight back to waiting would
			// busy-loop the slot against the rate limiter. The dequeue
			// already consumed an attempt; hand it back.
			j.State = job.StateDelayed
			j.Attempts--
			j.RunAt = time.Now().UTC().Add(p.pollInterval)
			j.StartedAt = nil
			j.HeartbeatAt = nil
			if updateErr := p.store.UpdateJob(context.Background(), j); updateErr != nil {
				p.logger.Error("failed to return throttled job",
					slog.String("job_id", j.ID.String()),
					slog.String("error", updateErr.Error()),
				)
			}
			p.sleep()
			continue
		}

		j.WorkerID = p.workerID
		p.hooks.EmitJobStarted(context.Background(), j)

		ctx, cancel := context.WithCancel(context.Background())
		p.trackJob(j.ID.String(), cancel)

		execErr := p.executor.Execute(ctx, j)
		if execErr != nil {
			p.logger.Debug("job execution failed",
				slog.String("job_id", j.ID.String()),
				slog.String("job_name", j.Name),
				slog.String("error", execErr.Error()),
			)
		}

		p.untrackJob(j.ID.String())
		cancel()

		p.queues.Release(queueName)
	}
}

// promoterLoop periodically re-surfaces due delayed jobs for a queue.
func (p *Pool) promoterLoop(queueName string) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			n, err := p.store.PromoteDelayedJobs(context.Background(), queueName, time.Now().UTC())
			if err != nil {
				p.logger.Error("promote delayed jobs error",
					slog.String("queue", queueName),
					slog.String("error", err.Error()),
				)
				continue
			}
			if n > 0 {
				p.logger.Debug("promoted delayed jobs",
					slog.String("queue", queueName),
					slog.Int("count", n),
				)
			}
		}
	}
}

// heartbeatLoop periodically sends heartbeats for all active jobs.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	jobIDs := make([]string, 0, len(p.activeJobs))
	for jobID := range p.activeJobs {
		jobIDs = append(jobIDs, jobID)
	}
	p.activeMu.Unlock()

	for _, jobIDStr := range jobIDs {
		parsedID, parseErr := id.ParseJobID(jobIDStr)
		if parseErr != nil {
			p.logger.Warn("heartbeat: invalid job id", slog.String("job_id", jobIDStr))
			continue
		}
		if err := p.store.HeartbeatJob(context.Background(), parsedID, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", jobIDStr),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop periodically reaps stalled jobs whose heartbeat has expired.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.stallThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapStalledJobs()
		}
	}
}

func (p *Pool) reapStalledJobs() {
	ctx := context.Background()

	stalled, err := p.store.ReapStalledJobs(ctx, p.stallThreshold)
	if err != nil {
		p.logger.Error("reap stalled jobs error", slog.String("error", err.Error()))
		return
	}

	for _, j := range stalled {
		// Skip jobs this pool is still executing; a slow handler with a
		// live in-process tracker is not a lost worker.
		if p.isTracked(j.ID.String()) {
			continue
		}

		j.StalledCount++

		// Abandon jobs that stall repeatedly or have no attempt budget
		// left for a re-run.
		if j.StalledCount > p.maxStalledCount || j.Attempts >= j.MaxAttempts {
			now := time.Now().UTC()
			j.State = job.StateFailed
			j.FailureReason = "job stalled: worker heartbeat lost"
			j.FinishedAt = &now

			if updateErr := p.store.UpdateJob(ctx, j); updateErr != nil {
				p.logger.Error("reap: failed to abandon stalled job",
					slog.String("job_id", j.ID.String()),
					slog.String("error", updateErr.Error()),
				)
				continue
			}

			p.hooks.EmitJobStalled(ctx, j, false)
			p.hooks.EmitJobFailed(ctx, j, ErrJobStalled)

			p.logger.Warn("abandoned stalled job",
				slog.String("job_id", j.ID.String()),
				slog.String("job_name", j.Name),
				slog.Int("stalled_count", j.StalledCount),
			)
			continue
		}

		j.State = job.StateWaiting
		j.RunAt = time.Now().UTC()
		j.WorkerID = id.WorkerID{} // Clear the worker assignment.
		j.HeartbeatAt = nil
		j.StartedAt = nil

		if updateErr := p.store.UpdateJob(ctx, j); updateErr != nil {
			p.logger.Error("reap: failed to requeue stalled job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", updateErr.Error()),
			)
			continue
		}

		p.hooks.EmitJobStalled(ctx, j, true)

		p.logger.Info("requeued stalled job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.Int("stalled_count", j.StalledCount),
		)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) isTracked(jobID string) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	_, ok := p.activeJobs[jobID]
	return ok
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
