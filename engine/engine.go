package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hirewire/workq"
	"github.com/hirewire/workq/dlq"
	"github.com/hirewire/workq/health"
	"github.com/hirewire/workq/hook"
	"github.com/hirewire/workq/id"
	"github.com/hirewire/workq/job"
	"github.com/hirewire/workq/middleware"
	"github.com/hirewire/workq/queue"
	"github.com/hirewire/workq/status"
	"github.com/hirewire/workq/store"
	"github.com/hirewire/workq/worker"
)

// Ack is returned to producers after a successful enqueue.
type Ack struct {
	JobID         id.JobID      `json:"job_id"`
	Status        string        `json:"status"`
	EstimatedWait time.Duration `json:"estimated_wait"`
}

// Engine is the assembled job-processing system. Producers enqueue
// through it, workers are owned by it, and the status and health
// surfaces hang off it.
type Engine struct {
	coord    *workq.Coordinator
	store    store.Store
	registry *job.Registry
	hooks    *hook.Registry
	queues   *queue.Manager
	pool     *worker.Pool
	tracker  *status.Tracker
	health   *health.Aggregator
	dlq      *dlq.Service
	logger   *slog.Logger

	// defaults is the fallback Options for names enqueued without a
	// registered definition, built from the coordinator's Config.
	defaults job.Options
}

// Build assembles an Engine from a configured Coordinator. The
// coordinator's store must implement the full store.Store contract.
// Build registers the default middleware chain, wires the worker pool
// and lifecycle hooks back into the coordinator, and registers the
// health aggregator as a completion hook.
func Build(coord *workq.Coordinator) (*Engine, error) {
	st, ok := coord.Store().(store.Store)
	if st == nil || !ok {
		return nil, workq.ErrNoStore
	}

	cfg := coord.Config()
	logger := coord.Logger()

	queueConfigs := make([]queue.Config, 0, len(cfg.Concurrency))
	for name, concurrency := range cfg.Concurrency {
		queueConfigs = append(queueConfigs, queue.Config{
			Name:          name,
			Concurrency:   concurrency,
			KeepCompleted: cfg.KeepCompleted,
			KeepFailed:    cfg.KeepFailed,
		})
	}
	queues := queue.NewManager(queueConfigs...)

	registry := job.NewRegistry()
	hooks := hook.NewRegistry(logger)

	executor := worker.NewExecutor(registry, hooks, st, queues, logger,
		middleware.Recover(logger),
		middleware.Tracing(),
		middleware.Metrics(),
		middleware.Logging(logger),
		middleware.Timeout(logger),
	)

	pool := worker.NewPool(st, executor, hooks, queues, logger,
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithPromoteInterval(cfg.PromoteInterval),
		worker.WithHeartbeatInterval(cfg.HeartbeatInterval),
		worker.WithStallThreshold(cfg.StallThreshold),
		worker.WithMaxStalledCount(cfg.MaxStalledCount),
	)

	aggregator := health.NewAggregator(st, st, queues)
	hooks.Register(aggregator)

	coord.SetPool(pool)
	coord.SetHooks(hooks)

	return &Engine{
		coord:    coord,
		store:    st,
		registry: registry,
		hooks:    hooks,
		queues:   queues,
		pool:     pool,
		tracker:  status.NewTracker(st),
		health:   aggregator,
		dlq:      dlq.NewService(st),
		logger:   logger,
		defaults: optionsFromConfig(cfg),
	}, nil
}

// optionsFromConfig overlays the coordinator's configured retry
// defaults on top of the package defaults.
func optionsFromConfig(cfg workq.Config) job.Options {
	o := job.DefaultOptions()
	if cfg.DefaultMaxAttempts > 0 {
		o.MaxAttempts = cfg.DefaultMaxAttempts
	}
	switch job.BackoffKind(cfg.DefaultBackoffKind) {
	case job.BackoffFixed, job.BackoffExponential:
		o.BackoffKind = job.BackoffKind(cfg.DefaultBackoffKind)
	}
	if cfg.DefaultBackoffBase > 0 {
		o.BackoffBase = cfg.DefaultBackoffBase
	}
	return o
}

// Registry returns the processor registry for registering definitions.
func (e *Engine) Registry() *job.Registry { return e.registry }

// Hooks returns the lifecycle hook registry.
func (e *Engine) Hooks() *hook.Registry { return e.hooks }

// Queues returns the queue manager.
func (e *Engine) Queues() *queue.Manager { return e.queues }

// Tracker returns the job status projection.
func (e *Engine) Tracker() *status.Tracker { return e.tracker }

// Health returns the queue health aggregator.
func (e *Engine) Health() *health.Aggregator { return e.health }

// DLQ returns the dead-letter service over failed jobs.
func (e *Engine) DLQ() *dlq.Service { return e.dlq }

// Register registers a typed job definition with the engine.
func Register[T any](e *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(e.registry, def)
}

// Enqueue marshals a typed payload and submits it under the given
// definition name. Options registered with the definition apply first;
// call-site options override them.
func Enqueue[T any](ctx context.Context, e *Engine, name string, payload T, opts ...job.Option) (*Ack, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("workq/engine: marshal payload for job %q: %w", name, err)
	}
	return e.EnqueueRaw(ctx, name, raw, opts...)
}

// EnqueueRaw submits a raw JSON payload under the given definition
// name. The job is validated at this boundary: an unknown target queue
// is rejected with ErrQueueNotFound, and a payload failing the
// definition's shape check is rejected with ErrInvalidPayload — neither
// enters the queue. It refuses new work once shutdown has begun, and
// reports broker failures as ErrBrokerUnavailable joined with the
// underlying error.
func (e *Engine) EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*Ack, error) {
	if e.coord.Draining() {
		return nil, workq.ErrShuttingDown
	}

	options, ok := e.registry.Defaults(name)
	if !ok {
		options = e.defaults
	}
	for _, opt := range opts {
		opt(&options)
	}

	if _, ok := e.queues.Get(options.Queue); !ok {
		return nil, fmt.Errorf("queue %q: %w", options.Queue, workq.ErrQueueNotFound)
	}
	if err := e.registry.Validate(name, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", workq.ErrInvalidPayload, err)
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:      workq.NewEntity(),
		ID:          id.NewJobID(),
		Name:        name,
		Queue:       options.Queue,
		Payload:     payload,
		Priority:    options.Priority,
		MaxAttempts: options.MaxAttempts,
		BackoffKind: options.BackoffKind,
		BackoffBase: options.BackoffBase,
		Timeout:     options.Timeout,
		EnqueuedAt:  now,
		RunAt:       now.Add(options.Delay),
	}

	if err := e.store.EnqueueJob(ctx, j); err != nil {
		return nil, errors.Join(workq.ErrBrokerUnavailable, err)
	}

	e.hooks.EmitJobEnqueued(ctx, j)

	wait, err := e.health.EstimateWait(ctx, j.Queue)
	if err != nil {
		// The job is accepted; a failed estimate must not fail the enqueue.
		e.logger.Warn("wait estimate failed",
			slog.String("queue", j.Queue),
			slog.String("error", err.Error()),
		)
		wait = 0
	}

	return &Ack{JobID: j.ID, Status: "queued", EstimatedWait: wait}, nil
}
