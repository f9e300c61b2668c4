package workq

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Option configures a Coordinator.
type Option func(*Coordinator) error

// Storer is the minimal store interface held by the Coordinator.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds the job
// store contract.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for shutdown lifecycle hooks.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Coordinator owns the process-wide job-processing lifecycle: it holds
// the broker store, starts the per-queue worker pools, and drains them
// on termination. Construct one with New() and functional options, then
// wire the subsystems with engine.Build — there are no package-level
// singletons.
type Coordinator struct {
	config Config
	logger *slog.Logger
	store  Storer
	hooks  hookEmitter
	pool   poolRunner

	// started tracks whether Start has been called.
	started bool
	// draining flips once Stop begins; producers must stop enqueueing.
	draining atomic.Bool
}

// New creates a new Coordinator with the given options.
func New(opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the coordinator's logger.
func (c *Coordinator) Logger() *slog.Logger { return c.logger }

// Store returns the coordinator's store.
func (c *Coordinator) Store() Storer { return c.store }

// Config returns a copy of the coordinator's configuration.
func (c *Coordinator) Config() Config { return c.config }

// Draining reports whether shutdown has begun. Once true, enqueue
// operations are rejected with ErrShuttingDown.
func (c *Coordinator) Draining() bool { return c.draining.Load() }

// SetPool sets the worker pool (called by the engine package).
func (c *Coordinator) SetPool(p poolRunner) { c.pool = p }

// SetHooks sets the lifecycle hook emitter (called by the engine package).
func (c *Coordinator) SetHooks(h hookEmitter) { c.hooks = h }

// Start begins job processing.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.pool == nil {
		return ErrNoStore
	}
	if err := c.pool.Start(ctx); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Stop gracefully shuts down: no new jobs are accepted, worker pools
// drain in-flight work within the context deadline, shutdown hooks
// fire, and finally the broker connection is closed. Active jobs that
// outlive the deadline are re-surfaced later by the broker's stall
// detection.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.draining.Store(true)

	if c.pool != nil && c.started {
		if err := c.pool.Stop(ctx); err != nil {
			c.logger.Error("pool stop error", slog.String("error", err.Error()))
		}
	}
	if c.hooks != nil {
		c.hooks.EmitShutdown(ctx)
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithConfig replaces the coordinator's configuration wholesale.
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) error {
		c.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger for the coordinator.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) error {
		c.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the coordinator.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds the job store contract.
func WithStore(s Storer) Option {
	return func(c *Coordinator) error {
		c.store = s
		return nil
	}
}
