package job

import "time"

// Options configures per-job behavior such as retry budget, queue,
// priority, and submission delay.
type Options struct {
	// Queue is the workload class this job belongs to.
	Queue string

	// Priority orders dispatch within the queue; lower is serviced first.
	Priority int

	// MaxAttempts is the ceiling on execution attempts before the job
	// is marked terminally failed.
	MaxAttempts int

	// BackoffKind and BackoffBase parameterize the retry delay policy.
	BackoffKind BackoffKind
	BackoffBase time.Duration

	// Delay defers the first execution; the job is enqueued as delayed
	// and promoted to waiting once the delay elapses.
	Delay time.Duration

	// Timeout is the maximum duration one execution attempt may run.
	Timeout time.Duration
}

// DefaultOptions returns Options with sensible defaults. The engine
// overlays its configured defaults on top before applying caller options.
func DefaultOptions() Options {
	return Options{
		Queue:       "default",
		Priority:    0,
		MaxAttempts: 3,
		BackoffKind: BackoffExponential,
		BackoffBase: time.Second,
		Timeout:     5 * time.Minute,
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithQueue sets the queue (workload class) for the job.
func WithQueue(q string) Option {
	return func(o *Options) {
		o.Queue = q
	}
}

// WithPriority sets the job priority. Lower values are serviced first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithMaxAttempts sets the ceiling on execution attempts.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithBackoff sets the retry delay policy recorded on the job.
func WithBackoff(kind BackoffKind, base time.Duration) Option {
	return func(o *Options) {
		o.BackoffKind = kind
		o.BackoffBase = base
	}
}

// WithDelay defers the first execution by d.
func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.Delay = d
	}
}

// WithTimeout sets the maximum duration for one execution attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}
