package job

import (
	"time"

	"github.com/hirewire/workq"
	"github.com/hirewire/workq/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateWaiting means the job is ready and waiting for a worker slot.
	StateWaiting State = "waiting"
	// StateActive means a worker is currently executing the job.
	StateActive State = "active"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job failed terminally and will not be retried.
	StateFailed State = "failed"
	// StateDelayed means the job is parked until RunAt, either because it
	// was enqueued with a delay or because a failed attempt is backing off.
	StateDelayed State = "delayed"
)

// States lists every job state, in lifecycle order. Useful for building
// per-state counts.
var States = []State{StateWaiting, StateActive, StateCompleted, StateFailed, StateDelayed}

// BackoffKind selects the retry delay strategy recorded on a job.
type BackoffKind string

const (
	// BackoffFixed waits a constant BackoffBase between attempts.
	BackoffFixed BackoffKind = "fixed"
	// BackoffExponential waits BackoffBase * 2^(attempts-1).
	BackoffExponential BackoffKind = "exponential"
)

// Job represents a unit of deferred work. It is immutable at creation:
// after enqueue only the worker pool (state, attempts, timestamps,
// result) and the retry path (delayed scheduling) mutate it.
type Job struct {
	workq.Entity

	ID      id.JobID `json:"id"`
	Name    string   `json:"name"`
	Queue   string   `json:"queue"`
	Payload []byte   `json:"payload"`
	State   State    `json:"state"`

	// Priority orders dispatch within a queue. Lower values are
	// serviced first; ties break FIFO by EnqueuedAt.
	Priority int `json:"priority"`

	// Attempts counts execution attempts made so far; it is
	// incremented when the broker hands the job to a worker and never
	// exceeds MaxAttempts.
	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"max_attempts"`

	BackoffKind BackoffKind   `json:"backoff_kind"`
	BackoffBase time.Duration `json:"backoff_base"`

	// FailureReason is the human-readable cause once failed.
	FailureReason string `json:"failure_reason,omitempty"`
	// Result is the opaque success payload once completed.
	Result []byte `json:"result,omitempty"`

	// StalledCount tracks how many times the stall reaper requeued
	// this job.
	StalledCount int `json:"stalled_count"`

	WorkerID id.WorkerID `json:"worker_id,omitempty"`

	EnqueuedAt  time.Time  `json:"enqueued_at"`
	RunAt       time.Time  `json:"run_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`

	// Timeout is the per-execution deadline. Zero means unlimited.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.State == StateCompleted || j.State == StateFailed
}

// AttemptsLeft returns the remaining retry budget.
func (j *Job) AttemptsLeft() int {
	if left := j.MaxAttempts - j.Attempts; left > 0 {
		return left
	}
	return 0
}
