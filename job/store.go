package job

import (
	"context"
	"time"

	"github.com/hirewire/workq/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the broker persistence contract for jobs. All mutation
// of a job record flows through these operations, which each backend
// must make atomic; no additional locking is required by callers.
type Store interface {
	// EnqueueJob durably records a new job. It returns only after the
	// job is persisted, in waiting state (or delayed if RunAt is in
	// the future).
	EnqueueJob(ctx context.Context, j *Job) error

	// DequeueJobs atomically claims up to limit due waiting jobs from
	// the named queue: each claimed job is set to active with Attempts
	// incremented and StartedAt/HeartbeatAt recorded. Jobs are ordered
	// by priority (ascending) then EnqueuedAt (ascending).
	DequeueJobs(ctx context.Context, queue string, limit int) ([]*Job, error)

	// GetJob retrieves a job by ID. Returns workq.ErrJobNotFound when
	// the id is unknown or the record was evicted by retention.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job, repositioning it
	// in the queue's ready/delayed ordering to match its state.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobsByState returns jobs matching the given state.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// HeartbeatJob updates the heartbeat timestamp for an active job,
	// indicating the worker is still alive.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// ReapStalledJobs returns active jobs whose last heartbeat is older
	// than the given threshold, indicating the worker may have crashed.
	ReapStalledJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)

	// PromoteDelayedJobs re-surfaces delayed jobs in the named queue
	// whose RunAt is at or before now, marking them waiting. It returns
	// the number of jobs promoted.
	PromoteDelayedJobs(ctx context.Context, queue string, now time.Time) (int, error)

	// TrimFinished evicts the oldest terminal records of the given
	// state in a queue beyond keep, enforcing the bounded retention
	// ring. It returns the number of records evicted.
	TrimFinished(ctx context.Context, queue string, state State, keep int) (int, error)
}
