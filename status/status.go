// Package status exposes read-only job status lookups for producers and
// operators. It projects the broker's job records into a stable view
// shape suitable for API responses.
package status

import (
	"context"
	"time"

	"github.com/hirewire/workq/id"
	"github.com/hirewire/workq/job"
)

// View is the externally visible projection of a job record.
type View struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Queue         string     `json:"queue"`
	State         job.State  `json:"state"`
	Priority      int        `json:"priority"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"max_attempts"`
	FailureReason string     `json:"failure_reason,omitempty"`
	Result        []byte     `json:"result,omitempty"`
	EnqueuedAt    time.Time  `json:"enqueued_at"`
	RunAt         *time.Time `json:"run_at,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// Tracker answers job status queries against the broker store.
type Tracker struct {
	store job.Store
}

// NewTracker creates a Tracker backed by the given store.
func NewTracker(store job.Store) *Tracker {
	return &Tracker{store: store}
}

// Get returns the status view for a job. Records evicted by retention
// surface as workq.ErrJobNotFound, same as ids never seen.
func (t *Tracker) Get(ctx context.Context, jobID id.JobID) (*View, error) {
	j, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return project(j), nil
}

// List returns status views for jobs in the given state.
func (t *Tracker) List(ctx context.Context, state job.State, opts job.ListOpts) ([]*View, error) {
	jobs, err := t.store.ListJobsByState(ctx, state, opts)
	if err != nil {
		return nil, err
	}
	views := make([]*View, len(jobs))
	for i, j := range jobs {
		views[i] = project(j)
	}
	return views, nil
}

// Counts returns the number of jobs per state for a queue. An empty
// queue name counts across all queues.
func (t *Tracker) Counts(ctx context.Context, queue string) (map[job.State]int64, error) {
	out := make(map[job.State]int64, len(job.States))
	for _, state := range job.States {
		n, err := t.store.CountJobs(ctx, job.CountOpts{Queue: queue, State: state})
		if err != nil {
			return nil, err
		}
		out[state] = n
	}
	return out, nil
}

func project(j *job.Job) *View {
	v := &View{
		ID:            j.ID.String(),
		Name:          j.Name,
		Queue:         j.Queue,
		State:         j.State,
		Priority:      j.Priority,
		Attempts:      j.Attempts,
		MaxAttempts:   j.MaxAttempts,
		FailureReason: j.FailureReason,
		Result:        j.Result,
		EnqueuedAt:    j.EnqueuedAt,
		StartedAt:     j.StartedAt,
		FinishedAt:    j.FinishedAt,
	}
	// RunAt only means something while the job is parked.
	if j.State == job.StateDelayed && !j.RunAt.IsZero() {
		runAt := j.RunAt
		v.RunAt = &runAt
	}
	return v
}
