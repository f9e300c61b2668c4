package dlq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hirewire/workq"
	"github.com/hirewire/workq/id"
	"github.com/hirewire/workq/job"
)

// ErrNotReplayable is returned when Replay targets a job that is not
// terminally failed.
var ErrNotReplayable = errors.New("workq/dlq: only failed jobs can be replayed")

// Service provides dead-letter operations over a job store.
type Service struct {
	store job.Store
}

// NewService creates a dead-letter service.
func NewService(store job.Store) *Service {
	return &Service{store: store}
}

// List returns terminally failed jobs, optionally filtered by queue.
func (s *Service) List(ctx context.Context, queue string, limit, offset int) ([]*job.Job, error) {
	return s.store.ListJobsByState(ctx, job.StateFailed, job.ListOpts{
		Queue:  queue,
		Limit:  limit,
		Offset: offset,
	})
}

// Count returns the number of terminally failed jobs in a queue.
// An empty queue counts across all queues.
func (s *Service) Count(ctx context.Context, queue string) (int64, error) {
	return s.store.CountJobs(ctx, job.CountOpts{Queue: queue, State: job.StateFailed})
}

// Replay re-enqueues a failed job as a fresh waiting job with a new ID
// and a zeroed attempt counter. The failed record is kept for the audit
// trail; retention eventually evicts it.
func (s *Service) Replay(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	failed, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if failed.State != job.StateFailed {
		return nil, fmt.Errorf("job %s is %s: %w", jobID, failed.State, ErrNotReplayable)
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:      workq.NewEntity(),
		ID:          id.NewJobID(),
		Name:        failed.Name,
		Queue:       failed.Queue,
		Payload:     failed.Payload,
		Priority:    failed.Priority,
		MaxAttempts: failed.MaxAttempts,
		BackoffKind: failed.BackoffKind,
		BackoffBase: failed.BackoffBase,
		Timeout:     failed.Timeout,
		EnqueuedAt:  now,
		RunAt:       now,
	}
	if err := s.store.EnqueueJob(ctx, j); err != nil {
		return nil, fmt.Errorf("workq/dlq: replay job %s: %w", jobID, err)
	}
	return j, nil
}

// Purge deletes failed jobs in a queue and returns how many were removed.
func (s *Service) Purge(ctx context.Context, queue string) (int, error) {
	purged := 0
	for {
		batch, err := s.store.ListJobsByState(ctx, job.StateFailed, job.ListOpts{
			Queue: queue,
			Limit: 100,
		})
		if err != nil {
			return purged, err
		}
		if len(batch) == 0 {
			return purged, nil
		}
		for _, j := range batch {
			if err := s.store.DeleteJob(ctx, j.ID); err != nil {
				return purged, err
			}
			purged++
		}
	}
}
