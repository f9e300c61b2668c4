package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hirewire/workq"
	"github.com/hirewire/workq/id"
	"github.com/hirewire/workq/job"
	"github.com/hirewire/workq/sched"
)

// Ensure Store implements the job persistence contract at compile time.
// We can't import store here (import cycle with tests), so we verify the
// embedded interface directly.
var _ job.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	jobs map[string]*job.Job
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs: make(map[string]*job.Job),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job. The job lands in waiting state, or
// delayed when its RunAt is in the future.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return workq.ErrJobAlreadyExists
	}

	cp := *j
	if cp.RunAt.After(time.Now().UTC()) {
		cp.State = job.StateDelayed
	} else {
		cp.State = job.StateWaiting
	}
	m.jobs[key] = &cp
	return nil
}

// DequeueJobs atomically claims up to limit due waiting jobs from the
// given queue, sets them to active with Attempts incremented, and
// returns them ordered by priority then enqueue time.
func (m *Store) DequeueJobs(_ context.Context, queue string, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	// Collect candidates.
	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != job.StateWaiting {
			continue
		}
		if j.Queue != queue {
			continue
		}
		if !j.RunAt.IsZero() && j.RunAt.After(now) {
			continue
		}
		candidates = append(candidates, j)
	}

	// Sort: priority ASC, EnqueuedAt ASC.
	sort.Slice(candidates, func(i, k int) bool {
		return sched.Less(candidates[i], candidates[k])
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		j.State = job.StateActive
		j.Attempts++
		n := now
		j.StartedAt = &n
		hb := now
		j.HeartbeatAt = &hb
		j.Touch()
		// Return a copy so callers can mutate without racing with the store.
		cp := *j
		result[i] = &cp
	}

	return result, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, workq.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return workq.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return workq.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	// Apply offset / limit.
	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// HeartbeatJob updates the heartbeat timestamp for an active job.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, _ id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return workq.ErrJobNotFound
	}
	now := time.Now().UTC()
	j.HeartbeatAt = &now
	return nil
}

// ReapStalledJobs returns active jobs whose last heartbeat is older than
// the given threshold.
func (m *Store) ReapStalledJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var stalled []*job.Job
	for _, j := range m.jobs {
		if j.State != job.StateActive {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			cp := *j
			stalled = append(stalled, &cp)
		}
	}
	return stalled, nil
}

// PromoteDelayedJobs re-surfaces delayed jobs in the given queue whose
// RunAt has arrived, marking them waiting.
func (m *Store) PromoteDelayedJobs(_ context.Context, queue string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	promoted := 0
	for _, j := range m.jobs {
		if j.State != job.StateDelayed {
			continue
		}
		if j.Queue != queue {
			continue
		}
		if j.RunAt.After(now) {
			continue
		}
		j.State = job.StateWaiting
		j.Touch()
		promoted++
	}
	return promoted, nil
}

// TrimFinished evicts the oldest terminal records of the given state in
// a queue beyond keep.
func (m *Store) TrimFinished(_ context.Context, queue string, state job.State, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var finished []*job.Job
	for _, j := range m.jobs {
		if j.State != state || j.Queue != queue {
			continue
		}
		finished = append(finished, j)
	}
	if len(finished) <= keep {
		return 0, nil
	}

	// Oldest first by finish time, falling back to enqueue time for
	// records missing FinishedAt.
	sort.Slice(finished, func(i, k int) bool {
		ti, tk := finished[i].EnqueuedAt, finished[k].EnqueuedAt
		if finished[i].FinishedAt != nil {
			ti = *finished[i].FinishedAt
		}
		if finished[k].FinishedAt != nil {
			tk = *finished[k].FinishedAt
		}
		return ti.Before(tk)
	})

	evict := finished[:len(finished)-keep]
	for _, j := range evict {
		delete(m.jobs, j.ID.String())
	}
	return len(evict), nil
}
