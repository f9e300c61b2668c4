package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hirewire/workq"
	"github.com/hirewire/workq/id"
	"github.com/hirewire/workq/job"
)

// jobColumns is the canonical column list shared by every job query.
const jobColumns = `
	id, name, queue, payload, state, priority, attempts, max_attempts,
	backoff_kind, backoff_base, failure_reason, result, stalled_count,
	worker_id, enqueued_at, run_at, started_at, finished_at, heartbeat_at,
	timeout, created_at, updated_at`

// EnqueueJob persists a new job. The job lands in waiting state, or
// delayed when its RunAt is in the future.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	state := job.StateWaiting
	if j.RunAt.After(time.Now().UTC()) {
		state = job.StateDelayed
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO workq_jobs (
			id, name, queue, payload, state, priority, attempts, max_attempts,
			backoff_kind, backoff_base, failure_reason, result, stalled_count,
			worker_id, enqueued_at, run_at, started_at, finished_at, heartbeat_at,
			timeout, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19,
			$20, $21, $22
		)`,
		j.ID.String(), j.Name, j.Queue, j.Payload, string(state),
		j.Priority, j.Attempts, j.MaxAttempts,
		string(j.BackoffKind), j.BackoffBase.Nanoseconds(),
		j.FailureReason, j.Result, j.StalledCount,
		j.WorkerID.String(), j.EnqueuedAt, j.RunAt,
		j.StartedAt, j.FinishedAt, j.HeartbeatAt,
		j.Timeout.Nanoseconds(), j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		// Check for unique violation (duplicate ID).
		if isDuplicateKey(err) {
			return workq.ErrJobAlreadyExists
		}
		return fmt.Errorf("workq/postgres: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit due waiting jobs from the
// queue, sets them to active with Attempts incremented, and returns them.
// Uses SELECT FOR UPDATE SKIP LOCKED for concurrent-safe dequeue.
func (s *Store) DequeueJobs(ctx context.Context, queue string, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		WITH dequeued AS (
			UPDATE workq_jobs
			SET state = 'active', attempts = attempts + 1,
			    started_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM workq_jobs
				WHERE state = 'waiting'
				  AND queue = $1
				  AND run_at <= NOW()
				ORDER BY priority ASC, enqueued_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM dequeued ORDER BY priority ASC, enqueued_at ASC`,
		queue, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("workq/postgres: dequeue jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM workq_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, workq.ErrJobNotFound
		}
		return nil, fmt.Errorf("workq/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workq_jobs SET
			name = $2, queue = $3, payload = $4, state = $5,
			priority = $6, attempts = $7, max_attempts = $8,
			backoff_kind = $9, backoff_base = $10,
			failure_reason = $11, result = $12, stalled_count = $13,
			worker_id = $14, enqueued_at = $15, run_at = $16,
			started_at = $17, finished_at = $18, heartbeat_at = $19,
			timeout = $20, updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.Name, j.Queue, j.Payload, string(j.State),
		j.Priority, j.Attempts, j.MaxAttempts,
		string(j.BackoffKind), j.BackoffBase.Nanoseconds(),
		j.FailureReason, j.Result, j.StalledCount,
		j.WorkerID.String(), j.EnqueuedAt, j.RunAt,
		j.StartedAt, j.FinishedAt, j.HeartbeatAt,
		j.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("workq/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return workq.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workq_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("workq/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return workq.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM workq_jobs WHERE state = $1`
	args := []interface{}{string(state)}
	argIdx := 2

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("workq/postgres: list jobs by state: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM workq_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("workq/postgres: count jobs: %w", err)
	}
	return count, nil
}

// HeartbeatJob updates the heartbeat timestamp for an active job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE workq_jobs SET heartbeat_at = NOW(), worker_id = $2, updated_at = NOW() WHERE id = $1`,
		jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("workq/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return workq.ErrJobNotFound
	}
	return nil
}

// ReapStalledJobs returns active jobs whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStalledJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM workq_jobs
		WHERE state = 'active'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < NOW() - $1::interval`,
		threshold.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("workq/postgres: reap stalled jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// PromoteDelayedJobs re-surfaces delayed jobs in the queue whose RunAt
// has arrived, marking them waiting.
func (s *Store) PromoteDelayedJobs(ctx context.Context, queue string, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workq_jobs
		SET state = 'waiting', updated_at = NOW()
		WHERE queue = $1
		  AND state = 'delayed'
		  AND run_at <= $2`,
		queue, now,
	)
	if err != nil {
		return 0, fmt.Errorf("workq/postgres: promote delayed jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// TrimFinished evicts the oldest terminal records of the given state in a
// queue beyond keep.
func (s *Store) TrimFinished(ctx context.Context, queue string, state job.State, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM workq_jobs
		WHERE id IN (
			SELECT id FROM workq_jobs
			WHERE queue = $1 AND state = $2
			ORDER BY finished_at DESC NULLS LAST
			OFFSET $3
		)`,
		queue, string(state), keep,
	)
	if err != nil {
		return 0, fmt.Errorf("workq/postgres: trim finished: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j             job.Job
		idStr         string
		stateStr      string
		backoffKind   string
		backoffBaseNs int64
		workerStr     string
		timeoutNs     int64
	)
	err := row.Scan(
		&idStr, &j.Name, &j.Queue, &j.Payload, &stateStr,
		&j.Priority, &j.Attempts, &j.MaxAttempts,
		&backoffKind, &backoffBaseNs,
		&j.FailureReason, &j.Result, &j.StalledCount,
		&workerStr, &j.EnqueuedAt, &j.RunAt,
		&j.StartedAt, &j.FinishedAt, &j.HeartbeatAt,
		&timeoutNs, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.BackoffKind = job.BackoffKind(backoffKind)
	j.BackoffBase = time.Duration(backoffBaseNs)
	j.Timeout = time.Duration(timeoutNs)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("workq/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(workerStr)
		if workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("workq/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workq/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
