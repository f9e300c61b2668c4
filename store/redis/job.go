package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hirewire/workq"
	"github.com/hirewire/workq/id"
	"github.com/hirewire/workq/job"
	"github.com/hirewire/workq/sched"
)

// EnqueueJob stores the job as a Hash and adds it to the queue's ready
// Sorted Set, or the delayed set when its RunAt is in the future.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	// Check for duplicate.
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("workq/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return workq.ErrJobAlreadyExists
	}

	cp := *j
	now := time.Now().UTC()
	if cp.RunAt.After(now) {
		cp.State = job.StateDelayed
	} else {
		cp.State = job.StateWaiting
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(&cp))
	pipe.SAdd(ctx, jobIDsKey, jID)

	if cp.State == job.StateDelayed {
		pipe.ZAdd(ctx, delayedKey(cp.Queue), goredis.Z{
			Score:  float64(cp.RunAt.UnixMilli()),
			Member: jID,
		})
	} else {
		pipe.ZAdd(ctx, readyKey(cp.Queue), goredis.Z{
			Score:  sched.Score(cp.Priority, cp.EnqueuedAt),
			Member: jID,
		})
	}

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("workq/redis: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically pops up to limit jobs from the queue's ready set
// (lowest score = lowest priority value, FIFO within a band) and marks
// them active with Attempts incremented.
func (s *Store) DequeueJobs(ctx context.Context, queue string, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := time.Now().UTC()

	members, err := s.client.ZPopMin(ctx, readyKey(queue), int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("workq/redis: dequeue zpopmin: %w", err)
	}

	jobs := make([]*job.Job, 0, len(members))
	for _, z := range members {
		jID, ok := z.Member.(string)
		if !ok {
			continue
		}

		key := jobKey(jID)
		ts := now.Format(time.RFC3339Nano)

		pipe := s.client.TxPipeline()
		pipe.HIncrBy(ctx, key, "attempts", 1)
		pipe.HSet(ctx, key,
			"state", string(job.StateActive),
			"started_at", ts,
			"heartbeat_at", ts,
			"updated_at", ts,
		)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return nil, fmt.Errorf("workq/redis: dequeue update: %w", pErr)
		}

		j, getErr := s.getJobByKey(ctx, key)
		if getErr != nil {
			return nil, getErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// UpdateJob persists changes to an existing job and repositions it in the
// queue's ready/delayed/finished ordering to match its state.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("workq/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return workq.ErrJobNotFound
	}

	fields := jobToMap(j)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)

	// Membership follows state.
	pipe.ZRem(ctx, readyKey(j.Queue), jID)
	pipe.ZRem(ctx, delayedKey(j.Queue), jID)
	switch j.State {
	case job.StateWaiting:
		pipe.ZAdd(ctx, readyKey(j.Queue), goredis.Z{
			Score:  sched.Score(j.Priority, j.EnqueuedAt),
			Member: jID,
		})
	case job.StateDelayed:
		pipe.ZAdd(ctx, delayedKey(j.Queue), goredis.Z{
			Score:  float64(j.RunAt.UnixMilli()),
			Member: jID,
		})
	case job.StateCompleted, job.StateFailed:
		at := time.Now().UTC()
		if j.FinishedAt != nil {
			at = *j.FinishedAt
		}
		pipe.ZAdd(ctx, finishedKey(j.Queue, string(j.State)), goredis.Z{
			Score:  float64(at.UnixMilli()),
			Member: jID,
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("workq/redis: update job: %w", err)
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	// Get queue name before deleting to remove from sorted sets.
	q, err := s.client.HGet(ctx, key, "queue").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return workq.ErrJobNotFound
		}
		return fmt.Errorf("workq/redis: delete job get queue: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, jobIDsKey, jID)
	pipe.ZRem(ctx, readyKey(q), jID)
	pipe.ZRem(ctx, delayedKey(q), jID)
	pipe.ZRem(ctx, finishedKey(q, string(job.StateCompleted)), jID)
	pipe.ZRem(ctx, finishedKey(q, string(job.StateFailed)), jID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("workq/redis: delete job: %w", err)
	}
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("workq/redis: list jobs smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		jobs = append(jobs, j)
	}

	// Apply offset/limit.
	if opts.Offset > 0 && opts.Offset < len(jobs) {
		jobs = jobs[opts.Offset:]
	} else if opts.Offset >= len(jobs) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("workq/redis: count smembers: %w", err)
	}

	var count int64
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		count++
	}
	return count, nil
}

// HeartbeatJob updates the heartbeat timestamp for an active job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	key := jobKey(jobID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("workq/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return workq.ErrJobNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.client.HSet(ctx, key,
		"heartbeat_at", now,
		"worker_id", workerID.String(),
		"updated_at", now,
	).Result()
	if err != nil {
		return fmt.Errorf("workq/redis: heartbeat job: %w", err)
	}
	return nil
}

// ReapStalledJobs returns active jobs whose last heartbeat is older than
// the threshold.
func (s *Store) ReapStalledJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("workq/redis: reap smembers: %w", err)
	}

	var stalled []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if j.State != job.StateActive {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			stalled = append(stalled, j)
		}
	}
	return stalled, nil
}

// PromoteDelayedJobs moves delayed jobs whose RunAt has arrived from the
// queue's delayed set to its ready set, marking them waiting.
func (s *Store) PromoteDelayedJobs(ctx context.Context, queue string, now time.Time) (int, error) {
	due, err := s.client.ZRangeByScore(ctx, delayedKey(queue), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("workq/redis: promote zrangebyscore: %w", err)
	}

	promoted := 0
	for _, jID := range due {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			// Orphaned member; drop it so it does not block the set.
			s.client.ZRem(ctx, delayedKey(queue), jID)
			continue
		}

		ts := time.Now().UTC().Format(time.RFC3339Nano)
		pipe := s.client.TxPipeline()
		pipe.ZRem(ctx, delayedKey(queue), jID)
		pipe.ZAdd(ctx, readyKey(queue), goredis.Z{
			Score:  sched.Score(j.Priority, j.EnqueuedAt),
			Member: jID,
		})
		pipe.HSet(ctx, jobKey(jID),
			"state", string(job.StateWaiting),
			"updated_at", ts,
		)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return promoted, fmt.Errorf("workq/redis: promote job: %w", pErr)
		}
		promoted++
	}
	return promoted, nil
}

// TrimFinished evicts the oldest terminal records of the given state in a
// queue beyond keep.
func (s *Store) TrimFinished(ctx context.Context, queue string, state job.State, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	fk := finishedKey(queue, string(state))

	total, err := s.client.ZCard(ctx, fk).Result()
	if err != nil {
		return 0, fmt.Errorf("workq/redis: trim zcard: %w", err)
	}
	excess := int(total) - keep
	if excess <= 0 {
		return 0, nil
	}

	// Oldest first: lowest FinishedAt scores.
	evict, err := s.client.ZPopMin(ctx, fk, int64(excess)).Result()
	if err != nil {
		return 0, fmt.Errorf("workq/redis: trim zpopmin: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, z := range evict {
		jID, ok := z.Member.(string)
		if !ok {
			continue
		}
		pipe.Del(ctx, jobKey(jID))
		pipe.SRem(ctx, jobIDsKey, jID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("workq/redis: trim delete: %w", err)
	}
	return len(evict), nil
}

// ── helpers ──

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":             j.ID.String(),
		"name":           j.Name,
		"queue":          j.Queue,
		"payload":        string(j.Payload),
		"state":          string(j.State),
		"priority":       strconv.Itoa(j.Priority),
		"attempts":       strconv.Itoa(j.Attempts),
		"max_attempts":   strconv.Itoa(j.MaxAttempts),
		"backoff_kind":   string(j.BackoffKind),
		"backoff_base":   strconv.FormatInt(int64(j.BackoffBase), 10),
		"failure_reason": j.FailureReason,
		"result":         string(j.Result),
		"stalled_count":  strconv.Itoa(j.StalledCount),
		"worker_id":      j.WorkerID.String(),
		"enqueued_at":    j.EnqueuedAt.Format(time.RFC3339Nano),
		"run_at":         j.RunAt.Format(time.RFC3339Nano),
		"timeout":        strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":     j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":     j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.FinishedAt != nil {
		m["finished_at"] = j.FinishedAt.Format(time.RFC3339Nano)
	}
	if j.HeartbeatAt != nil {
		m["heartbeat_at"] = j.HeartbeatAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("workq/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, workq.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("workq/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])                     //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts"])                     //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])              //nolint:errcheck // best-effort parse from trusted Redis data
	stalledCount, _ := strconv.Atoi(m["stalled_count"])            //nolint:errcheck // best-effort parse from trusted Redis data
	backoffBase, _ := strconv.ParseInt(m["backoff_base"], 10, 64)  //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64)           //nolint:errcheck // best-effort parse from trusted Redis data

	enqueuedAt, _ := time.Parse(time.RFC3339Nano, m["enqueued_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	runAt, _ := time.Parse(time.RFC3339Nano, m["run_at"])           //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])   //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: workq.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:            jID,
		Name:          m["name"],
		Queue:         m["queue"],
		Payload:       []byte(m["payload"]),
		State:         job.State(m["state"]),
		Priority:      priority,
		Attempts:      attempts,
		MaxAttempts:   maxAttempts,
		BackoffKind:   job.BackoffKind(m["backoff_kind"]),
		BackoffBase:   time.Duration(backoffBase),
		FailureReason: m["failure_reason"],
		Result:        []byte(m["result"]),
		StalledCount:  stalledCount,
		EnqueuedAt:    enqueuedAt,
		RunAt:         runAt,
		Timeout:       time.Duration(timeout),
	}
	if len(j.Result) == 0 {
		j.Result = nil
	}

	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["finished_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.FinishedAt = &t
	}
	if v := m["heartbeat_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.HeartbeatAt = &t
	}

	return j, nil
}
