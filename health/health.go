// Package health aggregates per-queue depth statistics, wait estimates,
// and broker reachability into a single health surface.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/hirewire/workq/job"
	"github.com/hirewire/workq/queue"
)

const (
	// maxEstimate caps the advertised wait so one bad average cannot
	// make the whole service look down.
	maxEstimate = 5 * time.Minute

	// defaultAvg is the assumed processing time before any job in a
	// queue has completed.
	defaultAvg = time.Minute

	// sampleWindow bounds the rolling average to recent completions.
	sampleWindow = 64
)

// Status is the overall broker health verdict.
type Status string

const (
	// StatusHealthy means stats and broker ping both succeed.
	StatusHealthy Status = "healthy"
	// StatusDegraded means stats succeed but the broker ping fails.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy means queue stats cannot be read at all.
	StatusUnhealthy Status = "unhealthy"
)

// QueueStats is the per-queue snapshot exposed to operators.
type QueueStats struct {
	Queue         string        `json:"queue"`
	Waiting       int64         `json:"waiting"`
	Active        int64         `json:"active"`
	Completed     int64         `json:"completed"`
	Failed        int64         `json:"failed"`
	Delayed       int64         `json:"delayed"`
	EstimatedWait time.Duration `json:"estimated_wait"`
}

// Report is the full health check result.
type Report struct {
	Status Status       `json:"status"`
	Queues []QueueStats `json:"queues,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// Pinger checks broker connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Aggregator builds queue statistics and wait estimates. It also acts
// as a lifecycle hook: register it with the hook registry so completed
// jobs feed the per-queue rolling processing-time average.
type Aggregator struct {
	store  job.Store
	pinger Pinger
	queues *queue.Manager

	mu      sync.RWMutex
	samples map[string][]time.Duration
}

// NewAggregator creates an Aggregator over the given store and queues.
func NewAggregator(store job.Store, pinger Pinger, queues *queue.Manager) *Aggregator {
	return &Aggregator{
		store:   store,
		pinger:  pinger,
		queues:  queues,
		samples: make(map[string][]time.Duration),
	}
}

// Name identifies the aggregator in the hook registry.
func (a *Aggregator) Name() string { return "health-aggregator" }

// OnJobCompleted records the job's processing time in the queue's
// rolling average.
func (a *Aggregator) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	if elapsed <= 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	s := append(a.samples[j.Queue], elapsed)
	if len(s) > sampleWindow {
		s = s[len(s)-sampleWindow:]
	}
	a.samples[j.Queue] = s
	return nil
}

// avgProcessingTime returns the rolling average for a queue, or the
// default when no completions have been observed yet.
func (a *Aggregator) avgProcessingTime(queueName string) time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := a.samples[queueName]
	if len(s) == 0 {
		return defaultAvg
	}
	var total time.Duration
	for _, d := range s {
		total += d
	}
	return total / time.Duration(len(s))
}

// QueueStats builds the snapshot for a single queue.
func (a *Aggregator) QueueStats(ctx context.Context, queueName string) (QueueStats, error) {
	stats := QueueStats{Queue: queueName}

	counts := map[job.State]*int64{
		job.StateWaiting:   &stats.Waiting,
		job.StateActive:    &stats.Active,
		job.StateCompleted: &stats.Completed,
		job.StateFailed:    &stats.Failed,
		job.StateDelayed:   &stats.Delayed,
	}
	for _, state := range job.States {
		n, err := a.store.CountJobs(ctx, job.CountOpts{Queue: queueName, State: state})
		if err != nil {
			return QueueStats{}, err
		}
		*counts[state] = n
	}

	stats.EstimatedWait = a.estimateWait(queueName, stats.Waiting, stats.Active)
	return stats, nil
}

// Stats builds snapshots for every registered queue.
func (a *Aggregator) Stats(ctx context.Context) ([]QueueStats, error) {
	names := a.queues.Names()
	out := make([]QueueStats, 0, len(names))
	for _, name := range names {
		s, err := a.QueueStats(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// EstimateWait returns the advertised wait for new work on a queue.
func (a *Aggregator) EstimateWait(ctx context.Context, queueName string) (time.Duration, error) {
	waiting, err := a.store.CountJobs(ctx, job.CountOpts{Queue: queueName, State: job.StateWaiting})
	if err != nil {
		return 0, err
	}
	active, err := a.store.CountJobs(ctx, job.CountOpts{Queue: queueName, State: job.StateActive})
	if err != nil {
		return 0, err
	}
	return a.estimateWait(queueName, waiting, active), nil
}

// estimateWait models the queue as draining in waves of its concurrency:
// ceil(backlog / concurrency) waves, each lasting one average processing
// time, capped at maxEstimate.
func (a *Aggregator) estimateWait(queueName string, waiting, active int64) time.Duration {
	backlog := waiting + active
	if backlog == 0 {
		return 0
	}

	slots := 1
	if cfg, ok := a.queues.Get(queueName); ok && cfg.Concurrency > 0 {
		slots = cfg.Concurrency
	}

	waves := (backlog + int64(slots) - 1) / int64(slots)
	est := time.Duration(waves) * a.avgProcessingTime(queueName)
	if est > maxEstimate {
		return maxEstimate
	}
	return est
}

// Check reports overall broker health. Stats failure is unhealthy; a
// failed ping with readable stats is degraded.
func (a *Aggregator) Check(ctx context.Context) Report {
	stats, err := a.Stats(ctx)
	if err != nil {
		return Report{Status: StatusUnhealthy, Error: err.Error()}
	}

	if a.pinger != nil {
		if pingErr := a.pinger.Ping(ctx); pingErr != nil {
			return Report{Status: StatusDegraded, Queues: stats, Error: pingErr.Error()}
		}
	}

	return Report{Status: StatusHealthy, Queues: stats}
}
