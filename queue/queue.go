// Package queue defines per-queue configuration — concurrency bound,
// optional rate limit, and retention counts — plus the Manager that
// enforces the active-job bound at dispatch time.
package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines one workload-class queue.
type Config struct {
	// Name is the queue identifier (must match the job.Queue field).
	Name string

	// Concurrency is the maximum number of simultaneously active jobs
	// from this queue. The worker pool dedicates exactly this many
	// execution slots to the queue.
	Concurrency int

	// RateLimit is the maximum sustained jobs per second that may be
	// dispatched from this queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int

	// KeepCompleted / KeepFailed bound how many terminal records are
	// retained for inspection; older records are evicted.
	KeepCompleted int
	KeepFailed    int
}

// queueState tracks runtime state for a single queue.
type queueState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager holds the configured queues and enforces per-queue dispatch
// constraints. It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queueState
}

// NewManager creates a Manager with the given queue configurations.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues: make(map[string]*queueState, len(configs)),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newQueueState(cfg)
	}
	return m
}

func newQueueState(cfg Config) *queueState {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	qs := &queueState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		qs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return qs
}

// Acquire checks the rate limit and concurrency bound for the given
// queue. If a job is allowed to proceed it increments the active
// counter and returns true. The caller MUST call Release when the job
// completes. Unknown queues are refused.
func (m *Manager) Acquire(queue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs == nil {
		return false
	}
	if qs.limiter != nil && !qs.limiter.Allow() {
		return false
	}
	if qs.active >= qs.config.Concurrency {
		return false
	}

	qs.active++
	return true
}

// Release decrements the active job count for the queue.
func (m *Manager) Release(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
}

// ActiveCount returns the current number of active jobs for a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}

// Get returns the configuration for a queue.
func (m *Manager) Get(queue string) (Config, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.config, true
	}
	return Config{}, false
}

// SetConfig dynamically updates (or creates) a queue configuration.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.queues[cfg.Name]
	qs := newQueueState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		qs.active = existing.active
	}
	m.queues[cfg.Name] = qs
}

// Names returns the configured queue names.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	return names
}
