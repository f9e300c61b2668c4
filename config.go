package workq

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration for the Coordinator and the subsystems
// built on top of it.
type Config struct {
	// BrokerAddr is the Redis broker address (host:port).
	BrokerAddr string

	// BrokerPassword authenticates against the broker, if required.
	BrokerPassword string

	// BrokerDB selects the Redis logical database.
	BrokerDB int

	// PostgresURL is the connection string for the Postgres backend.
	// Only consulted when the Postgres store is selected.
	PostgresURL string

	// Concurrency maps queue names to their maximum number of
	// simultaneously active jobs. Concurrency is bounded per queue,
	// never globally.
	Concurrency map[string]int

	// DefaultMaxAttempts caps execution attempts for jobs that don't
	// set their own ceiling.
	DefaultMaxAttempts int

	// DefaultBackoffKind is "fixed" or "exponential".
	DefaultBackoffKind string

	// DefaultBackoffBase is the base delay fed to the backoff policy.
	DefaultBackoffBase time.Duration

	// PollInterval is how often idle worker slots poll for new jobs.
	PollInterval time.Duration

	// PromoteInterval is how often due delayed jobs are re-surfaced
	// as waiting.
	PromoteInterval time.Duration

	// HeartbeatInterval is how often active jobs report liveness.
	HeartbeatInterval time.Duration

	// StallThreshold is how long an active job may go without a
	// heartbeat before the reaper requeues it.
	StallThreshold time.Duration

	// MaxStalledCount bounds how many times a job may be requeued by
	// the stall reaper before it is abandoned as failed.
	MaxStalledCount int

	// KeepCompleted / KeepFailed bound how many terminal records are
	// retained per queue for inspection.
	KeepCompleted int
	KeepFailed    int

	// ShutdownTimeout is the maximum time to wait for in-flight jobs
	// during graceful shutdown.
	ShutdownTimeout time.Duration

	// ListenAddr is the bind address for the HTTP API.
	ListenAddr string

	// APIKey guards the HTTP API. Empty disables the check.
	APIKey string
}

// DefaultConfig returns a Config with sensible defaults for the three
// platform workload classes.
func DefaultConfig() Config {
	return Config{
		BrokerAddr: "localhost:6379",
		Concurrency: map[string]int{
			"video":    2,
			"document": 4,
			"ai":       4,
		},
		DefaultMaxAttempts: 3,
		DefaultBackoffKind: "exponential",
		DefaultBackoffBase: time.Second,
		PollInterval:       time.Second,
		PromoteInterval:    time.Second,
		HeartbeatInterval:  10 * time.Second,
		StallThreshold:     30 * time.Second,
		MaxStalledCount:    1,
		KeepCompleted:      100,
		KeepFailed:         500,
		ShutdownTimeout:    30 * time.Second,
		ListenAddr:         ":8080",
	}
}

// ConfigFromEnv builds a Config from environment variables, falling
// back to DefaultConfig for anything unset. Per-queue concurrency is
// read from WORKQ_QUEUES in the form "video:2,document:4,ai:4".
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	cfg.BrokerAddr = getEnv("WORKQ_BROKER_ADDR", cfg.BrokerAddr)
	cfg.BrokerPassword = getEnv("WORKQ_BROKER_PASSWORD", cfg.BrokerPassword)
	cfg.BrokerDB = getEnvInt("WORKQ_BROKER_DB", cfg.BrokerDB)
	cfg.PostgresURL = getEnv("WORKQ_POSTGRES_URL", cfg.PostgresURL)

	if qs := os.Getenv("WORKQ_QUEUES"); qs != "" {
		cfg.Concurrency = parseQueueSpec(qs)
	}

	cfg.DefaultMaxAttempts = getEnvInt("WORKQ_MAX_ATTEMPTS", cfg.DefaultMaxAttempts)
	cfg.DefaultBackoffKind = getEnv("WORKQ_BACKOFF_KIND", cfg.DefaultBackoffKind)
	cfg.DefaultBackoffBase = getEnvDuration("WORKQ_BACKOFF_BASE", cfg.DefaultBackoffBase)
	cfg.PollInterval = getEnvDuration("WORKQ_POLL_INTERVAL", cfg.PollInterval)
	cfg.PromoteInterval = getEnvDuration("WORKQ_PROMOTE_INTERVAL", cfg.PromoteInterval)
	cfg.HeartbeatInterval = getEnvDuration("WORKQ_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	cfg.StallThreshold = getEnvDuration("WORKQ_STALL_THRESHOLD", cfg.StallThreshold)
	cfg.MaxStalledCount = getEnvInt("WORKQ_MAX_STALLED", cfg.MaxStalledCount)
	cfg.KeepCompleted = getEnvInt("WORKQ_KEEP_COMPLETED", cfg.KeepCompleted)
	cfg.KeepFailed = getEnvInt("WORKQ_KEEP_FAILED", cfg.KeepFailed)
	cfg.ShutdownTimeout = getEnvDuration("WORKQ_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.ListenAddr = getEnv("WORKQ_LISTEN_ADDR", cfg.ListenAddr)
	cfg.APIKey = getEnv("WORKQ_API_KEY", cfg.APIKey)

	return cfg
}

// parseQueueSpec parses "video:2,document:4" into a concurrency map.
// Entries without a count default to 1.
func parseQueueSpec(spec string) map[string]int {
	out := make(map[string]int)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, countStr, found := strings.Cut(part, ":")
		count := 1
		if found {
			if n, err := strconv.Atoi(countStr); err == nil && n > 0 {
				count = n
			}
		}
		out[name] = count
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
