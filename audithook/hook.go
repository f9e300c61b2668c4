package audithook

import (
	"context"
	"log/slog"
	"time"

	"github.com/hirewire/workq/hook"
	"github.com/hirewire/workq/job"
)

// Compile-time interface checks.
var (
	_ hook.Hook         = (*Hook)(nil)
	_ hook.JobEnqueued  = (*Hook)(nil)
	_ hook.JobStarted   = (*Hook)(nil)
	_ hook.JobCompleted = (*Hook)(nil)
	_ hook.JobFailed    = (*Hook)(nil)
	_ hook.JobRetrying  = (*Hook)(nil)
	_ hook.JobStalled   = (*Hook)(nil)
)

// Recorder is the interface audit backends must implement. It is
// defined locally so this package carries no dependency on any
// particular audit system — callers inject the concrete backend at
// wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// AuditEvent is the audit record emitted for each lifecycle event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Hook bridges lifecycle events to an audit trail backend.
type Hook struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates a Hook that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Hook {
	h := &Hook{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewLogRecorder returns a Recorder that writes audit events to a
// structured logger, for deployments without a dedicated audit backend.
func NewLogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
			slog.String("severity", evt.Severity),
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		for k, v := range evt.Metadata {
			attrs = append(attrs, slog.Any(k, v))
		}
		logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
		return nil
	})
}

// Name implements hook.Hook.
func (h *Hook) Name() string { return "audit-hook" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements hook.JobEnqueued.
func (h *Hook) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return h.record(ctx, ActionJobEnqueued, SeverityInfo, OutcomeSuccess, j.ID.String(), "",
		map[string]any{
			"job_name": j.Name,
			"queue":    j.Queue,
			"priority": j.Priority,
		})
}

// OnJobStarted implements hook.JobStarted.
func (h *Hook) OnJobStarted(ctx context.Context, j *job.Job) error {
	return h.record(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess, j.ID.String(), "",
		map[string]any{
			"job_name": j.Name,
			"queue":    j.Queue,
			"attempt":  j.Attempts,
		})
}

// OnJobCompleted implements hook.JobCompleted.
func (h *Hook) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return h.record(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess, j.ID.String(), "",
		map[string]any{
			"job_name":    j.Name,
			"queue":       j.Queue,
			"attempts":    j.Attempts,
			"duration_ms": elapsed.Milliseconds(),
		})
}

// OnJobFailed implements hook.JobFailed.
func (h *Hook) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return h.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure, j.ID.String(), jobErr.Error(),
		map[string]any{
			"job_name": j.Name,
			"queue":    j.Queue,
			"attempts": j.Attempts,
		})
}

// OnJobRetrying implements hook.JobRetrying.
func (h *Hook) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	return h.record(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure, j.ID.String(), j.FailureReason,
		map[string]any{
			"job_name":    j.Name,
			"queue":       j.Queue,
			"attempt":     attempt,
			"next_run_at": nextRunAt.UTC().Format(time.RFC3339),
		})
}

// OnJobStalled implements hook.JobStalled.
func (h *Hook) OnJobStalled(ctx context.Context, j *job.Job, requeued bool) error {
	return h.record(ctx, ActionJobStalled, SeverityWarning, OutcomeFailure, j.ID.String(), "worker heartbeat lost",
		map[string]any{
			"job_name":      j.Name,
			"queue":         j.Queue,
			"stalled_count": j.StalledCount,
			"requeued":      requeued,
		})
}

func (h *Hook) record(ctx context.Context, action, severity, outcome, resourceID, reason string, meta map[string]any) error {
	if h.enabled != nil && !h.enabled[action] {
		return nil
	}
	evt := &AuditEvent{
		Action:     action,
		Resource:   ResourceJob,
		Category:   CategoryJob,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}
	if err := h.recorder.Record(ctx, evt); err != nil {
		// Audit failures must never interrupt job processing.
		h.logger.Error("audit record failed",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
