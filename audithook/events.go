package audithook

// Audit event actions. Each constant corresponds to one lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobEnqueued  = "job.enqueued"
	ActionJobStarted   = "job.started"
	ActionJobCompleted = "job.completed"
	ActionJobFailed    = "job.failed"
	ActionJobRetrying  = "job.retrying"
	ActionJobStalled   = "job.stalled"
)

// CategoryJob groups all job lifecycle actions.
const CategoryJob = "workq.job"

// ResourceJob is the resource type used in audit events.
const ResourceJob = "job"

// AllActions returns every action this hook can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobRetrying,
		ActionJobStalled,
	}
}
