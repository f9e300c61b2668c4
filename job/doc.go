// Package job defines the job record, state machine, typed definitions,
// and broker store interface.
//
// # Job Record
//
// A [Job] represents a unit of deferred work. It embeds [workq.Entity]
// for timestamps, carries an opaque JSON payload interpreted only by
// its processor, and progresses through a state machine:
//
//	waiting → active → completed
//	waiting → active → delayed → waiting → ...
//	waiting → active → failed
//	delayed → waiting (enqueue with delay, then promotion)
//
// Fields of note:
//   - Queue: the workload class the job belongs to
//   - Priority: lower values are dispatched first, FIFO within a band
//   - MaxAttempts / Attempts: the retry budget
//   - BackoffKind / BackoffBase: the recorded retry delay policy
//   - RunAt: earliest time the job may be dispatched
//
// # Defining a Job
//
// Use [Definition] with a typed processor. The payload is
// JSON-serialized at enqueue time and deserialized before the
// processor runs; the returned value becomes the job's result:
//
//	var ParseResume = job.NewDefinition("document.parse",
//	    func(ctx context.Context, input ParseInput) (any, error) {
//	        return parser.Parse(ctx, input.ObjectKey)
//	    },
//	    job.WithQueue("document"),
//	)
//
// # Registry
//
// [Registry] maps job names to type-erased [ProcessorFunc] values,
// populated explicitly at process start via [RegisterDefinition]. The
// engine package provides higher-level engine.Register and
// engine.Enqueue wrappers.
package job
