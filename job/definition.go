package job

import "context"

// Definition is a typed job definition with a processor function.
// T is the payload type (must be JSON-serializable). The processor's
// return value is recorded as the job's result on success.
//
// Delivery is at-least-once: the processor may be invoked more than
// once for the same job under failure or reconnection races, so its
// side effects must be idempotent or keyed on the attempt counter.
type Definition[T any] struct {
	// Name is the unique identifier for this job type.
	Name string

	// Processor performs the work. It may do arbitrary I/O, including
	// calls into external transcoding/parsing/inference collaborators.
	Processor func(ctx context.Context, payload T) (any, error)

	// Opts configures queue, priority, retry budget, and timeout.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](name string, processor func(ctx context.Context, payload T) (any, error), opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Name:      name,
		Processor: processor,
		Opts:      DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
