package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ProcessorFunc is a type-erased processor that accepts a raw JSON
// payload and returns a raw JSON result. The typed Definition[T] is
// converted to a ProcessorFunc at registration time by closing over
// JSON unmarshal + the typed processor.
type ProcessorFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Validator is implemented by payload types that can check their own
// shape. Payloads of validating types are rejected at the producer
// boundary, before the job enters the queue.
type Validator interface {
	Validate() error
}

// validatorFunc is a type-erased payload validator built at
// registration time for payload types implementing Validator.
type validatorFunc func(payload []byte) error

// Registry maps job names to type-erased processor functions. It is
// populated explicitly at process start — no lazy module loading, no
// reflection — and is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	processors map[string]ProcessorFunc
	// defaults remembers each definition's registered Options so
	// producers can enqueue by name without repeating them.
	defaults map[string]Options
	// validators holds the payload shape check for definitions whose
	// payload type implements Validator.
	validators map[string]validatorFunc
}

// NewRegistry creates an empty processor registry.
func NewRegistry() *Registry {
	return &Registry{
		processors: make(map[string]ProcessorFunc),
		defaults:   make(map[string]Options),
		validators: make(map[string]validatorFunc),
	}
}

// RegisterDefinition registers a typed job definition. The generic
// processor is wrapped in a closure that JSON-unmarshals the payload
// into T before calling the typed processor and JSON-marshals the
// result after.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	processor := func(ctx context.Context, payload []byte) ([]byte, error) {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return nil, fmt.Errorf("unmarshal payload for job %q: %w", def.Name, err)
			}
		}
		out, err := def.Processor(ctx, t)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, nil
		}
		result, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("marshal result for job %q: %w", def.Name, err)
		}
		return result, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[def.Name] = processor
	r.defaults[def.Name] = def.Opts

	var zero T
	if _, ok := any(zero).(Validator); ok {
		r.validators[def.Name] = func(payload []byte) error {
			var t T
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &t); err != nil {
					return fmt.Errorf("unmarshal payload for job %q: %w", def.Name, err)
				}
			}
			return any(t).(Validator).Validate()
		}
	}
}

// Validate runs the payload shape check registered for the given job
// name. Definitions whose payload type does not implement Validator
// accept any payload.
func (r *Registry) Validate(name string, payload []byte) error {
	r.mu.RLock()
	v, ok := r.validators[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return v(payload)
}

// Get returns the processor for the given job name.
// Returns false if no processor is registered.
func (r *Registry) Get(name string) (ProcessorFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[name]
	return p, ok
}

// Defaults returns the Options a definition was registered with.
func (r *Registry) Defaults(name string) (Options, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.defaults[name]
	return o, ok
}

// Names returns all registered job names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.processors))
	for name := range r.processors {
		names = append(names, name)
	}
	return names
}
