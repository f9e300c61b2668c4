package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hirewire/workq/job"
)

type greeting struct {
	Name string `json:"name"`
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := job.NewRegistry()

	def := job.NewDefinition("greet", func(_ context.Context, p greeting) (any, error) {
		return "hello " + p.Name, nil
	})
	job.RegisterDefinition(reg, def)

	proc, ok := reg.Get("greet")
	if !ok {
		t.Fatal("expected processor to be registered")
	}

	payload, _ := json.Marshal(greeting{Name: "Alice"})
	result, err := proc(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected processor error: %v", err)
	}

	var out string
	if err := json.Unmarshal(result, &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if out != "hello Alice" {
		t.Errorf("result = %q, want %q", out, "hello Alice")
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg := job.NewRegistry()
	if _, ok := reg.Get("nope"); ok {
		t.Error("expected Get to return false for unregistered name")
	}
}

func TestRegistry_BadPayload(t *testing.T) {
	reg := job.NewRegistry()
	job.RegisterDefinition(reg, job.NewDefinition("greet", func(_ context.Context, _ greeting) (any, error) {
		t.Error("processor should not run on unmarshal failure")
		return nil, nil
	}))

	proc, _ := reg.Get("greet")
	if _, err := proc(context.Background(), []byte(`{invalid`)); err == nil {
		t.Error("expected unmarshal error, got nil")
	}
}

func TestRegistry_NilResult(t *testing.T) {
	reg := job.NewRegistry()
	job.RegisterDefinition(reg, job.NewDefinition("noop", func(_ context.Context, _ greeting) (any, error) {
		return nil, nil
	}))

	proc, _ := reg.Get("noop")
	result, err := proc(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result, got %q", result)
	}
}

func TestRegistry_Defaults(t *testing.T) {
	reg := job.NewRegistry()
	def := job.NewDefinition("transcode", func(_ context.Context, _ greeting) (any, error) {
		return nil, nil
	},
		job.WithQueue("video"),
		job.WithPriority(1),
		job.WithMaxAttempts(5),
		job.WithBackoff(job.BackoffFixed, 2*time.Second),
	)
	job.RegisterDefinition(reg, def)

	opts, ok := reg.Defaults("transcode")
	if !ok {
		t.Fatal("expected defaults to be recorded")
	}
	if opts.Queue != "video" {
		t.Errorf("Queue = %q, want %q", opts.Queue, "video")
	}
	if opts.Priority != 1 {
		t.Errorf("Priority = %d, want 1", opts.Priority)
	}
	if opts.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", opts.MaxAttempts)
	}
	if opts.BackoffKind != job.BackoffFixed || opts.BackoffBase != 2*time.Second {
		t.Errorf("backoff = %v/%v, want fixed/2s", opts.BackoffKind, opts.BackoffBase)
	}
}

type vettedGreeting struct {
	Name string `json:"name"`
}

func (g vettedGreeting) Validate() error {
	if g.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

func TestRegistry_ValidatePayload(t *testing.T) {
	reg := job.NewRegistry()
	job.RegisterDefinition(reg, job.NewDefinition("vetted", func(_ context.Context, _ vettedGreeting) (any, error) {
		return nil, nil
	}))

	if err := reg.Validate("vetted", []byte(`{"name":"Alice"}`)); err != nil {
		t.Errorf("Validate(valid) = %v, want nil", err)
	}
	if err := reg.Validate("vetted", []byte(`{}`)); err == nil {
		t.Error("Validate(missing name) = nil, want error")
	}
	if err := reg.Validate("vetted", []byte(`{invalid`)); err == nil {
		t.Error("Validate(malformed JSON) = nil, want error")
	}
}

func TestRegistry_ValidateSkipsNonValidators(t *testing.T) {
	reg := job.NewRegistry()
	job.RegisterDefinition(reg, job.NewDefinition("greet", func(_ context.Context, _ greeting) (any, error) {
		return nil, nil
	}))

	if err := reg.Validate("greet", []byte(`{}`)); err != nil {
		t.Errorf("Validate() = %v, want nil for payloads without a validator", err)
	}
	if err := reg.Validate("unregistered", []byte(`{}`)); err != nil {
		t.Errorf("Validate() = %v, want nil for unregistered names", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	reg := job.NewRegistry()
	for _, name := range []string{"a", "b", "c"} {
		job.RegisterDefinition(reg, job.NewDefinition(name, func(_ context.Context, _ greeting) (any, error) {
			return nil, nil
		}))
	}

	names := reg.Names()
	if len(names) != 3 {
		t.Errorf("Names() returned %d entries, want 3", len(names))
	}
}
