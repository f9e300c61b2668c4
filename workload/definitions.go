package workload

import (
	"context"
	"fmt"
	"time"

	"github.com/hirewire/workq"
	"github.com/hirewire/workq/engine"
	"github.com/hirewire/workq/job"
)

// Deps holds the external collaborators the workload processors need.
// Any nil collaborator makes the corresponding job fail permanently,
// so partial deployments still drain their queues.
type Deps struct {
	Objects   ObjectStore
	Transcode Transcoder
	Parse     DocumentParser
	Inference InferenceClient
}

// RegisterAll registers the three workload definitions with the engine.
func RegisterAll(eng *engine.Engine, deps Deps) {
	engine.Register(eng, VideoTranscodeDefinition(deps))
	engine.Register(eng, DocumentParseDefinition(deps))
	engine.Register(eng, AIInferenceDefinition(deps))
}

// VideoTranscodeDefinition builds the video.transcode definition.
// A missing source object is a permanent failure; transcoder errors
// are retried.
func VideoTranscodeDefinition(deps Deps) *job.Definition[VideoTranscodePayload] {
	return job.NewDefinition(JobVideoTranscode,
		func(ctx context.Context, p VideoTranscodePayload) (any, error) {
			if err := p.Validate(); err != nil {
				return nil, workq.Permanent(err)
			}
			if deps.Transcode == nil {
				return nil, workq.Permanent(fmt.Errorf("no transcoder configured"))
			}
			if deps.Objects != nil {
				exists, err := deps.Objects.Exists(ctx, p.SourceKey)
				if err != nil {
					return nil, fmt.Errorf("check source %q: %w", p.SourceKey, err)
				}
				if !exists {
					return nil, workq.Permanent(fmt.Errorf("source object %q not found", p.SourceKey))
				}
			}

			outputs := make(map[string]string, len(p.Formats))
			for _, format := range p.Formats {
				key, err := deps.Transcode.Transcode(ctx, p.SourceKey, format)
				if err != nil {
					return nil, fmt.Errorf("transcode %q to %s: %w", p.SourceKey, format, err)
				}
				outputs[format] = key
			}
			return &VideoTranscodeResult{Outputs: outputs}, nil
		},
		job.WithQueue(QueueVideo),
		job.WithPriority(PriorityVideo),
		job.WithMaxAttempts(3),
		job.WithBackoff(job.BackoffExponential, 5*time.Second),
		job.WithTimeout(15*time.Minute),
	)
}

// DocumentParseDefinition builds the document.parse definition.
func DocumentParseDefinition(deps Deps) *job.Definition[DocumentParsePayload] {
	return job.NewDefinition(JobDocumentParse,
		func(ctx context.Context, p DocumentParsePayload) (any, error) {
			if err := p.Validate(); err != nil {
				return nil, workq.Permanent(err)
			}
			if deps.Parse == nil {
				return nil, workq.Permanent(fmt.Errorf("no document parser configured"))
			}

			doc, err := deps.Parse.Parse(ctx, p.SourceKey)
			if err != nil {
				return nil, fmt.Errorf("parse %q: %w", p.SourceKey, err)
			}
			return doc, nil
		},
		job.WithQueue(QueueDocument),
		job.WithPriority(PriorityDocument),
		job.WithMaxAttempts(3),
		job.WithBackoff(job.BackoffExponential, 2*time.Second),
		job.WithTimeout(5*time.Minute),
	)
}

// AIInferenceDefinition builds the ai.inference definition. Inference
// providers rate-limit aggressively, so it carries a larger retry
// budget with fixed backoff.
func AIInferenceDefinition(deps Deps) *job.Definition[AIInferencePayload] {
	return job.NewDefinition(JobAIInference,
		func(ctx context.Context, p AIInferencePayload) (any, error) {
			if err := p.Validate(); err != nil {
				return nil, workq.Permanent(err)
			}
			if deps.Inference == nil {
				return nil, workq.Permanent(fmt.Errorf("no inference client configured"))
			}

			out, err := deps.Inference.Complete(ctx, p.Model, p.Prompt)
			if err != nil {
				return nil, fmt.Errorf("complete with model %q: %w", p.Model, err)
			}
			return &AIInferenceResult{Output: out}, nil
		},
		job.WithQueue(QueueAI),
		job.WithPriority(PriorityAI),
		job.WithMaxAttempts(5),
		job.WithBackoff(job.BackoffFixed, 10*time.Second),
		job.WithTimeout(2*time.Minute),
	)
}
