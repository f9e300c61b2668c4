package workload_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hirewire/workq"
	"github.com/hirewire/workq/workload"
)

type fakeObjects struct {
	keys map[string]bool
	err  error
}

func (f *fakeObjects) Exists(_ context.Context, key string) (bool, error) {
	return f.keys[key], f.err
}

type fakeTranscoder struct {
	err   error
	calls []string
}

func (f *fakeTranscoder) Transcode(_ context.Context, sourceKey, format string) (string, error) {
	f.calls = append(f.calls, format)
	if f.err != nil {
		return "", f.err
	}
	return sourceKey + "." + format, nil
}

type fakeParser struct {
	doc *workload.ParsedDocument
	err error
}

func (f *fakeParser) Parse(context.Context, string) (*workload.ParsedDocument, error) {
	return f.doc, f.err
}

type fakeInference struct {
	out string
	err error
}

func (f *fakeInference) Complete(context.Context, string, string) (string, error) {
	return f.out, f.err
}

func TestVideoTranscodeProducesAllFormats(t *testing.T) {
	t.Parallel()

	transcoder := &fakeTranscoder{}
	deps := workload.Deps{
		Objects:   &fakeObjects{keys: map[string]bool{"uploads/v1": true}},
		Transcode: transcoder,
	}
	def := workload.VideoTranscodeDefinition(deps)

	out, err := def.Processor(context.Background(), workload.VideoTranscodePayload{
		SourceKey: "uploads/v1",
		Formats:   []string{"720p", "1080p"},
	})
	if err != nil {
		t.Fatalf("Processor() error = %v", err)
	}
	result, ok := out.(*workload.VideoTranscodeResult)
	if !ok {
		t.Fatalf("Processor() result type = %T, want *VideoTranscodeResult", out)
	}
	if got := result.Outputs["720p"]; got != "uploads/v1.720p" {
		t.Errorf("Outputs[720p] = %q, want %q", got, "uploads/v1.720p")
	}
	if len(transcoder.calls) != 2 {
		t.Errorf("transcoder calls = %d, want 2", len(transcoder.calls))
	}
}

func TestVideoTranscodeMissingSourceIsPermanent(t *testing.T) {
	t.Parallel()

	deps := workload.Deps{
		Objects:   &fakeObjects{keys: map[string]bool{}},
		Transcode: &fakeTranscoder{},
	}
	def := workload.VideoTranscodeDefinition(deps)

	_, err := def.Processor(context.Background(), workload.VideoTranscodePayload{
		SourceKey: "uploads/missing",
		Formats:   []string{"720p"},
	})
	if !workq.IsPermanent(err) {
		t.Errorf("missing source error = %v, want permanent", err)
	}
}

func TestVideoTranscodeTransientErrorIsRetryable(t *testing.T) {
	t.Parallel()

	deps := workload.Deps{
		Transcode: &fakeTranscoder{err: errors.New("encoder busy")},
	}
	def := workload.VideoTranscodeDefinition(deps)

	_, err := def.Processor(context.Background(), workload.VideoTranscodePayload{
		SourceKey: "uploads/v1",
		Formats:   []string{"720p"},
	})
	if err == nil {
		t.Fatal("Processor() error = nil, want error")
	}
	if workq.IsPermanent(err) {
		t.Errorf("transient transcoder error marked permanent: %v", err)
	}
}

func TestVideoTranscodeInvalidPayloadIsPermanent(t *testing.T) {
	t.Parallel()

	def := workload.VideoTranscodeDefinition(workload.Deps{Transcode: &fakeTranscoder{}})
	_, err := def.Processor(context.Background(), workload.VideoTranscodePayload{})
	if !workq.IsPermanent(err) {
		t.Errorf("invalid payload error = %v, want permanent", err)
	}
}

func TestDocumentParseReturnsDocument(t *testing.T) {
	t.Parallel()

	deps := workload.Deps{
		Parse: &fakeParser{doc: &workload.ParsedDocument{Text: "hello", PageCount: 3}},
	}
	def := workload.DocumentParseDefinition(deps)

	out, err := def.Processor(context.Background(), workload.DocumentParsePayload{
		SourceKey: "uploads/d1.pdf",
	})
	if err != nil {
		t.Fatalf("Processor() error = %v", err)
	}
	doc := out.(*workload.ParsedDocument)
	if doc.PageCount != 3 {
		t.Errorf("PageCount = %d, want 3", doc.PageCount)
	}
}

func TestAIInferenceCompletes(t *testing.T) {
	t.Parallel()

	deps := workload.Deps{Inference: &fakeInference{out: "42"}}
	def := workload.AIInferenceDefinition(deps)

	out, err := def.Processor(context.Background(), workload.AIInferencePayload{
		Model:  "gpt-4o-mini",
		Prompt: "meaning of life",
	})
	if err != nil {
		t.Fatalf("Processor() error = %v", err)
	}
	result := out.(*workload.AIInferenceResult)
	if result.Output != "42" {
		t.Errorf("Output = %q, want %q", result.Output, "42")
	}
}

func TestMissingCollaboratorIsPermanent(t *testing.T) {
	t.Parallel()

	def := workload.AIInferenceDefinition(workload.Deps{})
	_, err := def.Processor(context.Background(), workload.AIInferencePayload{
		Model:  "gpt-4o-mini",
		Prompt: "p",
	})
	if !workq.IsPermanent(err) {
		t.Errorf("missing collaborator error = %v, want permanent", err)
	}
}

func TestPayloadValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"video ok", workload.VideoTranscodePayload{SourceKey: "k", Formats: []string{"720p"}}.Validate(), false},
		{"video no formats", workload.VideoTranscodePayload{SourceKey: "k"}.Validate(), true},
		{"document ok", workload.DocumentParsePayload{SourceKey: "k"}.Validate(), false},
		{"document no source", workload.DocumentParsePayload{}.Validate(), true},
		{"ai ok", workload.AIInferencePayload{Model: "m", Prompt: "p"}.Validate(), false},
		{"ai no prompt", workload.AIInferencePayload{Model: "m"}.Validate(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if gotErr := tt.err != nil; gotErr != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", tt.err, tt.wantErr)
			}
		})
	}
}
