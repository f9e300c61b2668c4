package workload

import "errors"

// Queue names for the three workload classes.
const (
	QueueVideo    = "video"
	QueueDocument = "document"
	QueueAI       = "ai"
)

// Dispatch priorities. Lower is serviced first: transcodes are
// user-blocking, document parsing is near-interactive, and inference
// is batch work.
const (
	PriorityVideo    = 1
	PriorityDocument = 2
	PriorityAI       = 5
)

// Job names as registered with the engine.
const (
	JobVideoTranscode = "video.transcode"
	JobDocumentParse  = "document.parse"
	JobAIInference    = "ai.inference"
)

// VideoTranscodePayload requests renditions of a stored video.
type VideoTranscodePayload struct {
	SourceKey string   `json:"source_key"`
	Formats   []string `json:"formats"`
}

// Validate checks the payload before it is accepted onto the queue.
func (p VideoTranscodePayload) Validate() error {
	if p.SourceKey == "" {
		return errors.New("source_key is required")
	}
	if len(p.Formats) == 0 {
		return errors.New("at least one target format is required")
	}
	return nil
}

// VideoTranscodeResult maps each requested format to its output key.
type VideoTranscodeResult struct {
	Outputs map[string]string `json:"outputs"`
}

// DocumentParsePayload requests text extraction from a stored document.
type DocumentParsePayload struct {
	SourceKey   string `json:"source_key"`
	ContentType string `json:"content_type,omitempty"`
}

// Validate checks the payload before it is accepted onto the queue.
func (p DocumentParsePayload) Validate() error {
	if p.SourceKey == "" {
		return errors.New("source_key is required")
	}
	return nil
}

// AIInferencePayload requests one completion from a hosted model.
type AIInferencePayload struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// Validate checks the payload before it is accepted onto the queue.
func (p AIInferencePayload) Validate() error {
	if p.Model == "" {
		return errors.New("model is required")
	}
	if p.Prompt == "" {
		return errors.New("prompt is required")
	}
	return nil
}

// AIInferenceResult carries the model output.
type AIInferenceResult struct {
	Output string `json:"output"`
}
