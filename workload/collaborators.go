package workload

import "context"

// ObjectStore abstracts the blob storage holding job inputs and outputs.
type ObjectStore interface {
	// Exists reports whether an object is present under the given key.
	Exists(ctx context.Context, key string) (bool, error)
}

// Transcoder converts a stored video into one target format, returning
// the key of the produced rendition.
type Transcoder interface {
	Transcode(ctx context.Context, sourceKey, format string) (outputKey string, err error)
}

// ParsedDocument is the extraction result for one document.
type ParsedDocument struct {
	Text      string `json:"text"`
	PageCount int    `json:"page_count"`
}

// DocumentParser extracts text from a stored document.
type DocumentParser interface {
	Parse(ctx context.Context, sourceKey string) (*ParsedDocument, error)
}

// InferenceClient runs one completion against a hosted model.
type InferenceClient interface {
	Complete(ctx context.Context, model, prompt string) (output string, err error)
}
