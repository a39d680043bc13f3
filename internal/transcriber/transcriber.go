// Package transcriber turns one audio segment into text using either a cloud
// speech API or a local recognizer.
package transcriber

import (
	"context"

	"github.com/leonardotrapani/segscribe/internal/store"
)

// Backend names recorded with every result.
const (
	BackendOpenAI     = "openai"
	BackendWhisperCpp = "whisper-cpp"
)

// Result is what a backend produced for one segment.
type Result struct {
	Text       string
	Confidence float64
}

// Backend transcribes a single segment. Errors are *FailureError values.
type Backend interface {
	Name() string
	Transcribe(ctx context.Context, seg store.Segment) (Result, error)
}
