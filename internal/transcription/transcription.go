package transcription

import (
	"context"
	"errors"
)

// ErrTranscription marks any failure in the media-to-text pipeline: download,
// audio encode, upload, or a non-2xx answer from the speech service. The
// upstream message is wrapped so it reaches the caller intact.
var ErrTranscription = errors.New("transcription failed")

// Result is a completed transcription. ArtifactKey is set when the extracted
// audio was archived, and empty otherwise.
type Result struct {
	Text        string
	ArtifactKey string
}

// Transcriber turns a playable media URL into a plain-text transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaURL string) (Result, error)
}
