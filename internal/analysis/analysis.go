package analysis

import (
	"context"
	"errors"
)

// ErrUpstreamUnavailable marks a language-model request that never produced a
// stream: unreachable endpoint or a non-2xx response.
var ErrUpstreamUnavailable = errors.New("language model unavailable")

// Chunk is one increment of generated critique. A non-nil Err means the
// stream aborted; no further chunks follow it.
type Chunk struct {
	Text string
	Err  error
}

// Analyzer streams a UX critique for a transcript. The returned channel is
// finite, preserves upstream emission order, closes when the generation
// completes, and cannot be restarted. The caller concatenates chunk text to
// reconstruct the full critique.
type Analyzer interface {
	Stream(ctx context.Context, transcript string) (<-chan Chunk, error)
}
