package storage

import (
	"context"
	"io"
	"time"
)

// Default expiry duration for presigned URLs
const DefaultPresignedURLExpiry = 15 * time.Minute

// ArtifactStorage archives pipeline by-products (currently the extracted audio
// a transcript was produced from) so a run can be audited or re-transcribed
// without re-fetching the source video.
type ArtifactStorage interface {
	// StoreObject uploads an artifact under the given key.
	StoreObject(ctx context.Context, objectKey string, contentType string, body io.Reader) error

	// GeneratePresignedDownloadURL creates a temporary URL that allows GET
	// requests for an archived artifact.
	GeneratePresignedDownloadURL(ctx context.Context, objectKey string, expires time.Duration) (string, error)

	// DeleteObject removes an artifact.
	DeleteObject(ctx context.Context, objectKey string) error
}
