package media

import (
	"context"
	"errors"
)

// Asset states reported by the hosting platform. The platform is polled, not
// push-based, so these mirror whatever the last lookup returned.
const (
	AssetStatusPreparing = "preparing"
	AssetStatusReady     = "ready"
	AssetStatusErrored   = "errored"
)

var (
	// ErrUpstreamUnavailable marks any platform call that was unreachable or
	// answered outside the 2xx range.
	ErrUpstreamUnavailable = errors.New("video platform unavailable")

	// ErrAssetNotFound is the non-failure outcome of an exhausted asset-ID
	// lookup: asset assignment is asynchronous relative to upload-URL issuance
	// and may simply not have happened yet. Callers decide whether this is
	// transient. It is also returned for lookups of unknown asset IDs.
	ErrAssetNotFound = errors.New("asset not found")
)

// UploadTarget is a one-time direct-upload URL plus the durable identifier the
// platform issued for it.
type UploadTarget struct {
	URL      string
	UploadID string
}

// AssetStatus is a point-in-time view of a processing asset. PlaybackID is
// only populated once Status is ready.
type AssetStatus struct {
	Status     string
	PlaybackID string
}

// Ready reports whether the asset can be streamed.
func (s AssetStatus) Ready() bool {
	return s.Status == AssetStatusReady && s.PlaybackID != ""
}

// Terminal reports whether the platform gave up on this asset. A terminal
// status must stop readiness polling immediately instead of burning budget.
func (s AssetStatus) Terminal() bool {
	return s.Status == AssetStatusErrored
}

// Gateway wraps the video-hosting platform.
type Gateway interface {
	// CreateUploadTarget requests a one-time direct-upload URL scoped to the
	// configured origin.
	CreateUploadTarget(ctx context.Context) (UploadTarget, error)

	// ResolveAssetID looks up the asset behind an upload identifier, retrying
	// on a bounded schedule because assignment lags the upload itself. Returns
	// ErrAssetNotFound once the budget is exhausted.
	ResolveAssetID(ctx context.Context, uploadID string) (string, error)

	// GetAssetStatus is a single, non-retrying status lookup.
	GetAssetStatus(ctx context.Context, assetID string) (AssetStatus, error)

	// StreamURL builds the public streaming URL for a ready playback ID.
	StreamURL(playbackID string) string
}
