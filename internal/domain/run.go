package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RunStage type for the ingestion run lifecycle
type RunStage string

const (
	StageUploading         RunStage = "uploading"          // Upload URL issued, waiting for raw bytes
	StageAwaitingAsset     RunStage = "awaiting_asset"     // Upload done, asset ID not yet assigned
	StageAwaitingReadiness RunStage = "awaiting_readiness" // Asset known, platform still processing
	StageTranscribing      RunStage = "transcribing"       // Asset ready, transcript in flight
	StagePersisted         RunStage = "persisted"          // FrictionLog record created
	StageAnalyzing         RunStage = "analyzing"          // Critique streaming from the model
	StageComplete          RunStage = "complete"           // Recommendations persisted
	StageFailed            RunStage = "failed"             // Absorbing state, see FailureReason
)

// Failure reasons recorded on a failed run.
const (
	FailureAssetUnresolved    = "asset_unresolved"
	FailureReadinessTimeout   = "readiness_timeout"
	FailureAssetErrored       = "asset_errored"
	FailureTranscriptionError = "transcription_error"
	FailurePersistenceError   = "persistence_error"
)

// IngestionRun tracks one upload through the pipeline so a readiness check can
// resume from the last known stage instead of starting blind. A failed run is
// never resumed past its failure; the client starts a new run (new upload ID).
type IngestionRun struct {
	ID               primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	UploadID         string              `bson:"uploadId" json:"uploadId"`                               // Issued by the hosting platform, stable for the run
	AssetID          string              `bson:"assetId,omitempty" json:"assetId,omitempty"`             // Discovered via lookup once processing starts
	PlaybackID       string              `bson:"playbackId,omitempty" json:"playbackId,omitempty"`       // Available only once the asset is ready
	Stage            RunStage            `bson:"stage" json:"stage"`
	FailureReason    string              `bson:"failureReason,omitempty" json:"failureReason,omitempty"`
	FrictionLogID    *primitive.ObjectID `bson:"frictionLogId,omitempty" json:"frictionLogId,omitempty"`
	AudioArtifactKey string              `bson:"audioArtifactKey,omitempty" json:"-"` // Archived audio object key, internal use
	CreatedAt        time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time           `bson:"updatedAt" json:"updatedAt"`
}

// Terminal reports whether the run can still advance.
func (r *IngestionRun) Terminal() bool {
	return r.Stage == StageComplete || r.Stage == StageFailed
}
