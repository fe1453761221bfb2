package repository

import (
	"context"

	"frictionlog/app/internal/domain"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Error constants for repository layer
var (
	ErrNotFound     = RepositoryError("not found")
	ErrDuplicate    = RepositoryError("already exists")
	ErrUpdateFailed = RepositoryError("update failed")
)

// RepositoryError helps distinguish repository errors
type RepositoryError string

func (e RepositoryError) Error() string {
	return string(e)
}

// FrictionLogRepository defines the interface for interacting with friction log records.
type FrictionLogRepository interface {
	Create(ctx context.Context, log *domain.FrictionLog) (primitive.ObjectID, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.FrictionLog, error)
	// SetRecommendations stores the final analysis text on a record whose
	// recommendations are still empty. A record that was already analyzed (or
	// does not exist) yields ErrUpdateFailed so the caller can surface the
	// conflict instead of silently overwriting.
	SetRecommendations(ctx context.Context, id primitive.ObjectID, text string) error
}

// IngestionRunRepository defines the interface for interacting with ingestion run state.
type IngestionRunRepository interface {
	Create(ctx context.Context, run *domain.IngestionRun) (primitive.ObjectID, error)
	GetByUploadID(ctx context.Context, uploadID string) (*domain.IngestionRun, error)
	// UpdateStage advances a run and records any identifiers discovered along
	// the way (asset ID, playback ID, record ID, artifact key). Zero-valued
	// patch fields are left untouched.
	UpdateStage(ctx context.Context, uploadID string, stage domain.RunStage, patch RunPatch) error
	// UpdateStageByRecord advances the run that produced a given friction log
	// record. Analysis requests carry the record ID, not the upload ID.
	UpdateStageByRecord(ctx context.Context, frictionLogID primitive.ObjectID, stage domain.RunStage) error
	// Fail moves a run into the absorbing failed stage with a reason.
	Fail(ctx context.Context, uploadID string, reason string) error
	// ClearAudioArtifact drops the archived-audio reference once the object
	// itself has been deleted from storage.
	ClearAudioArtifact(ctx context.Context, uploadID string) error
}

// RunPatch carries the optional fields UpdateStage may set alongside a stage change.
type RunPatch struct {
	AssetID          string
	PlaybackID       string
	FrictionLogID    *primitive.ObjectID
	AudioArtifactKey string
}
