package mongo

import (
	"context"
	"errors"
	"time"

	"frictionlog/app/internal/domain"
	"frictionlog/app/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const runCollectionName = "ingestion_runs"

// mongoRunRepository implements repository.IngestionRunRepository
type mongoRunRepository struct {
	collection *mongo.Collection
}

// NewMongoRunRepository creates a new ingestion run repository backed by MongoDB.
func NewMongoRunRepository(db *mongo.Database) repository.IngestionRunRepository {
	return &mongoRunRepository{
		collection: db.Collection(runCollectionName),
	}
}

// Create inserts a new run record at its initial stage.
func (r *mongoRunRepository) Create(ctx context.Context, run *domain.IngestionRun) (primitive.ObjectID, error) {
	if run.UploadID == "" {
		return primitive.NilObjectID, errors.New("ingestion run requires uploadId")
	}

	run.ID = primitive.NewObjectID()
	if run.Stage == "" {
		run.Stage = domain.StageUploading
	}
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now

	result, err := r.collection.InsertOne(ctx, run)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return primitive.NilObjectID, repository.ErrDuplicate
		}
		return primitive.NilObjectID, err
	}

	insertedID, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, errors.New("failed to convert inserted ID")
	}
	return insertedID, nil
}

// GetByUploadID retrieves the run tracking a given platform upload identifier.
func (r *mongoRunRepository) GetByUploadID(ctx context.Context, uploadID string) (*domain.IngestionRun, error) {
	var run domain.IngestionRun
	filter := bson.M{"uploadId": uploadID}

	err := r.collection.FindOne(ctx, filter).Decode(&run)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &run, nil
}

// UpdateStage advances the run and records any newly discovered identifiers.
func (r *mongoRunRepository) UpdateStage(ctx context.Context, uploadID string, stage domain.RunStage, patch repository.RunPatch) error {
	set := bson.M{
		"stage":     stage,
		"updatedAt": time.Now().UTC(),
	}
	if patch.AssetID != "" {
		set["assetId"] = patch.AssetID
	}
	if patch.PlaybackID != "" {
		set["playbackId"] = patch.PlaybackID
	}
	if patch.FrictionLogID != nil {
		set["frictionLogId"] = *patch.FrictionLogID
	}
	if patch.AudioArtifactKey != "" {
		set["audioArtifactKey"] = patch.AudioArtifactKey
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"uploadId": uploadID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateStageByRecord advances the run linked to a friction log record. Runs
// predating the run store may have no such link; that is not an error.
func (r *mongoRunRepository) UpdateStageByRecord(ctx context.Context, frictionLogID primitive.ObjectID, stage domain.RunStage) error {
	update := bson.M{
		"$set": bson.M{
			"stage":     stage,
			"updatedAt": time.Now().UTC(),
		},
	}
	_, err := r.collection.UpdateOne(ctx, bson.M{"frictionLogId": frictionLogID}, update)
	return err
}

// Fail moves the run into the absorbing failed stage.
func (r *mongoRunRepository) Fail(ctx context.Context, uploadID string, reason string) error {
	update := bson.M{
		"$set": bson.M{
			"stage":         domain.StageFailed,
			"failureReason": reason,
			"updatedAt":     time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"uploadId": uploadID}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ClearAudioArtifact removes the archived-audio reference from a run.
func (r *mongoRunRepository) ClearAudioArtifact(ctx context.Context, uploadID string) error {
	update := bson.M{
		"$unset": bson.M{"audioArtifactKey": ""},
		"$set":   bson.M{"updatedAt": time.Now().UTC()},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"uploadId": uploadID}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// EnsureRunIndexes creates necessary indexes for the ingestion_runs collection.
func EnsureRunIndexes(ctx context.Context, collection *mongo.Collection) {
	indexes := []mongo.IndexModel{
		{
			// One run per platform upload identifier.
			Keys:    bson.D{{Key: "uploadId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "stage", Value: 1}},
			Options: options.Index(),
		},
	}

	_, _ = collection.Indexes().CreateMany(ctx, indexes)
}
