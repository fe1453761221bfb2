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

const frictionLogCollectionName = "friction_logs"

// mongoFrictionLogRepository implements repository.FrictionLogRepository
type mongoFrictionLogRepository struct {
	collection *mongo.Collection
}

// NewMongoFrictionLogRepository creates a new friction log repository backed by MongoDB.
func NewMongoFrictionLogRepository(db *mongo.Database) repository.FrictionLogRepository {
	return &mongoFrictionLogRepository{
		collection: db.Collection(frictionLogCollectionName),
	}
}

// Create inserts a new friction log record. A record is only ever created with
// a transcript already in hand, so an empty Log is rejected here.
func (r *mongoFrictionLogRepository) Create(ctx context.Context, log *domain.FrictionLog) (primitive.ObjectID, error) {
	if log.VideoURL == "" || log.Log == "" {
		return primitive.NilObjectID, errors.New("friction log requires videoUrl and a transcript")
	}

	log.ID = primitive.NewObjectID()
	if log.Recommendations == nil {
		log.Recommendations = []string{}
	}
	now := time.Now().UTC()
	log.CreatedAt = now
	log.UpdatedAt = now

	result, err := r.collection.InsertOne(ctx, log)
	if err != nil {
		return primitive.NilObjectID, err
	}

	insertedID, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, errors.New("failed to convert inserted ID")
	}
	return insertedID, nil
}

// GetByID retrieves a friction log record by its ID.
func (r *mongoFrictionLogRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.FrictionLog, error) {
	var log domain.FrictionLog
	filter := bson.M{"_id": id}

	err := r.collection.FindOne(ctx, filter).Decode(&log)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &log, nil
}

// SetRecommendations writes the final analysis text onto a record. The filter
// only matches records whose recommendations are still empty, which is what
// enforces the empty -> single-element transition: a second write matches
// nothing and reports ErrUpdateFailed.
func (r *mongoFrictionLogRepository) SetRecommendations(ctx context.Context, id primitive.ObjectID, text string) error {
	filter := bson.M{
		"_id":             id,
		"recommendations": bson.M{"$size": 0},
	}
	update := bson.M{
		"$set": bson.M{
			"recommendations": []string{text},
			"updatedAt":       time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		// Either the record does not exist or it was already analyzed.
		// Distinguish the two so the caller can report a sensible status.
		var existing domain.FrictionLog
		if ferr := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&existing); ferr != nil {
			if errors.Is(ferr, mongo.ErrNoDocuments) {
				return repository.ErrNotFound
			}
			return ferr
		}
		return repository.ErrUpdateFailed
	}
	return nil
}

// EnsureFrictionLogIndexes creates necessary indexes for the friction_logs collection.
func EnsureFrictionLogIndexes(ctx context.Context, collection *mongo.Collection) {
	indexes := []mongo.IndexModel{
		{
			// Listing recent logs is the common read path for the UI collaborator.
			Keys:    bson.D{{Key: "createdAt", Value: -1}},
			Options: options.Index(),
		},
	}

	_, _ = collection.Indexes().CreateMany(ctx, indexes)
}
