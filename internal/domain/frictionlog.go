package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FrictionLog pairs a video transcript with its eventual AI-generated UX
// critique. It is only created once a transcript exists; the actual video
// lives on the hosting platform and is referenced by VideoURL.
type FrictionLog struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	VideoURL        string             `bson:"videoUrl" json:"videoUrl"`               // Public streaming URL resolved from the playback ID
	Log             string             `bson:"log" json:"log"`                         // Transcript text, immutable after creation
	Recommendations []string           `bson:"recommendations" json:"recommendations"` // Empty at creation, filled exactly once
	CreatedAt       time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time          `bson:"updatedAt" json:"updatedAt"`
}
