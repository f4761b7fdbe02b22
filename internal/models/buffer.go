package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FrameLog is the durable copy of one ingested frame. Documents expire via TTL index.
type FrameLog struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    string             `bson:"user_id" json:"user_id"`
	SessionID string             `bson:"session_id,omitempty" json:"session_id,omitempty"`
	Position  int                `bson:"position" json:"position"` // 1..12 within the window

	Emotion    string  `bson:"emotion" json:"emotion"`
	Confidence float64 `bson:"confidence" json:"confidence"`

	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"` // for TTL index
}
