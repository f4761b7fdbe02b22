package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dawos/agent/internal/models"
)

// FrameLogRepository keeps a durable, expiring copy of ingested frames.
type FrameLogRepository interface {
	Insert(ctx context.Context, f *models.FrameLog) error
	ListByUser(ctx context.Context, userID string, since time.Time, limit int64) ([]models.FrameLog, error)
}

type frameLogRepo struct {
	col *mongo.Collection
	ttl time.Duration
}

func NewFrameLogRepo(db *mongo.Database, ttl time.Duration) FrameLogRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &frameLogRepo{col: db.Collection("emotion_frames"), ttl: ttl}
}

func (r *frameLogRepo) Insert(ctx context.Context, f *models.FrameLog) error {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}
	if f.ExpiresAt.IsZero() {
		f.ExpiresAt = f.Timestamp.Add(r.ttl)
	}
	_, err := r.col.InsertOne(ctx, f)
	return err
}

func (r *frameLogRepo) ListByUser(ctx context.Context, userID string, since time.Time, limit int64) ([]models.FrameLog, error) {
	if limit <= 0 {
		limit = 120
	}

	filter := bson.M{"user_id": userID}
	if !since.IsZero() {
		filter["timestamp"] = bson.M{"$gte": since.UTC()}
	}
	cur, err := r.col.Find(ctx, filter,
		options.Find().
			SetSort(bson.D{{Key: "timestamp", Value: 1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.FrameLog
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
