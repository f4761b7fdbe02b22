package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dawos/agent/internal/models"
)

// HistoryRepository stores closed-session summaries.
type HistoryRepository interface {
	// Insert returns the durable identifier of the stored summary.
	Insert(ctx context.Context, s *models.SessionSummary) (string, error)
	ListByUser(ctx context.Context, userID string, limit int64) ([]models.SessionSummary, error)
}

type historyRepo struct {
	col *mongo.Collection
}

func NewHistoryRepo(db *mongo.Database) HistoryRepository {
	return &historyRepo{col: db.Collection("session_history")}
}

func (r *historyRepo) Insert(ctx context.Context, s *models.SessionSummary) (string, error) {
	if s.ID.IsZero() {
		s.ID = primitive.NewObjectID()
	}
	if _, err := r.col.InsertOne(ctx, s); err != nil {
		return "", err
	}
	return s.ID.Hex(), nil
}

// ListByUser returns the newest summaries first.
func (r *historyRepo) ListByUser(ctx context.Context, userID string, limit int64) ([]models.SessionSummary, error) {
	if limit <= 0 {
		limit = 5
	}
	cur, err := r.col.Find(ctx,
		bson.M{"user_id": userID},
		options.Find().
			SetSort(bson.D{{Key: "end_time", Value: -1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.SessionSummary
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
