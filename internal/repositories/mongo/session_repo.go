package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dawos/agent/internal/models"
	"github.com/dawos/agent/internal/utils"
)

// SessionRepository mirrors live session records. The in-memory state is
// authoritative; writes here are write-through.
type SessionRepository interface {
	Upsert(ctx context.Context, s *models.SessionRecord) error
	GetBySessionID(ctx context.Context, sessionID string) (*models.SessionRecord, error)
	Complete(ctx context.Context, sessionID string, endedAt time.Time) error
}

type sessionRepo struct {
	col *mongo.Collection
}

func NewSessionRepo(db *mongo.Database) SessionRepository {
	return &sessionRepo{col: db.Collection("sessions")}
}

func (r *sessionRepo) Upsert(ctx context.Context, s *models.SessionRecord) error {
	if s.StartTime.IsZero() {
		s.StartTime = time.Now().UTC()
	}
	_, err := r.col.UpdateOne(ctx,
		bson.M{"session_id": s.SessionID},
		bson.M{"$set": bson.M{
			"user_id":       s.UserID,
			"status":        s.Status,
			"total_minutes": s.TotalMinutes,
			"interventions": s.Interventions,
			"start_time":    s.StartTime.UTC(),
			"end_time":      s.EndTime,
		}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *sessionRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.SessionRecord, error) {
	var s models.SessionRecord
	err := r.col.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepo) Complete(ctx context.Context, sessionID string, endedAt time.Time) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{
			"status":   models.SessionCompleted,
			"end_time": endedAt.UTC(),
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return utils.ErrNotFound
	}
	return nil
}
