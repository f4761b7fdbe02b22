// Package memory holds process-local implementations of the session
// stores, for the CLI and for running without MongoDB.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/dawos/agent/internal/models"
	"github.com/dawos/agent/internal/utils"
)

type FrameLog struct {
	mu     sync.Mutex
	frames []models.FrameLog
}

func NewFrameLog() *FrameLog { return &FrameLog{} }

func (r *FrameLog) Insert(ctx context.Context, f *models.FrameLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f.ID.IsZero() {
		f.ID = primitive.NewObjectID()
	}
	r.frames = append(r.frames, *f)
	return nil
}

func (r *FrameLog) ListByUser(ctx context.Context, userID string, since time.Time, limit int64) ([]models.FrameLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.FrameLog
	for i := len(r.frames) - 1; i >= 0; i-- {
		f := r.frames[i]
		if f.UserID != userID || f.Timestamp.Before(since) {
			continue
		}
		out = append(out, f)
		if limit > 0 && int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

type Sessions struct {
	mu   sync.Mutex
	byID map[string]models.SessionRecord
}

func NewSessions() *Sessions { return &Sessions{byID: map[string]models.SessionRecord{}} }

func (r *Sessions) Upsert(ctx context.Context, s *models.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := *s
	rec.Interventions = append([]models.Intervention(nil), s.Interventions...)
	r.byID[s.SessionID] = rec
	return nil
}

func (r *Sessions) GetBySessionID(ctx context.Context, sessionID string) (*models.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[sessionID]
	if !ok {
		return nil, utils.ErrNotFound
	}
	return &rec, nil
}

func (r *Sessions) Complete(ctx context.Context, sessionID string, endedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[sessionID]
	if !ok {
		return utils.ErrNotFound
	}
	end := endedAt.UTC()
	rec.Status = models.SessionCompleted
	rec.EndTime = &end
	r.byID[sessionID] = rec
	return nil
}

type History struct {
	mu   sync.Mutex
	rows []models.SessionSummary
}

func NewHistory() *History { return &History{} }

func (r *History) Insert(ctx context.Context, s *models.SessionSummary) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID.IsZero() {
		s.ID = primitive.NewObjectID()
	}
	r.rows = append(r.rows, *s)
	return s.ID.Hex(), nil
}

// ListByUser returns the newest summaries first.
func (r *History) ListByUser(ctx context.Context, userID string, limit int64) ([]models.SessionSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 5
	}
	var out []models.SessionSummary
	for _, s := range r.rows {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EndTime.After(out[j].EndTime) })
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}
