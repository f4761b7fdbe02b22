package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dawos/agent/internal/models"
	"github.com/dawos/agent/internal/repositories/memory"
	"github.com/dawos/agent/internal/utils"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fixedClock {
	return &fixedClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(5 * time.Second)
	return c.t
}

// flakyHistory fails inserts while fail is set.
type flakyHistory struct {
	*memory.History
	fail  bool
	lists int
}

func (h *flakyHistory) Insert(ctx context.Context, s *models.SessionSummary) (string, error) {
	if h.fail {
		return "", errors.New("mongo: connection refused")
	}
	return h.History.Insert(ctx, s)
}

func (h *flakyHistory) ListByUser(ctx context.Context, userID string, limit int64) ([]models.SessionSummary, error) {
	h.lists++
	return h.History.ListByUser(ctx, userID, limit)
}

type fakeRunRepo struct {
	mu   sync.Mutex
	rows map[string]models.AgentRun
}

func newFakeRunRepo() *fakeRunRepo { return &fakeRunRepo{rows: map[string]models.AgentRun{}} }

func (r *fakeRunRepo) Insert(ctx context.Context, run *models.AgentRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[run.ID] = *run
	return nil
}

func (r *fakeRunRepo) SetArchive(ctx context.Context, id, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return utils.ErrNotFound
	}
	row.Archive = path
	r.rows[id] = row
	return nil
}

func (r *fakeRunRepo) ListByUser(ctx context.Context, userID string, limit int) ([]models.AgentRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.AgentRun
	for _, row := range r.rows {
		if row.UserID == userID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeRunRepo) GetByID(ctx context.Context, id string) (*models.AgentRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	return &row, nil
}
