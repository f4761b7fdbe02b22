package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/dawos/agent/internal/models"
	"github.com/dawos/agent/internal/utils"
)

// RunRepo is the agent run log.
type RunRepo interface {
	Insert(ctx context.Context, run *models.AgentRun) error
	SetArchive(ctx context.Context, id, path string) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.AgentRun, error)
	GetByID(ctx context.Context, id string) (*models.AgentRun, error)
}

type runRepo struct {
	db *gorm.DB
}

func NewRunRepo(db *gorm.DB) RunRepo {
	return &runRepo{db: db}
}

func (r *runRepo) Insert(ctx context.Context, run *models.AgentRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *runRepo) SetArchive(ctx context.Context, id, path string) error {
	res := r.db.WithContext(ctx).
		Model(&models.AgentRun{}).
		Where("id = ?", id).
		Update("archive_path", path)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *runRepo) ListByUser(ctx context.Context, userID string, limit int) ([]models.AgentRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []models.AgentRun
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *runRepo) GetByID(ctx context.Context, id string) (*models.AgentRun, error) {
	var row models.AgentRun
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
