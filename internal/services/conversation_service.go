package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/dawos/agent/internal/agent"
	"github.com/dawos/agent/internal/models"
	pgrepo "github.com/dawos/agent/internal/repositories/postgres"
	"github.com/dawos/agent/internal/utils"
)

// Run kinds stored with each agent run.
const (
	RunChat             = "chat"
	RunAnalyzeAndDecide = "analyze_and_decide"
	RunFrameConsult     = "frame_consult"
)

// RunService keeps the audit log of agent queries.
type RunService interface {
	Record(ctx context.Context, userID, sessionID, kind string, res *agent.Result) (*models.AgentRun, error)
	List(ctx context.Context, userID string, limit int) ([]models.AgentRun, error)
	Get(ctx context.Context, userID, runID string) (*models.AgentRun, error)
	ArchiveURL(ctx context.Context, userID, runID string) (string, error)
}

type runService struct {
	runs    pgrepo.RunRepo
	archive ArchiveService
	log     *logrus.Logger
}

// NewRunService accepts a nil archive when trace archiving is disabled.
func NewRunService(runs pgrepo.RunRepo, archive ArchiveService, log *logrus.Logger) RunService {
	if log == nil {
		log = logrus.New()
	}
	return &runService{runs: runs, archive: archive, log: log}
}

func (s *runService) Record(ctx context.Context, userID, sessionID, kind string, res *agent.Result) (*models.AgentRun, error) {
	const op = "RunService.Record"

	if strings.TrimSpace(userID) == "" || res == nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and result are required", nil)
	}
	trace, err := json.Marshal(res.Trace)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to encode trace", err)
	}

	row := &models.AgentRun{
		ID:         uuid.NewString(),
		UserID:     userID,
		SessionID:  sessionID,
		Kind:       kind,
		Question:   res.Question,
		Answer:     res.FinalAnswer,
		Trace:      datatypes.JSON(trace),
		Success:    res.Success,
		TotalTurns: res.TurnsUsed,
		ErrorCount: res.ErrorCount,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.runs.Insert(ctx, row); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to insert agent run", err)
	}

	if s.archive != nil {
		stored, err := s.archive.Archive(ctx, userID, row.ID, res)
		switch {
		case err != nil:
			s.log.WithError(err).WithField("run_id", row.ID).Warn("trace archive failed")
		default:
			if err := s.runs.SetArchive(ctx, row.ID, stored); err != nil {
				s.log.WithError(err).WithField("run_id", row.ID).Warn("archive path update failed")
			} else {
				row.Archive = stored
			}
		}
	}
	return row, nil
}

func (s *runService) List(ctx context.Context, userID string, limit int) ([]models.AgentRun, error) {
	const op = "RunService.List"

	if strings.TrimSpace(userID) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.runs.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list agent runs", err)
	}
	return rows, nil
}

// Get returns NOT_FOUND for runs owned by another user.
func (s *runService) Get(ctx context.Context, userID, runID string) (*models.AgentRun, error) {
	const op = "RunService.Get"

	if strings.TrimSpace(userID) == "" || strings.TrimSpace(runID) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and run_id are required", nil)
	}
	row, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "agent run not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get agent run", err)
	}
	if row.UserID != userID {
		return nil, utils.E(utils.CodeNotFound, op, "agent run not found", utils.ErrNotFound)
	}
	return row, nil
}

func (s *runService) ArchiveURL(ctx context.Context, userID, runID string) (string, error) {
	const op = "RunService.ArchiveURL"

	row, err := s.Get(ctx, userID, runID)
	if err != nil {
		return "", err
	}
	if s.archive == nil || row.Archive == "" {
		return "", utils.E(utils.CodeNotFound, op, "run has no archived trace", utils.ErrNotFound)
	}
	url, err := s.archive.DownloadURL(ctx, userID, runID, 15*time.Minute)
	if err != nil {
		return "", wrapOp(op, err)
	}
	return url, nil
}
