package services

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dawos/agent/internal/models"
	"github.com/dawos/agent/internal/monitor"
	mongorepo "github.com/dawos/agent/internal/repositories/mongo"
	"github.com/dawos/agent/internal/utils"
)

// FrameAck reports the buffer fill level after one frame.
type FrameAck struct {
	UserID   string              `json:"user_id"`
	Fill     int                 `json:"buffer_size"`
	Capacity int                 `json:"capacity"`
	Ready    bool                `json:"ready_for_analysis"`
	Frame    models.EmotionFrame `json:"frame"`
}

// IngestResult is the outcome of one background frame: its ack and any
// windows analysed while it was applied.
type IngestResult struct {
	Ack      FrameAck
	Analyses []models.MinuteSummary
}

type BufferService interface {
	AddFrame(ctx context.Context, userID string, frame models.EmotionFrame) (*FrameAck, error)
	Ingest(ctx context.Context, userID string, frame models.EmotionFrame) (*IngestResult, error)
	Analyze(ctx context.Context, userID string) (*models.MinuteSummary, error)
	RecordDecision(ctx context.Context, userID, decision, reasoning string, confidence float64) (*models.MinuteSummary, error)
	Snapshot(userID string) *monitor.UserState
}

type bufferService struct {
	table    *monitor.Table
	frames   mongorepo.FrameLogRepository
	sessions mongorepo.SessionRepository
	log      *logrus.Logger
	now      func() time.Time
}

// NewBufferService wires the live state table to its write-through stores.
// frames and sessions may be nil when running without MongoDB.
func NewBufferService(table *monitor.Table, frames mongorepo.FrameLogRepository, sessions mongorepo.SessionRepository, log *logrus.Logger) BufferService {
	if log == nil {
		log = logrus.New()
	}
	return &bufferService{table: table, frames: frames, sessions: sessions, log: log, now: func() time.Time { return time.Now().UTC() }}
}

func (s *bufferService) validateFrame(op, userID string, frame *models.EmotionFrame) error {
	if userID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	if monitor.NormalizeEmotion(frame.Emotion) == "" {
		return utils.E(utils.CodeInvalidArgument, op, "emotion is required", nil)
	}
	if frame.Confidence < 0 || frame.Confidence > 1 {
		return utils.E(utils.CodeInvalidArgument, op, "confidence must be within [0,1]", nil)
	}
	if frame.Timestamp.IsZero() {
		frame.Timestamp = s.now()
	}
	return nil
}

func (s *bufferService) AddFrame(ctx context.Context, userID string, frame models.EmotionFrame) (*FrameAck, error) {
	const op = "BufferService.AddFrame"

	userID = strings.TrimSpace(userID)
	if err := s.validateFrame(op, userID, &frame); err != nil {
		return nil, err
	}

	var ack *FrameAck
	err := s.table.With(userID, func(slot *monitor.Slot) error {
		if slot.State == nil {
			slot.State = monitor.NewUserState()
		}
		a, err := s.addLocked(ctx, userID, slot.State, frame)
		ack = a
		return err
	})
	if err != nil {
		return nil, wrapOp(op, err)
	}
	return ack, nil
}

// Ingest applies a frame and analyses the window as soon as it is full,
// all under one hold of the user's lock. A window left full by an earlier
// caller is analysed before the frame is added, so no frame is refused.
func (s *bufferService) Ingest(ctx context.Context, userID string, frame models.EmotionFrame) (*IngestResult, error) {
	const op = "BufferService.Ingest"

	userID = strings.TrimSpace(userID)
	if err := s.validateFrame(op, userID, &frame); err != nil {
		return nil, err
	}

	var out IngestResult
	err := s.table.With(userID, func(slot *monitor.Slot) error {
		if slot.State == nil {
			slot.State = monitor.NewUserState()
		}
		st := slot.State

		if st.Ready() {
			sum, err := s.analyzeLocked(ctx, st)
			if err != nil {
				return err
			}
			out.Analyses = append(out.Analyses, sum)
		}

		ack, err := s.addLocked(ctx, userID, st, frame)
		if err != nil {
			return err
		}
		out.Ack = *ack

		if st.Ready() {
			sum, err := s.analyzeLocked(ctx, st)
			if err != nil {
				return err
			}
			out.Analyses = append(out.Analyses, sum)
		}
		return nil
	})
	if err != nil {
		return nil, wrapOp(op, err)
	}

	for _, sum := range out.Analyses {
		s.logAnalysis(userID, sum)
	}
	return &out, nil
}

// addLocked appends the frame and writes it through to the frame log.
// Callers hold the user's lock.
func (s *bufferService) addLocked(ctx context.Context, userID string, st *monitor.UserState, frame models.EmotionFrame) (*FrameAck, error) {
	n, err := st.AddFrame(frame)
	if err != nil {
		return nil, err
	}
	stored := st.Buffer[n-1]
	ack := &FrameAck{UserID: userID, Fill: n, Capacity: monitor.WindowSize, Ready: st.Ready(), Frame: stored}

	if s.frames != nil {
		doc := &models.FrameLog{
			UserID:     userID,
			SessionID:  sessionIDOf(st),
			Position:   n,
			Emotion:    stored.Emotion,
			Confidence: stored.Confidence,
			Timestamp:  stored.Timestamp,
		}
		if err := s.frames.Insert(ctx, doc); err != nil {
			s.log.WithError(err).WithField("user_id", userID).Warn("frame log write failed")
		}
	}
	return ack, nil
}

func (s *bufferService) analyzeLocked(ctx context.Context, st *monitor.UserState) (models.MinuteSummary, error) {
	sum, err := st.Analyze(s.now())
	if err != nil {
		return models.MinuteSummary{}, err
	}
	s.persistSession(ctx, st)
	return sum, nil
}

func (s *bufferService) logAnalysis(userID string, sum models.MinuteSummary) {
	s.log.WithFields(logrus.Fields{
		"user_id":      userID,
		"minute":       sum.Index,
		"avg_severity": sum.AvgSeverity,
		"trend":        sum.Trend,
		"intervention": sum.InterventionNeeded,
	}).Info("minute analysed")
}

func (s *bufferService) Analyze(ctx context.Context, userID string) (*models.MinuteSummary, error) {
	const op = "BufferService.Analyze"

	var out models.MinuteSummary
	err := s.withState(userID, func(st *monitor.UserState) error {
		sum, err := s.analyzeLocked(ctx, st)
		out = sum
		return err
	})
	if err != nil {
		return nil, wrapOp(op, err)
	}

	s.logAnalysis(strings.TrimSpace(userID), out)
	return &out, nil
}

func (s *bufferService) RecordDecision(ctx context.Context, userID, decision, reasoning string, confidence float64) (*models.MinuteSummary, error) {
	const op = "BufferService.RecordDecision"

	if confidence < 0 || confidence > 1 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "confidence must be within [0,1]", nil)
	}
	var out models.MinuteSummary
	err := s.withState(userID, func(st *monitor.UserState) error {
		out = st.RecordDecision(decision, reasoning, confidence, s.now())
		s.persistSession(ctx, st)
		return nil
	})
	if err != nil {
		return nil, wrapOp(op, err)
	}
	return &out, nil
}

func (s *bufferService) Snapshot(userID string) *monitor.UserState {
	return s.table.Snapshot(strings.TrimSpace(userID))
}

// withState runs fn on an existing user state under the user's lock.
func (s *bufferService) withState(userID string, fn func(*monitor.UserState) error) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return utils.E(utils.CodeInvalidArgument, "", "user_id is required", nil)
	}
	return s.table.With(userID, func(slot *monitor.Slot) error {
		if slot.State == nil {
			return utils.E(utils.CodePrecondition, "", "no active session for user "+userID, utils.ErrNoActiveSession)
		}
		return fn(slot.State)
	})
}

// persistSession mirrors the live record. Failures are logged only; the
// in-memory state stays authoritative.
func (s *bufferService) persistSession(ctx context.Context, st *monitor.UserState) {
	if s.sessions == nil || st.Session == nil {
		return
	}
	rec := *st.Clone().Session
	if err := s.sessions.Upsert(ctx, &rec); err != nil {
		s.log.WithError(err).WithField("session_id", rec.SessionID).Warn("session write-through failed")
	}
}

func sessionIDOf(st *monitor.UserState) string {
	if st == nil || st.Session == nil {
		return ""
	}
	return st.Session.SessionID
}
