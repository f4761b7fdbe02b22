package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dawos/agent/internal/agent"
	"github.com/dawos/agent/internal/models"
	"github.com/dawos/agent/internal/utils"
)

const (
	MaxChatTurns        = 10
	decideTurns         = 3
	consultTurns        = 3
	minuteAnalysisTurns = 5
)

// Executor runs blocking work off the request path and waits for it.
// workers.Pool satisfies it.
type Executor interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

type AgentReply struct {
	RunID     string `json:"run_id,omitempty"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	*agent.Result
}

type AgentService interface {
	Chat(ctx context.Context, userID, message string, maxTurns int) (*AgentReply, error)
	AnalyzeAndDecide(ctx context.Context, userID, emotion string, confidencePct float64) (*AgentReply, error)
	MinuteAnalysis(ctx context.Context, userID string) (*AgentReply, error)
	Consult(ctx context.Context, userID string, sum models.MinuteSummary) (*AgentReply, error)
	Tools() []agent.ToolDoc
}

type agentService struct {
	ctrl   *agent.Controller
	docs   []agent.ToolDoc
	exec   Executor
	buffer BufferService
	runs   RunService
	log    *logrus.Logger
}

// NewAgentService runs queries on exec. runs may be nil to skip the run log;
// a nil exec runs queries on the caller's goroutine.
func NewAgentService(ctrl *agent.Controller, docs []agent.ToolDoc, exec Executor, buffer BufferService, runs RunService, log *logrus.Logger) AgentService {
	if log == nil {
		log = logrus.New()
	}
	return &agentService{ctrl: ctrl, docs: docs, exec: exec, buffer: buffer, runs: runs, log: log}
}

func (s *agentService) Chat(ctx context.Context, userID, message string, maxTurns int) (*AgentReply, error) {
	const op = "AgentService.Chat"

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "message is required", nil)
	}
	if maxTurns < 0 || maxTurns > MaxChatTurns {
		return nil, utils.E(utils.CodeInvalidArgument, op, fmt.Sprintf("max_turns must be between 1 and %d", MaxChatTurns), nil)
	}
	if maxTurns == 0 {
		maxTurns = s.ctrl.MaxTurns()
	}

	userID = strings.TrimSpace(userID)
	sessionID := s.sessionID(userID)
	return s.run(ctx, op, userID, sessionID, RunChat, maxTurns, chatQuestion(userID, sessionID, message))
}

func (s *agentService) AnalyzeAndDecide(ctx context.Context, userID, emotion string, confidencePct float64) (*AgentReply, error) {
	const op = "AgentService.AnalyzeAndDecide"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	if confidencePct < 0 || confidencePct > 100 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "confidence_score must be within [0,100]", nil)
	}
	emotion = strings.TrimSpace(emotion)
	if emotion == "" {
		emotion = "UNKNOWN"
	}

	q := fmt.Sprintf("User %s emotion analysis: %s (%g%% confidence).\n\n"+
		"Recommend optimal neurotherapy frequency based on this emotional state. Use academic research and user history. Be concise.",
		userID, emotion, confidencePct)
	return s.run(ctx, op, userID, s.sessionID(userID), RunAnalyzeAndDecide, decideTurns, q)
}

func (s *agentService) MinuteAnalysis(ctx context.Context, userID string) (*AgentReply, error) {
	const op = "AgentService.MinuteAnalysis"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	q := fmt.Sprintf("Please analyze the current minute buffer for user %s. "+
		"Determine if intervention is needed based on the 60-second emotion data and academic research.", userID)
	return s.run(ctx, op, userID, s.sessionID(userID), RunChat, minuteAnalysisTurns, q)
}

// Consult asks the agent for an intervention after a window crossed the
// intervention rules. It runs on the caller's goroutine; background callers
// schedule it on the worker pool themselves.
func (s *agentService) Consult(ctx context.Context, userID string, sum models.MinuteSummary) (*AgentReply, error) {
	const op = "AgentService.Consult"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	q := fmt.Sprintf("User %s minute %d analysis: dominant emotion %s, average severity %.3f, volatility %.3f, trend %s, threshold %.3f. "+
		"Intervention is needed. Recommend an intervention protocol backed by academic research and the user's history. Be concise.",
		userID, sum.Index, sum.DominantEmotion, sum.AvgSeverity, sum.Volatility, sum.Trend, sum.BaselineThreshold)
	return s.runWith(ctx, nil, op, userID, s.sessionID(userID), RunFrameConsult, consultTurns, q)
}

func (s *agentService) Tools() []agent.ToolDoc {
	return append([]agent.ToolDoc(nil), s.docs...)
}

func (s *agentService) run(ctx context.Context, op, userID, sessionID, kind string, maxTurns int, question string) (*AgentReply, error) {
	return s.runWith(ctx, s.exec, op, userID, sessionID, kind, maxTurns, question)
}

// runWith executes the query on exec, or inline when exec is nil.
func (s *agentService) runWith(ctx context.Context, exec Executor, op, userID, sessionID, kind string, maxTurns int, question string) (*AgentReply, error) {
	ctrl := s.ctrl.WithMaxTurns(maxTurns)

	var res *agent.Result
	work := func(ctx context.Context) error {
		res = ctrl.Run(ctx, question)
		return nil
	}
	var err error
	if exec != nil {
		err = exec.Do(ctx, work)
	} else {
		err = work(ctx)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, utils.E(utils.CodeTimeout, op, "agent query timed out waiting for a worker", err)
		}
		return nil, utils.E(utils.CodeUnavailable, op, "agent worker pool unavailable", err)
	}

	out := &AgentReply{UserID: userID, SessionID: sessionID, Result: res}
	if s.runs != nil && userID != "" {
		row, err := s.runs.Record(ctx, userID, sessionID, kind, res)
		if err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"user_id": userID, "kind": kind}).Warn("agent run not recorded")
		} else {
			out.RunID = row.ID
		}
	}

	s.log.WithFields(logrus.Fields{
		"user_id":     userID,
		"kind":        kind,
		"turns":       res.TurnsUsed,
		"success":     res.Success,
		"error_count": res.ErrorCount,
	}).Info("agent query finished")
	return out, nil
}

func (s *agentService) sessionID(userID string) string {
	if userID == "" || s.buffer == nil {
		return ""
	}
	return sessionIDOf(s.buffer.Snapshot(userID))
}

func chatQuestion(userID, sessionID, message string) string {
	switch {
	case userID != "" && sessionID != "":
		return fmt.Sprintf("User Context:\n- User ID: %s\n- Session ID: %s\n- Message: %s\n\n"+
			"Please respond considering the user's active session and any available history.\n"+
			"Use appropriate tools to check session status, user patterns, and provide personalized assistance.",
			userID, sessionID, message)
	case userID != "":
		return fmt.Sprintf("User Context:\n- User ID: %s\n- Message: %s\n\n"+
			"Please respond considering this user's history and patterns if available.\n"+
			"Use appropriate tools to check user background and provide personalized assistance.",
			userID, message)
	default:
		return message
	}
}
