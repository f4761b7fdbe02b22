package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dawos/agent/internal/cache"
	"github.com/dawos/agent/internal/models"
	"github.com/dawos/agent/internal/monitor"
	mongorepo "github.com/dawos/agent/internal/repositories/mongo"
	"github.com/dawos/agent/internal/utils"
)

const (
	defaultHistoryLimit = 5
	historyCacheDepth   = 20
	historyCacheTTL     = 10 * time.Minute
)

// Problem pattern labels.
const (
	PatternFrequentFluctuations = "frequent_emotional_fluctuations"
	PatternRespondsWell         = "responds_well_to_interventions"
	PatternResistance           = "intervention_resistance"
	PatternStableBaseline       = "stable_baseline"
)

type SessionProgress struct {
	UserID          string   `json:"user_id"`
	SessionID       string   `json:"session_id,omitempty"`
	TotalMinutes    int      `json:"total_minutes"`
	Summaries       int      `json:"total_minutes_analyzed"`
	Interventions   int      `json:"interventions_triggered"`
	Monitoring      int      `json:"monitoring_periods"`
	Trend           string   `json:"overall_trend"`
	RecentDecisions []string `json:"recent_decisions"`
}

type EndResult struct {
	HistoryID string                `json:"history_id"`
	Summary   models.SessionSummary `json:"summary"`
	Record    models.SessionRecord  `json:"record"`
}

type UserHistory struct {
	UserID           string                  `json:"user_id"`
	Sessions         []models.SessionSummary `json:"sessions"`
	AvgDuration      float64                 `json:"avg_session_duration"`
	AvgInterventions float64                 `json:"avg_interventions_per_session"`
	AvgEffectiveness float64                 `json:"avg_effectiveness"`
}

type ProblemPatterns struct {
	UserID                   string   `json:"user_id"`
	TotalSessions            int      `json:"total_sessions"`
	HighInterventionSessions int      `json:"high_intervention_sessions"`
	AvgEffectiveness         float64  `json:"avg_effectiveness"`
	Patterns                 []string `json:"identified_patterns"`
}

type SessionService interface {
	Start(ctx context.Context, userID string) (*models.SessionRecord, error)
	Progress(ctx context.Context, userID string) (*SessionProgress, error)
	End(ctx context.Context, userID string) (*EndResult, error)
	History(ctx context.Context, userID string, limit int) (*UserHistory, error)
	Patterns(ctx context.Context, userID string) (*ProblemPatterns, error)
}

type sessionService struct {
	table    *monitor.Table
	sessions mongorepo.SessionRepository
	history  mongorepo.HistoryRepository
	cache    cache.Cache
	log      *logrus.Logger
	now      func() time.Time
	newID    func() string
}

// NewSessionService requires a history store; sessions and c may be nil.
func NewSessionService(table *monitor.Table, sessions mongorepo.SessionRepository, history mongorepo.HistoryRepository, c cache.Cache, log *logrus.Logger) SessionService {
	if log == nil {
		log = logrus.New()
	}
	return &sessionService{
		table:    table,
		sessions: sessions,
		history:  history,
		cache:    c,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

func (s *sessionService) Start(ctx context.Context, userID string) (*models.SessionRecord, error) {
	const op = "SessionService.Start"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	var rec models.SessionRecord
	_ = s.table.With(userID, func(slot *monitor.Slot) error {
		if slot.State != nil && slot.State.Session != nil {
			s.log.WithFields(logrus.Fields{"user_id": userID, "session_id": slot.State.Session.SessionID}).
				Info("restart overwrites in-progress session")
		}
		slot.State = monitor.NewSession(s.newID(), userID, s.now())
		rec = *slot.State.Clone().Session

		if s.sessions != nil {
			if err := s.sessions.Upsert(ctx, &rec); err != nil {
				s.log.WithError(err).WithField("session_id", rec.SessionID).Warn("session write-through failed")
			}
		}
		return nil
	})

	s.log.WithFields(logrus.Fields{"user_id": userID, "session_id": rec.SessionID}).Info("monitoring session started")
	return &rec, nil
}

func (s *sessionService) Progress(ctx context.Context, userID string) (*SessionProgress, error) {
	const op = "SessionService.Progress"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	st := s.table.Snapshot(userID)
	if st == nil {
		return nil, utils.E(utils.CodePrecondition, op, "no active session for user "+userID, utils.ErrNoActiveSession)
	}
	p, err := st.Progress()
	if err != nil {
		return nil, wrapOp(op, err)
	}

	out := &SessionProgress{
		UserID:          userID,
		Summaries:       p.Summaries,
		Interventions:   p.Interventions,
		Monitoring:      p.Monitoring,
		Trend:           p.Trend,
		RecentDecisions: p.RecentDecisions,
	}
	if st.Session != nil {
		out.SessionID = st.Session.SessionID
		out.TotalMinutes = st.Session.TotalMinutes
	}
	return out, nil
}

// End persists the summary before touching live state. A failed history
// write leaves the session MONITORING so the caller can retry.
func (s *sessionService) End(ctx context.Context, userID string) (*EndResult, error) {
	const op = "SessionService.End"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	var out EndResult
	err := s.table.With(userID, func(slot *monitor.Slot) error {
		if slot.State == nil {
			return utils.E(utils.CodePrecondition, op, "no active session for user "+userID, utils.ErrNoActiveSession)
		}
		now := s.now()
		summary, err := slot.State.Close(now)
		if err != nil {
			return err
		}

		id, err := s.history.Insert(ctx, &summary)
		if err != nil {
			return utils.E(utils.CodeUnavailable, op, "failed to persist session summary", err)
		}

		rec, err := slot.State.Complete(now)
		if err != nil {
			return err
		}
		if s.sessions != nil {
			if err := s.sessions.Complete(ctx, rec.SessionID, now); err != nil {
				s.log.WithError(err).WithField("session_id", rec.SessionID).Warn("session completion write failed")
			}
		}
		slot.State = nil

		out = EndResult{HistoryID: id, Summary: summary, Record: rec}
		return nil
	})
	if err != nil {
		return nil, wrapOp(op, err)
	}

	if s.cache != nil {
		if err := s.cache.Del(ctx, historyKey(userID)); err != nil {
			s.log.WithError(err).WithField("user_id", userID).Warn("history cache invalidation failed")
		}
	}

	s.log.WithFields(logrus.Fields{
		"user_id":       userID,
		"session_id":    out.Record.SessionID,
		"history_id":    out.HistoryID,
		"minutes":       out.Summary.DurationMinutes,
		"interventions": out.Summary.TotalInterventions,
	}).Info("monitoring session ended")
	return &out, nil
}

func (s *sessionService) History(ctx context.Context, userID string, limit int) (*UserHistory, error) {
	const op = "SessionService.History"

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	all, err := s.recent(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	if len(all) > limit {
		all = all[:limit]
	}

	out := &UserHistory{UserID: strings.TrimSpace(userID), Sessions: all}
	if len(all) == 0 {
		out.Sessions = []models.SessionSummary{}
		return out, nil
	}
	var dur, iv, eff float64
	for _, h := range all {
		dur += float64(h.DurationMinutes)
		iv += float64(h.TotalInterventions)
		eff += h.EffectivenessScore
	}
	n := float64(len(all))
	out.AvgDuration = dur / n
	out.AvgInterventions = iv / n
	out.AvgEffectiveness = eff / n
	return out, nil
}

func (s *sessionService) Patterns(ctx context.Context, userID string) (*ProblemPatterns, error) {
	const op = "SessionService.Patterns"

	all, err := s.recent(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	return detectPatterns(strings.TrimSpace(userID), all), nil
}

func detectPatterns(userID string, sessions []models.SessionSummary) *ProblemPatterns {
	out := &ProblemPatterns{UserID: userID, TotalSessions: len(sessions), Patterns: []string{}}
	if len(sessions) == 0 {
		return out
	}

	var eff float64
	for _, h := range sessions {
		if h.TotalInterventions > 2 {
			out.HighInterventionSessions++
		}
		eff += h.EffectivenessScore
	}
	out.AvgEffectiveness = eff / float64(len(sessions))

	// more than 60% of sessions
	if out.HighInterventionSessions*5 > len(sessions)*3 {
		out.Patterns = append(out.Patterns, PatternFrequentFluctuations)
	}
	switch {
	case out.AvgEffectiveness > 0.7:
		out.Patterns = append(out.Patterns, PatternRespondsWell)
	case out.AvgEffectiveness < 0.5:
		out.Patterns = append(out.Patterns, PatternResistance)
	}
	if len(out.Patterns) == 0 {
		out.Patterns = append(out.Patterns, PatternStableBaseline)
	}
	return out
}

func (s *sessionService) recent(ctx context.Context, op, userID string) ([]models.SessionSummary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	list, err := cache.Load(ctx, s.cache, historyKey(userID), historyCacheTTL, func(ctx context.Context) ([]models.SessionSummary, error) {
		return s.history.ListByUser(ctx, userID, historyCacheDepth)
	})
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to load session history", err)
	}
	return list, nil
}

func historyKey(userID string) string { return cache.Key("history", userID) }
