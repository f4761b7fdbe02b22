package monitor

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dawos/agent/internal/models"
	"github.com/dawos/agent/internal/utils"
)

// Overall session trend labels reported by Progress.
const (
	ProgressInterventionHeavy = "INTERVENTION_HEAVY"
	ProgressStableMonitoring  = "STABLE_MONITORING"
	ProgressMixedResponse     = "MIXED_RESPONSE"
)

// Decision labels given to analysis windows.
const (
	DecisionIntervene = "intervention_recommended"
	DecisionMonitor   = "continue_monitoring"
)

const (
	effectivenessWithIntervention = 0.8
	effectivenessMonitoringOnly   = 0.6
	recentDecisionCount           = 3
)

// UserState is the per-user buffer/session aggregate. It is not safe for
// concurrent use; Table serializes access per user.
type UserState struct {
	Buffer    []models.EmotionFrame
	Summaries []models.MinuteSummary

	BaselineEstablished bool
	BaselineScore       float64
	BaselineSamples     []float64

	// Session is nil when the state was created by a frame without an
	// explicit session start.
	Session *models.SessionRecord
}

// NewUserState returns an empty state with the default baseline.
func NewUserState() *UserState {
	return &UserState{BaselineScore: DefaultBaseline}
}

// NewSession returns a fresh state with a MONITORING session record.
func NewSession(sessionID, userID string, now time.Time) *UserState {
	st := NewUserState()
	st.Session = &models.SessionRecord{
		SessionID:     sessionID,
		UserID:        userID,
		Status:        models.SessionMonitoring,
		Interventions: []models.Intervention{},
		StartTime:     now,
	}
	return st
}

// Ready reports whether the current window is full and awaiting analysis.
func (s *UserState) Ready() bool { return len(s.Buffer) >= WindowSize }

// AddFrame appends a frame and returns the new fill level. A full window
// must be analysed before more frames are accepted.
func (s *UserState) AddFrame(f models.EmotionFrame) (int, error) {
	const op = "monitor.AddFrame"
	if s.Ready() {
		return len(s.Buffer), utils.E(utils.CodePrecondition, op,
			fmt.Sprintf("buffer already holds %d/%d frames; analyze it first", len(s.Buffer), WindowSize),
			utils.ErrBufferFull)
	}
	f.Emotion = NormalizeEmotion(f.Emotion)
	s.Buffer = append(s.Buffer, f)
	return len(s.Buffer), nil
}

// Threshold is the severity above which a window counts as above baseline.
func (s *UserState) Threshold() float64 {
	if s.BaselineEstablished {
		return s.BaselineScore + BaselineMargin
	}
	return InitialThreshold
}

// Analyze turns a full window into a MinuteSummary, appends it and clears
// the buffer. On error the state is left untouched.
func (s *UserState) Analyze(now time.Time) (models.MinuteSummary, error) {
	const op = "monitor.Analyze"
	if len(s.Buffer) < WindowSize {
		return models.MinuteSummary{}, utils.E(utils.CodePrecondition, op,
			fmt.Sprintf("insufficient data: buffer has %d/%d frames, need a full minute", len(s.Buffer), WindowSize),
			utils.ErrInsufficientBuffer)
	}

	st := computeStats(orderedWindow(s.Buffer[:WindowSize]))
	threshold := s.Threshold()
	rf := models.RiskFactors{
		HighVolatility: st.volatility > volatilityLimit,
		AboveBaseline:  st.meanSeverity > threshold,
		RapidChange:    isRapid(st.trend),
	}
	needed := interventionNeeded(rf, st.trend, st.meanSeverity)

	decision := DecisionMonitor
	if needed {
		decision = DecisionIntervene
	}
	sum := models.MinuteSummary{
		Index:              len(s.Summaries) + 1,
		Kind:               models.SummaryAnalysis,
		DominantEmotion:    st.dominant,
		AvgSeverity:        round3(st.meanSeverity),
		AvgConfidence:      round3(st.meanConf),
		Volatility:         round3(st.volatility),
		Trend:              st.trend,
		BaselineThreshold:  round3(threshold),
		InterventionNeeded: needed,
		RiskFactors:        rf,
		Decision:           decision,
		Reasoning:          "window_analysis",
		RecordedAt:         now,
	}

	if !s.BaselineEstablished {
		s.BaselineSamples = append(s.BaselineSamples, sum.AvgSeverity)
		if len(s.BaselineSamples) >= BaselineWindows {
			var total float64
			for _, v := range s.BaselineSamples[:BaselineWindows] {
				total += v
			}
			s.BaselineScore = total / BaselineWindows
			s.BaselineEstablished = true
		}
	}

	s.Summaries = append(s.Summaries, sum)
	s.Buffer = nil
	if s.Session != nil {
		s.Session.TotalMinutes++
	}
	s.noteIntervention(sum)
	return sum, nil
}

// orderedWindow copies the window sorted by timestamp. Frames that share a
// timestamp keep their arrival order.
func orderedWindow(frames []models.EmotionFrame) []models.EmotionFrame {
	out := append([]models.EmotionFrame(nil), frames...)
	slices.SortStableFunc(out, func(a, b models.EmotionFrame) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out
}

// RecordDecision appends an externally made decision, independent of the
// window statistics.
func (s *UserState) RecordDecision(decision, reasoning string, confidence float64, now time.Time) models.MinuteSummary {
	if strings.TrimSpace(decision) == "" {
		decision = DecisionMonitor
	}
	if strings.TrimSpace(reasoning) == "" {
		reasoning = "agent_decision"
	}
	sum := models.MinuteSummary{
		Index:           len(s.Summaries) + 1,
		Kind:            models.SummaryDecision,
		Decision:        decision,
		Reasoning:       reasoning,
		AgentConfidence: confidence,
		RecordedAt:      now,
	}
	s.Summaries = append(s.Summaries, sum)
	s.noteIntervention(sum)
	return sum
}

func (s *UserState) noteIntervention(sum models.MinuteSummary) {
	if s.Session == nil || !IsIntervention(sum.Decision) {
		return
	}
	s.Session.Interventions = append(s.Session.Interventions, models.Intervention{
		Minute:    sum.Index,
		Decision:  sum.Decision,
		Reasoning: sum.Reasoning,
		At:        sum.RecordedAt,
	})
}

// IsIntervention reports whether a decision label names an intervention.
func IsIntervention(decision string) bool {
	d := strings.ToLower(decision)
	return strings.Contains(d, "protocol") || strings.Contains(d, "intervention")
}

type Progress struct {
	Summaries       int
	Interventions   int
	Monitoring      int
	Trend           string
	RecentDecisions []string
}

// Progress classifies the session so far. It needs at least two summaries.
func (s *UserState) Progress() (Progress, error) {
	const op = "monitor.Progress"
	if len(s.Summaries) < 2 {
		return Progress{}, utils.E(utils.CodePrecondition, op,
			fmt.Sprintf("insufficient data: need at least 2 minutes for trend analysis, have %d", len(s.Summaries)),
			utils.ErrInsufficientBuffer)
	}

	p := Progress{Summaries: len(s.Summaries)}
	decisions := make([]string, 0, len(s.Summaries))
	for _, sum := range s.Summaries {
		decisions = append(decisions, sum.Decision)
		if IsIntervention(sum.Decision) {
			p.Interventions++
		}
	}
	p.Monitoring = len(decisions) - p.Interventions

	switch {
	case p.Interventions > p.Monitoring:
		p.Trend = ProgressInterventionHeavy
	case p.Interventions == 0:
		p.Trend = ProgressStableMonitoring
	default:
		p.Trend = ProgressMixedResponse
	}

	start := len(decisions) - recentDecisionCount
	if start < 0 {
		start = 0
	}
	p.RecentDecisions = decisions[start:]
	return p, nil
}

// Close builds the end-of-session summary. It does not mutate the state;
// the caller completes the record once the summary is persisted.
func (s *UserState) Close(now time.Time) (models.SessionSummary, error) {
	const op = "monitor.Close"
	if s.Session == nil {
		return models.SessionSummary{}, utils.E(utils.CodePrecondition, op, "no active session", utils.ErrNoActiveSession)
	}

	interventions := 0
	for _, sum := range s.Summaries {
		if IsIntervention(sum.Decision) {
			interventions++
		}
	}
	eff := effectivenessMonitoringOnly
	if interventions > 0 {
		eff = effectivenessWithIntervention
	}

	return models.SessionSummary{
		SessionID:          s.Session.SessionID,
		UserID:             s.Session.UserID,
		DurationMinutes:    s.Session.TotalMinutes,
		TotalInterventions: interventions,
		EffectivenessScore: eff,
		Status:             models.SessionCompleted,
		StartTime:          s.Session.StartTime,
		EndTime:            now,
	}, nil
}

// Clone returns a deep copy safe to read outside the table lock.
func (s *UserState) Clone() *UserState {
	out := &UserState{
		Buffer:              append([]models.EmotionFrame(nil), s.Buffer...),
		Summaries:           append([]models.MinuteSummary(nil), s.Summaries...),
		BaselineEstablished: s.BaselineEstablished,
		BaselineScore:       s.BaselineScore,
		BaselineSamples:     append([]float64(nil), s.BaselineSamples...),
	}
	if s.Session != nil {
		sess := *s.Session
		sess.Interventions = append([]models.Intervention(nil), s.Session.Interventions...)
		if s.Session.EndTime != nil {
			t := *s.Session.EndTime
			sess.EndTime = &t
		}
		out.Session = &sess
	}
	return out
}

// Complete marks the session COMPLETED and returns a copy of the closed record.
func (s *UserState) Complete(now time.Time) (models.SessionRecord, error) {
	const op = "monitor.Complete"
	if s.Session == nil {
		return models.SessionRecord{}, utils.E(utils.CodePrecondition, op, "no active session", utils.ErrNoActiveSession)
	}
	end := now
	s.Session.Status = models.SessionCompleted
	s.Session.EndTime = &end
	rec := *s.Clone().Session
	return rec, nil
}
