package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/dawos/agent/internal/models"
	"github.com/dawos/agent/internal/monitor"
	"github.com/dawos/agent/internal/services"
	"github.com/dawos/agent/internal/utils"
)

const defaultDecisionConfidence = 0.8

// splitUser reads "<user_id> <rest>".
func splitUser(input string) (string, string) {
	input = strings.TrimSpace(input)
	user, rest, _ := strings.Cut(input, " ")
	user = strings.Trim(user, `"',`)
	return user, strings.TrimSpace(rest)
}

func requireUser(input string) error {
	if user, _ := splitUser(input); user == "" {
		return errors.New("user id is required")
	}
	return nil
}

func requireUserAndPayload(input string) error {
	user, rest := splitUser(input)
	switch {
	case user == "":
		return errors.New("user id is required")
	case rest == "":
		return errors.New("expected <user_id> <payload>")
	}
	return nil
}

// observe turns state-machine errors into observations the agent can
// reason about; anything else stays a tool failure.
func observe(err error, noSession string) (string, error) {
	switch {
	case errors.Is(err, utils.ErrNoActiveSession) && noSession != "":
		return noSession, nil
	case utils.IsCode(err, utils.CodePrecondition), utils.IsCode(err, utils.CodeNotFound):
		var ae *utils.AppError
		msg := err.Error()
		if errors.As(err, &ae) && ae.Message != "" {
			msg = ae.Message
		}
		return "Error: " + upperFirst(msg), nil
	}
	return "", err
}

func upperFirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if n == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}

func AddFrame(buf services.BufferService, now func() time.Time) Tool {
	return Tool{
		Name:        "add_emotion_frame_to_buffer",
		Description: "Adds one emotion frame to the user's current minute buffer. Input: <user_id> <frame JSON or emotion label>. 12 frames make a minute.",
		Example:     `user123 {"emotion": "ANXIETY", "confidence": 0.75, "timestamp": 1640995200}`,
		Validate:    requireUserAndPayload,
		Run: func(ctx context.Context, input string) (string, error) {
			user, payload := splitUser(input)
			frame, err := monitor.ParseFrame(payload, now())
			if err != nil {
				return "", err
			}
			ack, err := buf.AddFrame(ctx, user, frame)
			if err != nil {
				return observe(err, "")
			}
			if ack.Ready {
				return fmt.Sprintf("Buffer full for %s. %d frames collected over 60 seconds. Ready for minute analysis.", user, ack.Fill), nil
			}
			return fmt.Sprintf("Frame added to buffer for %s. Buffer size: %d/%d frames.", user, ack.Fill, ack.Capacity), nil
		},
	}
}

func AnalyzeMinute(buf services.BufferService) Tool {
	return Tool{
		Name:        "analyze_minute_buffer",
		Description: "Analyses the user's full 12-frame buffer: severity, volatility, trend, baseline and whether intervention is needed.",
		Example:     "user123",
		Validate:    requireUser,
		Run: func(ctx context.Context, input string) (string, error) {
			user, _ := splitUser(input)
			sum, err := buf.Analyze(ctx, user)
			if err != nil {
				return observe(err, fmt.Sprintf("Error: No buffer found for user %s. Start session first.", user))
			}
			return FormatAnalysis(sum), nil
		},
	}
}

// FormatAnalysis renders an analysis summary as the agent sees it.
func FormatAnalysis(s *models.MinuteSummary) string {
	need := "NO"
	if s.InterventionNeeded {
		need = "YES"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Minute %d Enhanced Analysis:\n", s.Index)
	fmt.Fprintf(&b, "- Dominant Emotion: %s (severity: %g)\n", s.DominantEmotion, s.AvgSeverity)
	fmt.Fprintf(&b, "- Volatility: %g (emotional stability indicator)\n", s.Volatility)
	fmt.Fprintf(&b, "- Trend: %s over 60 seconds\n", s.Trend)
	fmt.Fprintf(&b, "- Baseline Threshold: %g\n", s.BaselineThreshold)
	fmt.Fprintf(&b, "- Risk Factors: Volatility=%t, Above_Baseline=%t, Rapid_Change=%t\n",
		s.RiskFactors.HighVolatility, s.RiskFactors.AboveBaseline, s.RiskFactors.RapidChange)
	fmt.Fprintf(&b, "- Intervention Needed: %s", need)
	return b.String()
}

type decisionInput struct {
	Decision   string   `json:"decision"`
	Reasoning  string   `json:"reasoning"`
	Confidence *float64 `json:"confidence"`
}

func RecordSummary(buf services.BufferService) Tool {
	return Tool{
		Name:        "record_minute_summary",
		Description: "Records the agent's decision for the current minute. Input: <user_id> <decision JSON or text>.",
		Example:     `user123 {"decision": "alpha_protocol", "reasoning": "increasing_anxiety_trend"}`,
		Validate:    requireUserAndPayload,
		Run: func(ctx context.Context, input string) (string, error) {
			user, payload := splitUser(input)

			in := decisionInput{Decision: payload, Reasoning: "agent_decision"}
			if strings.HasPrefix(payload, "{") {
				in = decisionInput{}
				if err := json.Unmarshal([]byte(payload), &in); err != nil {
					return "", fmt.Errorf("malformed decision JSON: %w", err)
				}
			}
			conf := defaultDecisionConfidence
			if in.Confidence != nil {
				conf = *in.Confidence
			}

			sum, err := buf.RecordDecision(ctx, user, in.Decision, in.Reasoning, conf)
			if err != nil {
				return observe(err, fmt.Sprintf("Error: No active session for user %s", user))
			}
			return fmt.Sprintf("Minute %d summary recorded: %s (Reason: %s)", sum.Index, sum.Decision, sum.Reasoning), nil
		},
	}
}

func StartSession(sessions services.SessionService) Tool {
	return Tool{
		Name:        "start_emotion_monitoring_session",
		Description: "Starts a new monitoring session for the user, replacing any session in progress.",
		Example:     "user123",
		Validate:    requireUser,
		Run: func(ctx context.Context, input string) (string, error) {
			user, _ := splitUser(input)
			rec, err := sessions.Start(ctx, user)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Session started for %s. Session ID: %s. Status: %s. Ready for emotion frames (5-second intervals).",
				user, rec.SessionID, rec.Status), nil
		},
	}
}

func SessionProgress(sessions services.SessionService) Tool {
	return Tool{
		Name:        "get_session_progress_trend",
		Description: "Reports the session's decisions so far and its overall trend. Needs at least 2 recorded minutes.",
		Example:     "user123",
		Validate:    requireUser,
		Run: func(ctx context.Context, input string) (string, error) {
			user, _ := splitUser(input)
			p, err := sessions.Progress(ctx, user)
			if err != nil {
				return observe(err, "No active session for user "+user)
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Session Progress Analysis (%d minutes):\n", p.Summaries)
			fmt.Fprintf(&b, "- Total Minutes: %d\n", p.Summaries)
			fmt.Fprintf(&b, "- Interventions: %d\n", p.Interventions)
			fmt.Fprintf(&b, "- Monitoring: %d\n", p.Monitoring)
			fmt.Fprintf(&b, "- Trend: %s\n", p.Trend)
			fmt.Fprintf(&b, "- Recent Decisions: %s", strings.Join(p.RecentDecisions, ", "))
			return b.String(), nil
		},
	}
}

func EndSession(sessions services.SessionService) Tool {
	return Tool{
		Name:        "end_session_with_summary",
		Description: "Ends the user's session, stores its summary in history and reports effectiveness.",
		Example:     "user123",
		Validate:    requireUser,
		Run: func(ctx context.Context, input string) (string, error) {
			user, _ := splitUser(input)
			res, err := sessions.End(ctx, user)
			if err != nil {
				return observe(err, "No active session found for user "+user)
			}
			s := res.Summary
			var b strings.Builder
			fmt.Fprintf(&b, "Session completed for %s:\n", user)
			fmt.Fprintf(&b, "- Duration: %d minutes\n", s.DurationMinutes)
			fmt.Fprintf(&b, "- Interventions: %d\n", s.TotalInterventions)
			fmt.Fprintf(&b, "- Effectiveness: %.1f/1.0\n", s.EffectivenessScore)
			fmt.Fprintf(&b, "- Status: %s", s.Status)
			return b.String(), nil
		},
	}
}

func SessionHistory(sessions services.SessionService) Tool {
	return Tool{
		Name:        "get_user_session_history",
		Description: "Lists the user's last 5 sessions with averages.",
		Example:     "user123",
		Validate:    requireUser,
		Run: func(ctx context.Context, input string) (string, error) {
			user, _ := splitUser(input)
			h, err := sessions.History(ctx, user, 0)
			if err != nil {
				return "", err
			}
			if len(h.Sessions) == 0 {
				return fmt.Sprintf("No session history found for user %s. This appears to be their first session.", user), nil
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Session History for %s (Last %d sessions):\n", user, len(h.Sessions))
			for _, s := range h.Sessions {
				fmt.Fprintf(&b, "- %s: %dmin, %d interventions, effectiveness: %.1f\n",
					s.EndTime.Format("2006-01-02"), s.DurationMinutes, s.TotalInterventions, s.EffectivenessScore)
			}
			fmt.Fprintf(&b, "\nAverages: %.1fmin duration, %.2f effectiveness", h.AvgDuration, h.AvgEffectiveness)
			return b.String(), nil
		},
	}
}

func ProblemPatterns(sessions services.SessionService) Tool {
	return Tool{
		Name:        "get_user_problem_patterns",
		Description: "Derives recurring patterns (fluctuations, intervention response) from the user's session history.",
		Example:     "user123",
		Validate:    requireUser,
		Run: func(ctx context.Context, input string) (string, error) {
			user, _ := splitUser(input)
			p, err := sessions.Patterns(ctx, user)
			if err != nil {
				return "", err
			}
			if p.TotalSessions == 0 {
				return fmt.Sprintf("No historical data for pattern analysis. User %s appears to be new.", user), nil
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Problem Patterns for %s:\n", user)
			fmt.Fprintf(&b, "- Total Sessions: %d\n", p.TotalSessions)
			fmt.Fprintf(&b, "- High-Intervention Sessions: %d/%d\n", p.HighInterventionSessions, p.TotalSessions)
			fmt.Fprintf(&b, "- Average Effectiveness: %.2f\n", p.AvgEffectiveness)
			fmt.Fprintf(&b, "- Identified Patterns: %s", strings.Join(p.Patterns, ", "))
			return b.String(), nil
		},
	}
}
