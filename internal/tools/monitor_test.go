package tools

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dawos/agent/internal/cache"
	"github.com/dawos/agent/internal/monitor"
	"github.com/dawos/agent/internal/repositories/memory"
	"github.com/dawos/agent/internal/services"
	"github.com/dawos/agent/internal/utils"
)

func newMonitorRegistry(t *testing.T) (*Registry, *monitor.Table) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	table := monitor.NewTable()
	sessions := memory.NewSessions()
	buf := services.NewBufferService(table, memory.NewFrameLog(), sessions, log)
	sess := services.NewSessionService(table, sessions, memory.NewHistory(), cache.NewMemoryCache(), log)

	clock := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	r, err := NewDefaultRegistry(Deps{Buffer: buf, Sessions: sess, Now: func() time.Time { return clock }})
	if err != nil {
		t.Fatal(err)
	}
	return r, table
}

func mustRun(t *testing.T, r *Registry, name, input string) string {
	t.Helper()
	out, err := r.Execute(context.Background(), name, input)
	if err != nil {
		t.Fatalf("%s(%q): %v", name, input, err)
	}
	return out
}

func TestMonitorToolsSessionFlow(t *testing.T) {
	r, table := newMonitorRegistry(t)

	out := mustRun(t, r, "start_emotion_monitoring_session", "user123")
	if !strings.HasPrefix(out, "Session started for user123. Session ID: ") || !strings.Contains(out, "Status: MONITORING") {
		t.Fatalf("start: %q", out)
	}

	out = mustRun(t, r, "analyze_minute_buffer", "user123")
	if !strings.HasPrefix(out, "Error: Insufficient data") || !strings.Contains(out, "0/12") {
		t.Fatalf("early analyze: %q", out)
	}

	out = mustRun(t, r, "add_emotion_frame_to_buffer", `user123 {"emotion": "calm", "confidence": 0.9, "timestamp": 1640995200}`)
	if out != "Frame added to buffer for user123. Buffer size: 1/12 frames." {
		t.Fatalf("add: %q", out)
	}
	for i := 0; i < 10; i++ {
		mustRun(t, r, "add_emotion_frame_to_buffer", "user123 CALM")
	}
	out = mustRun(t, r, "add_emotion_frame_to_buffer", "user123 CALM")
	if !strings.HasPrefix(out, "Buffer full for user123. 12 frames") {
		t.Fatalf("full: %q", out)
	}
	out = mustRun(t, r, "add_emotion_frame_to_buffer", "user123 CALM")
	if !strings.HasPrefix(out, "Error: Buffer already holds 12/12 frames") {
		t.Fatalf("overflow: %q", out)
	}

	out = mustRun(t, r, "analyze_minute_buffer", "user123")
	for _, want := range []string{
		"Minute 1 Enhanced Analysis:",
		"- Dominant Emotion: CALM (severity: 0.2)",
		"- Trend: stable over 60 seconds",
		"- Baseline Threshold: 0.4",
		"- Intervention Needed: NO",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("analysis missing %q:\n%s", want, out)
		}
	}

	out = mustRun(t, r, "get_session_progress_trend", "user123")
	if !strings.HasPrefix(out, "Error: Insufficient data") {
		t.Fatalf("progress early: %q", out)
	}

	out = mustRun(t, r, "record_minute_summary", `user123 {"decision": "alpha_protocol", "reasoning": "increasing_anxiety_trend"}`)
	if out != "Minute 2 summary recorded: alpha_protocol (Reason: increasing_anxiety_trend)" {
		t.Fatalf("record: %q", out)
	}
	out = mustRun(t, r, "record_minute_summary", "user123 keep watching")
	if out != "Minute 3 summary recorded: keep watching (Reason: agent_decision)" {
		t.Fatalf("record text: %q", out)
	}

	out = mustRun(t, r, "get_session_progress_trend", "user123")
	for _, want := range []string{"(3 minutes)", "- Interventions: 1", "- Monitoring: 2", "- Trend: MIXED_RESPONSE",
		"- Recent Decisions: continue_monitoring, alpha_protocol, keep watching"} {
		if !strings.Contains(out, want) {
			t.Fatalf("progress missing %q:\n%s", want, out)
		}
	}

	out = mustRun(t, r, "end_session_with_summary", "user123")
	want := "Session completed for user123:\n- Duration: 1 minutes\n- Interventions: 1\n- Effectiveness: 0.8/1.0\n- Status: COMPLETED"
	if out != want {
		t.Fatalf("end:\n%s", out)
	}
	if table.Snapshot("user123") != nil {
		t.Fatal("state should be discarded after end")
	}

	out = mustRun(t, r, "end_session_with_summary", "user123")
	if out != "No active session found for user user123" {
		t.Fatalf("second end: %q", out)
	}

	out = mustRun(t, r, "get_user_session_history", "user123")
	if !strings.HasPrefix(out, "Session History for user123 (Last 1 sessions):\n- ") ||
		!strings.Contains(out, "1min, 1 interventions, effectiveness: 0.8") ||
		!strings.HasSuffix(out, "Averages: 1.0min duration, 0.80 effectiveness") {
		t.Fatalf("history:\n%s", out)
	}

	out = mustRun(t, r, "get_user_problem_patterns", "user123")
	if !strings.Contains(out, "- High-Intervention Sessions: 0/1") || !strings.HasSuffix(out, "- Identified Patterns: responds_well_to_interventions") {
		t.Fatalf("patterns:\n%s", out)
	}
}

func TestMonitorToolsWithoutSession(t *testing.T) {
	r, _ := newMonitorRegistry(t)

	cases := []struct{ tool, input, want string }{
		{"analyze_minute_buffer", "ghost", "Error: No buffer found for user ghost. Start session first."},
		{"record_minute_summary", "ghost start protocol", "Error: No active session for user ghost"},
		{"get_session_progress_trend", "ghost", "No active session for user ghost"},
		{"get_user_session_history", "ghost", "No session history found for user ghost. This appears to be their first session."},
		{"get_user_problem_patterns", "ghost", "No historical data for pattern analysis. User ghost appears to be new."},
	}
	for _, tc := range cases {
		t.Run(tc.tool, func(t *testing.T) {
			if out := mustRun(t, r, tc.tool, tc.input); out != tc.want {
				t.Fatalf("got %q", out)
			}
		})
	}
}

func TestMonitorToolsInputErrors(t *testing.T) {
	r, _ := newMonitorRegistry(t)
	ctx := context.Background()

	cases := []struct{ tool, input string }{
		{"add_emotion_frame_to_buffer", "user123"},
		{"add_emotion_frame_to_buffer", `user123 {"emotion": "CALM", "confidence": 3}`},
		{"add_emotion_frame_to_buffer", `user123 {"confidence": 0.5}`},
		{"record_minute_summary", "user123"},
		{"record_minute_summary", `user123 {"decision": `},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			if _, err := r.Execute(ctx, tc.tool, tc.input); err == nil {
				t.Fatal("want tool error")
			}
		})
	}

	// a frame without a session still buffers
	out := mustRun(t, r, "add_emotion_frame_to_buffer", `"user9", ANXIETY`)
	if out != "Frame added to buffer for user9. Buffer size: 1/12 frames." {
		t.Fatalf("got %q", out)
	}
	if _, err := r.Execute(ctx, "analyze_minute_buffer", "user9"); utils.IsCode(err, utils.CodeInternal) {
		t.Fatalf("unexpected internal error: %v", err)
	}
}
