package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dawos/agent/internal/agent"
	"github.com/dawos/agent/internal/models"
	"github.com/dawos/agent/internal/monitor"
	"github.com/dawos/agent/internal/providers/llm"
	"github.com/dawos/agent/internal/utils"
)

// echoLLM answers immediately and remembers the user question.
type echoLLM struct {
	mu        sync.Mutex
	questions []string
}

func (e *echoLLM) Complete(ctx context.Context, turns []models.Turn, _ llm.Params) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range turns {
		if t.Role == models.RoleUser {
			e.questions = append(e.questions, t.Content)
			break
		}
	}
	return "Answer: keep breathing slowly", nil
}

func (e *echoLLM) Close() error { return nil }

type noTools struct{}

func (noTools) Has(string) bool { return false }
func (noTools) Names() []string { return nil }
func (noTools) Execute(context.Context, string, string) (string, error) {
	return "", errors.New("no tools")
}

type countingExec struct {
	calls int
	err   error
}

func (c *countingExec) Do(ctx context.Context, fn func(context.Context) error) error {
	c.calls++
	if c.err != nil {
		return c.err
	}
	return fn(ctx)
}

func newAgentFixture(exec Executor) (*agentService, *echoLLM, *monitor.Table, *fakeRunRepo) {
	model := &echoLLM{}
	ctrl := agent.NewController(model, noTools{}, "system", agent.DefaultConfig(), quietLogger())
	table := monitor.NewTable()
	buf := NewBufferService(table, nil, nil, quietLogger())
	repo := newFakeRunRepo()
	runs := NewRunService(repo, nil, quietLogger())
	docs := []agent.ToolDoc{{Name: "calculator", Description: "math"}}
	svc := NewAgentService(ctrl, docs, exec, buf, runs, quietLogger()).(*agentService)
	return svc, model, table, repo
}

func TestAgentChatWrapsUserContext(t *testing.T) {
	exec := &countingExec{}
	svc, model, table, repo := newAgentFixture(exec)
	ctx := context.Background()

	_ = table.With("u1", func(s *monitor.Slot) error {
		s.State = monitor.NewSession("sess-1", "u1", time.Now())
		return nil
	})

	reply, err := svc.Chat(ctx, "u1", "I feel tense", 0)
	if err != nil {
		t.Fatal(err)
	}
	if reply.FinalAnswer != "keep breathing slowly" || !reply.Success {
		t.Fatalf("reply: %+v", reply.Result)
	}
	if reply.SessionID != "sess-1" || reply.RunID == "" {
		t.Fatalf("reply ids: session=%q run=%q", reply.SessionID, reply.RunID)
	}
	if exec.calls != 1 {
		t.Fatalf("executor calls = %d", exec.calls)
	}
	q := model.questions[0]
	for _, want := range []string{"- User ID: u1", "- Session ID: sess-1", "- Message: I feel tense", "active session"} {
		if !strings.Contains(q, want) {
			t.Fatalf("question missing %q:\n%s", want, q)
		}
	}
	if row, _ := repo.GetByID(ctx, reply.RunID); row == nil || row.Kind != RunChat || row.SessionID != "sess-1" {
		t.Fatalf("run row: %+v", row)
	}
}

func TestChatQuestionVariants(t *testing.T) {
	cases := []struct {
		name, user, session string
		want, absent        string
	}{
		{"anonymous", "", "", "hello", "User Context"},
		{"user only", "u1", "", "history and patterns", "Session ID"},
		{"with session", "u1", "s1", "- Session ID: s1", "history and patterns if available"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := chatQuestion(tc.user, tc.session, "hello")
			if !strings.Contains(q, tc.want) || strings.Contains(q, tc.absent) {
				t.Fatalf("question:\n%s", q)
			}
		})
	}
}

func TestAgentChatValidation(t *testing.T) {
	svc, _, _, _ := newAgentFixture(nil)
	ctx := context.Background()

	if _, err := svc.Chat(ctx, "u1", "  ", 0); !utils.IsCode(err, utils.CodeInvalidArgument) {
		t.Fatalf("empty message: %v", err)
	}
	if _, err := svc.Chat(ctx, "u1", "hi", MaxChatTurns+1); !utils.IsCode(err, utils.CodeInvalidArgument) {
		t.Fatalf("turn cap: %v", err)
	}
	if _, err := svc.AnalyzeAndDecide(ctx, "u1", "CALM", 120); !utils.IsCode(err, utils.CodeInvalidArgument) {
		t.Fatalf("confidence: %v", err)
	}
}

func TestAgentAnalyzeAndDecide(t *testing.T) {
	svc, model, _, repo := newAgentFixture(nil)
	ctx := context.Background()

	reply, err := svc.AnalyzeAndDecide(ctx, "u7", "ANXIETY", 85)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Metrics.MaxTurns != decideTurns {
		t.Fatalf("max turns = %d", reply.Metrics.MaxTurns)
	}
	if !strings.Contains(model.questions[0], "User u7 emotion analysis: ANXIETY (85% confidence).") {
		t.Fatalf("question: %s", model.questions[0])
	}
	row, _ := repo.GetByID(ctx, reply.RunID)
	if row == nil || row.Kind != RunAnalyzeAndDecide {
		t.Fatalf("run row: %+v", row)
	}
}

func TestAgentConsultAndExecutorFailure(t *testing.T) {
	svc, model, _, _ := newAgentFixture(nil)
	sum := models.MinuteSummary{Index: 2, DominantEmotion: "PANIC", AvgSeverity: 0.9, Trend: models.TrendRapidlyIncreasing}
	reply, err := svc.Consult(context.Background(), "u1", sum)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Metrics.MaxTurns != consultTurns || !strings.Contains(model.questions[0], "minute 2 analysis: dominant emotion PANIC") {
		t.Fatalf("consult: %+v / %s", reply.Metrics, model.questions[0])
	}

	exec := &countingExec{err: errors.New("pool closed")}
	failing, _, _, _ := newAgentFixture(exec)
	if _, err := failing.MinuteAnalysis(context.Background(), "u1"); !utils.IsCode(err, utils.CodeUnavailable) {
		t.Fatalf("want UNAVAILABLE, got %v", err)
	}

	// consultations are scheduled by their caller and never take an executor slot
	if _, err := failing.Consult(context.Background(), "u1", sum); err != nil {
		t.Fatalf("consult through closed executor: %v", err)
	}
	if exec.calls != 1 {
		t.Fatalf("executor calls = %d, want 1", exec.calls)
	}
}

func TestAgentToolsIsCopy(t *testing.T) {
	svc, _, _, _ := newAgentFixture(nil)
	docs := svc.Tools()
	docs[0].Name = "changed"
	if svc.Tools()[0].Name != "calculator" {
		t.Fatal("Tools should return a copy")
	}
}
