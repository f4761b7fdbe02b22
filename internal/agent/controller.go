package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dawos/agent/internal/models"
	"github.com/dawos/agent/internal/providers/llm"
	"github.com/dawos/agent/internal/utils"
)

// Toolbox is the tool registry as seen by the controller.
type Toolbox interface {
	Has(name string) bool
	Names() []string
	Execute(ctx context.Context, name, input string) (string, error)
}

type Config struct {
	MaxTurns          int
	MaxErrors         int
	CompletionTimeout time.Duration
	Generation        llm.Params
	Compaction        Compactor
}

func DefaultConfig() Config {
	return Config{
		MaxTurns:          5,
		MaxErrors:         2,
		CompletionTimeout: 60 * time.Second,
		Generation:        llm.Params{Temperature: 0, MaxTokens: 800},
		Compaction:        DefaultCompactor(),
	}
}

const maxRepeats = 2

type Metrics struct {
	TurnsUsed         int `json:"turns_used"`
	MaxTurns          int `json:"max_turns"`
	ErrorsEncountered int `json:"errors_encountered"`
	RepeatedActions   int `json:"repeated_actions"`
}

// Result is the outcome of one query. It is always returned, never an error.
type Result struct {
	Question    string              `json:"question"`
	FinalAnswer string              `json:"final_answer"`
	Trace       []models.TraceEntry `json:"conversation_trace"`
	TurnsUsed   int                 `json:"total_turns"`
	Success     bool                `json:"success"`
	ErrorCount  int                 `json:"error_count"`
	Metrics     Metrics             `json:"performance_metrics"`
}

// Controller runs the reason/act loop. It holds no per-query state and is
// safe for concurrent use.
type Controller struct {
	llm    llm.Provider
	tools  Toolbox
	system string
	cfg    Config
	log    *logrus.Logger
}

func NewController(p llm.Provider, tools Toolbox, systemPrompt string, cfg Config, log *logrus.Logger) *Controller {
	def := DefaultConfig()
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = def.MaxTurns
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = def.MaxErrors
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = def.CompletionTimeout
	}
	if log == nil {
		log = logrus.New()
	}
	return &Controller{llm: p, tools: tools, system: systemPrompt, cfg: cfg, log: log}
}

// WithMaxTurns returns a controller sharing everything but the turn budget.
func (c *Controller) WithMaxTurns(n int) *Controller {
	cp := *c
	if n > 0 {
		cp.cfg.MaxTurns = n
	}
	return &cp
}

func (c *Controller) MaxTurns() int { return c.cfg.MaxTurns }

// Run answers one question. All per-query state lives in a fresh query.
func (c *Controller) Run(ctx context.Context, question string) *Result {
	q := &query{
		c:          c,
		question:   question,
		transcript: NewTranscript(c.system),
		seen:       make(map[string]int),
	}
	return q.run(ctx)
}

type query struct {
	c          *Controller
	question   string
	transcript *Transcript
	trace      []models.TraceEntry

	turn       int
	errorCount int
	seen       map[string]int

	done    bool
	success bool
}

func (q *query) run(ctx context.Context) *Result {
	q.record(models.TraceEntry{Kind: models.TraceUserQuestion, Content: q.question})
	pending := q.question

	for q.turn < q.c.cfg.MaxTurns && !q.done {
		q.turn++
		if pending != "" {
			q.transcript.Append(models.RoleUser, pending)
			pending = ""
		}
		if q.transcript.Compact(q.c.cfg.Compaction) {
			q.logger().WithField("turns", q.transcript.Len()).Debug("transcript compacted")
		}

		if err := ctx.Err(); err != nil {
			q.record(models.TraceEntry{Kind: models.TraceError, Content: "query cancelled: " + err.Error()})
			q.finish(false, "The request was cancelled before the analysis finished.")
			break
		}

		reply, err := q.complete(ctx)
		if err != nil {
			pending = q.countError(models.TraceError, err.Error(),
				"I encountered repeated errors and cannot proceed. Last error: %s", promptCompletionE)
			continue
		}
		q.transcript.Append(models.RoleAssistant, reply)
		pending = q.step(ctx, reply)
	}

	if !q.done {
		q.finish(false, promptTooLong)
	}
	return q.result()
}

func (q *query) complete(ctx context.Context) (string, error) {
	const op = "Controller.complete"
	cctx, cancel := context.WithTimeout(ctx, q.c.cfg.CompletionTimeout)
	defer cancel()

	reply, err := q.c.llm.Complete(cctx, q.transcript.Turns(), q.c.cfg.Generation)
	switch {
	case err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return "", utils.E(utils.CodeTimeout, op,
			fmt.Sprintf("completion timed out after %s", q.c.cfg.CompletionTimeout), utils.ErrCompletionTimeout)
	case err != nil:
		return "", utils.E(utils.CodeUnavailable, op, "completion failed", err)
	case strings.TrimSpace(reply) == "":
		return "", utils.E(utils.CodeUnavailable, op, "completion returned an empty reply", nil)
	}
	return reply, nil
}

// step interprets one model reply and returns the next prompt.
func (q *query) step(ctx context.Context, reply string) string {
	log := q.logger()

	if HasTerminalMarker(reply) {
		q.record(models.TraceEntry{Kind: models.TraceFinalAnswer, Content: reply})
		q.done, q.success = true, true
		return ""
	}
	q.record(models.TraceEntry{Kind: models.TraceAgentResponse, Content: reply})

	if wantsToStop(reply) {
		log.Debug("model signalled completion without marker; redirecting")
		return promptRedirect
	}

	actions := ParseActions(reply)
	if len(actions) == 0 {
		q.record(models.TraceEntry{Kind: models.TraceFinalAnswer, Content: reply})
		q.done, q.success = true, true
		return ""
	}

	act := actions[0]
	var note string
	if extra := actions[1:]; len(extra) > 0 {
		q.record(models.TraceEntry{
			Kind:    models.TraceError,
			Content: fmt.Sprintf("Reply contained %d action lines; only %s was executed.", len(actions), act.Tool),
		})
		note = extraActionsNote(extra)
	}

	sig := act.Signature()
	q.seen[sig]++
	if q.seen[sig] > maxRepeats {
		q.record(models.TraceEntry{
			Kind:    models.TraceError,
			Content: fmt.Sprintf("Repeated action detected: %s. Forcing final answer.", act.Tool),
		})
		log.WithField("tool", act.Tool).Warn("repeated action blocked")
		return promptRepeat
	}

	if !q.c.tools.Has(act.Tool) {
		msg := fmt.Sprintf("Unknown tool: %s: %s", act.Tool, act.Input)
		return q.countError(models.TraceError, msg,
			"I encountered repeated errors and cannot proceed. Last error: %s",
			unknownToolPrompt(act.Tool, q.c.tools.Names()))
	}

	q.record(models.TraceEntry{Kind: models.TraceToolExecution, ToolName: act.Tool, ToolInput: act.Input})
	log.WithField("tool", act.Tool).Debug("executing tool")

	out, err := q.c.tools.Execute(ctx, act.Tool, act.Input)
	if err != nil {
		msg := fmt.Sprintf("Tool execution error for %s: %v", act.Tool, err)
		return q.countError(models.TraceToolError, msg,
			"I encountered repeated tool execution errors and cannot proceed. Last error: %s",
			toolErrorPrompt(err))
	}

	q.record(models.TraceEntry{Kind: models.TraceToolResult, Content: out})
	q.errorCount = 0
	return "Observation: " + out + note
}

// countError charges the error budget. At the limit it ends the query with
// a synthetic answer built from final; otherwise it returns retry.
func (q *query) countError(kind models.TraceKind, msg, final, retry string) string {
	q.errorCount++
	q.record(models.TraceEntry{Kind: kind, Content: msg, ErrorCount: q.errorCount})
	q.logger().WithField("error_count", q.errorCount).Warn(msg)

	if q.errorCount >= q.c.cfg.MaxErrors {
		q.finish(false, fmt.Sprintf(final, msg))
		return ""
	}
	return retry
}

func (q *query) finish(success bool, answer string) {
	q.record(models.TraceEntry{Kind: models.TraceFinalAnswer, Content: answer})
	q.done, q.success = true, success
}

func (q *query) record(e models.TraceEntry) {
	e.Turn = q.turn
	q.trace = append(q.trace, e)
}

func (q *query) logger() *logrus.Entry {
	return q.c.log.WithFields(logrus.Fields{"turn": q.turn, "error_count": q.errorCount})
}

func (q *query) result() *Result {
	repeated := 0
	for _, n := range q.seen {
		if n > 1 {
			repeated++
		}
	}
	res := &Result{
		Question:    q.question,
		FinalAnswer: ExtractAnswer(q.trace),
		Trace:       q.trace,
		TurnsUsed:   q.turn,
		Success:     q.success,
		ErrorCount:  q.errorCount,
		Metrics: Metrics{
			TurnsUsed:         q.turn,
			MaxTurns:          q.c.cfg.MaxTurns,
			ErrorsEncountered: q.errorCount,
			RepeatedActions:   repeated,
		},
	}
	q.c.log.WithFields(logrus.Fields{
		"turns":   res.TurnsUsed,
		"success": res.Success,
		"errors":  res.ErrorCount,
	}).Info("agent query finished")
	return res
}

// ExtractAnswer takes the most recent agent response or final answer and
// strips the terminal marker.
func ExtractAnswer(trace []models.TraceEntry) string {
	for i := len(trace) - 1; i >= 0; i-- {
		switch trace[i].Kind {
		case models.TraceAgentResponse, models.TraceFinalAnswer:
			return AnswerText(trace[i].Content)
		}
	}
	return ""
}
