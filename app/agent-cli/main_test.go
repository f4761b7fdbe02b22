package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dawos/agent/internal/agent"
	"github.com/dawos/agent/internal/models"
)

func TestParseFlags(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		query   string
		turns   int
		wantErr bool
	}{
		{name: "flag query", args: []string{"-q", "what is 2+2", "-n", "3"}, query: "what is 2+2", turns: 3},
		{name: "positional query", args: []string{"how", "do", "I", "calm", "down"}, query: "how do I calm down"},
		{name: "tools only", args: []string{"--tools"}},
		{name: "missing query", args: []string{"--trace"}, wantErr: true},
		{name: "too many turns", args: []string{"-q", "hi", "--max-turns", "11"}, wantErr: true},
		{name: "unknown flag", args: []string{"--nope"}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o, err := parseFlags(tc.args)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", o)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if o.query != tc.query || o.maxTurns != tc.turns {
				t.Fatalf("got query=%q turns=%d", o.query, o.maxTurns)
			}
		})
	}
}

func TestPrintResult(t *testing.T) {
	res := &agent.Result{
		FinalAnswer: "Take three slow breaths.",
		Success:     true,
		Trace: []models.TraceEntry{
			{Kind: models.TraceAgentResponse, Turn: 1, Content: "The user is\nstressed"},
		},
		Metrics: agent.Metrics{TurnsUsed: 1, MaxTurns: 5},
	}

	var buf bytes.Buffer
	if err := printResult(&buf, res, options{showTrace: true}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"[01] agent_response", "The user is stressed", "Take three slow breaths.", "(ok, 1/5 turns, 0 errors)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := printResult(&buf, res, options{asJSON: true}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"final_answer": "Take three slow breaths."`) {
		t.Fatalf("json output: %s", buf.String())
	}
}

func TestOneLine(t *testing.T) {
	if got := oneLine("a\n  b\tc", 10); got != "a b c" {
		t.Fatalf("got %q", got)
	}
	if got := oneLine("abcdef", 3); got != "abc..." {
		t.Fatalf("got %q", got)
	}
}
