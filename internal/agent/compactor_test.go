package agent

import (
	"reflect"
	"strings"
	"testing"

	"github.com/dawos/agent/internal/models"
)

func turn(role models.Role, content string) models.Turn {
	return models.Turn{Role: role, Content: content}
}

func TestCompactUnderCeilingIsNoop(t *testing.T) {
	c := DefaultCompactor()
	in := []models.Turn{
		turn(models.RoleSystem, "sys"),
		turn(models.RoleUser, "hello"),
		turn(models.RoleAssistant, "Answer: hi"),
	}
	out := c.Compact(in)
	if !reflect.DeepEqual(out, in) {
		t.Errorf("Compact changed a small transcript: %+v", out)
	}
	if again := c.Compact(out); !reflect.DeepEqual(again, in) {
		t.Error("Compact is not idempotent under the ceiling")
	}
}

func TestCompactSummarizesMiddle(t *testing.T) {
	c := Compactor{CeilingTokens: 10, CharsPerToken: 4, KeepRecent: 2, MaxSummaryItems: 3, SnippetRunes: 5}
	in := []models.Turn{
		turn(models.RoleSystem, "system prompt"),
		turn(models.RoleUser, "question one is long"),
		turn(models.RoleAssistant, "reply one is long"),
		turn(models.RoleUser, "Observation: two"),
		turn(models.RoleAssistant, "reply two"),
		turn(models.RoleUser, "Observation: three"),
		turn(models.RoleAssistant, "reply three"),
	}
	out := c.Compact(in)

	if len(out) != 4 {
		t.Fatalf("len = %d, want 4: %+v", len(out), out)
	}
	if out[0] != in[0] {
		t.Errorf("leading system turn not preserved: %+v", out[0])
	}
	sum := out[1]
	if sum.Role != models.RoleSystem || !strings.HasPrefix(sum.Content, summaryPrefix) {
		t.Fatalf("summary turn = %+v", sum)
	}
	items := strings.Split(strings.TrimPrefix(sum.Content, summaryPrefix), " | ")
	want := []string{"Agent responded: reply...", "User asked: Obser...", "Agent responded: reply..."}
	if !reflect.DeepEqual(items, want) {
		t.Errorf("items = %q, want %q", items, want)
	}
	if !reflect.DeepEqual(out[2:], in[5:]) {
		t.Errorf("recent turns = %+v", out[2:])
	}
}

func TestCompactKeepsLatestUserTurn(t *testing.T) {
	c := Compactor{CeilingTokens: 1, CharsPerToken: 1, KeepRecent: 1, MaxSummaryItems: 10, SnippetRunes: 10}
	in := []models.Turn{
		turn(models.RoleSystem, "sys"),
		turn(models.RoleUser, "older question"),
		turn(models.RoleAssistant, "older reply"),
		turn(models.RoleUser, "latest question"),
		turn(models.RoleAssistant, "latest reply"),
	}
	out := c.Compact(in)

	found := false
	for _, tr := range out {
		if tr.Role == models.RoleUser && tr.Content == "latest question" {
			found = true
		}
	}
	if !found {
		t.Fatalf("latest user turn dropped: %+v", out)
	}
	if len(out) != 4 || out[len(out)-1].Content != "latest reply" {
		t.Errorf("out = %+v", out)
	}
}

func TestCompactWithoutSystemTurn(t *testing.T) {
	c := Compactor{CeilingTokens: 1, CharsPerToken: 1, KeepRecent: 1, MaxSummaryItems: 10, SnippetRunes: 50}
	in := []models.Turn{
		turn(models.RoleAssistant, "stray"),
		turn(models.RoleUser, "q"),
	}
	out := c.Compact(in)
	if len(out) != 2 || out[0].Role != models.RoleSystem || out[1].Content != "q" {
		t.Errorf("out = %+v", out)
	}
}

func TestTranscriptCompactReportsChange(t *testing.T) {
	tr := NewTranscript("sys")
	tr.Append(models.RoleUser, strings.Repeat("x", 100))
	tr.Append(models.RoleAssistant, "a")
	tr.Append(models.RoleUser, "b")

	c := Compactor{CeilingTokens: 5, CharsPerToken: 4, KeepRecent: 2, MaxSummaryItems: 10, SnippetRunes: 10}
	if !tr.Compact(c) {
		t.Fatal("expected compaction")
	}
	if tr.Len() != 4 {
		t.Errorf("len = %d, want 4", tr.Len())
	}
	if last, _ := tr.Last(); last.Content != "b" {
		t.Errorf("last = %+v", last)
	}
}
