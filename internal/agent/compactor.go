package agent

import (
	"strings"
	"unicode/utf8"

	"github.com/dawos/agent/internal/models"
)

const summaryPrefix = "Previous conversation summary: "

// Compactor bounds transcript size. Token counts are estimated as
// characters divided by CharsPerToken.
type Compactor struct {
	CeilingTokens   int
	CharsPerToken   int
	KeepRecent      int
	MaxSummaryItems int
	SnippetRunes    int
}

func DefaultCompactor() Compactor {
	return Compactor{
		CeilingTokens:   8000,
		CharsPerToken:   4,
		KeepRecent:      6,
		MaxSummaryItems: 10,
		SnippetRunes:    100,
	}
}

func (c Compactor) EstimateTokens(turns []models.Turn) int {
	chars := 0
	for _, t := range turns {
		chars += utf8.RuneCountInString(t.Content)
	}
	per := c.CharsPerToken
	if per <= 0 {
		per = 4
	}
	return chars / per
}

// Compact returns turns unchanged when under the ceiling. Otherwise it keeps
// the leading system turn and the most recent turns (always including the
// latest user turn) and folds everything between into one system summary.
func (c Compactor) Compact(turns []models.Turn) []models.Turn {
	out, _ := c.compact(turns)
	return out
}

func (c Compactor) compact(turns []models.Turn) ([]models.Turn, bool) {
	if c.CeilingTokens <= 0 || c.EstimateTokens(turns) <= c.CeilingTokens {
		return turns, false
	}

	head := 0
	if len(turns) > 0 && turns[0].Role == models.RoleSystem {
		head = 1
	}
	start := len(turns) - c.KeepRecent
	if start < head {
		start = head
	}
	for i := len(turns) - 1; i >= head; i-- {
		if turns[i].Role == models.RoleUser {
			if i < start {
				start = i
			}
			break
		}
	}
	if start <= head {
		return turns, false
	}

	items := make([]string, 0, start-head)
	for _, t := range turns[head:start] {
		items = append(items, c.summarize(t))
	}
	if limit := c.MaxSummaryItems; limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}

	out := make([]models.Turn, 0, head+1+len(turns)-start)
	out = append(out, turns[:head]...)
	out = append(out, models.Turn{
		Role:    models.RoleSystem,
		Content: summaryPrefix + strings.Join(items, " | "),
	})
	out = append(out, turns[start:]...)
	return out, true
}

func (c Compactor) summarize(t models.Turn) string {
	snippet := truncateRunes(t.Content, c.SnippetRunes) + "..."
	switch t.Role {
	case models.RoleUser:
		return "User asked: " + snippet
	case models.RoleAssistant:
		return "Agent responded: " + snippet
	default:
		return "Context: " + snippet
	}
}
