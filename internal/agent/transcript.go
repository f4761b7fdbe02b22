package agent

import "github.com/dawos/agent/internal/models"

// Transcript is the ordered message list of one query. Turns are only
// appended; compaction replaces the middle with a summary turn.
type Transcript struct {
	turns []models.Turn
}

// NewTranscript starts a transcript with an optional leading system turn.
func NewTranscript(system string) *Transcript {
	t := &Transcript{}
	if system != "" {
		t.turns = append(t.turns, models.Turn{Role: models.RoleSystem, Content: system})
	}
	return t
}

func (t *Transcript) Append(role models.Role, content string) {
	t.turns = append(t.turns, models.Turn{Role: role, Content: content})
}

// Turns returns a copy safe to hand to a provider.
func (t *Transcript) Turns() []models.Turn {
	return append([]models.Turn(nil), t.turns...)
}

func (t *Transcript) Len() int { return len(t.turns) }

// Last returns the most recent turn, if any.
func (t *Transcript) Last() (models.Turn, bool) {
	if len(t.turns) == 0 {
		return models.Turn{}, false
	}
	return t.turns[len(t.turns)-1], true
}

// Compact applies c and reports whether the transcript changed.
func (t *Transcript) Compact(c Compactor) bool {
	out, changed := c.compact(t.turns)
	if changed {
		t.turns = out
	}
	return changed
}
