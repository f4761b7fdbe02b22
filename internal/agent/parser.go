package agent

import (
	"regexp"
	"strings"
)

// Terminal final-answer markers.
var terminalMarkers = []string{"✨ Final Answer:", "Final Answer:", "Answer:"}

// Phrases that mean the model thinks it is done but skipped the marker.
var redirectPhrases = []string{"none needed", "no action needed", "can provide the answer"}

var (
	actionRe        = regexp.MustCompile(`^Action:\s*(\w+)\s*:\s*(.*)$`)
	lenientActionRe = regexp.MustCompile(`^Action:\s*(\w+)[\s:]*(.*)$`)
)

// Action is one tool invocation parsed from a reply.
type Action struct {
	Tool  string
	Input string
	Line  int // 1-based line number in the reply
}

// Signature identifies an action for the repetition guard.
func (a Action) Signature() string {
	return a.Tool + ":" + truncateRunes(a.Input, signatureRunes)
}

const signatureRunes = 50

// ParseActions returns every action line in reply, in order. Lines are
// matched against the strict grammar first and the lenient one second;
// anything else is not an action. It never fails.
func ParseActions(reply string) []Action {
	var out []Action
	for i, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Action:") {
			continue
		}
		m := actionRe.FindStringSubmatch(line)
		if m == nil {
			m = lenientActionRe.FindStringSubmatch(line)
		}
		if m == nil {
			continue
		}
		out = append(out, Action{
			Tool:  strings.TrimSpace(m[1]),
			Input: strings.TrimSpace(m[2]),
			Line:  i + 1,
		})
	}
	return out
}

// ParseAction returns the first action in reply.
func ParseAction(reply string) (Action, bool) {
	acts := ParseActions(reply)
	if len(acts) == 0 {
		return Action{}, false
	}
	return acts[0], true
}

// HasTerminalMarker reports whether reply contains a final-answer marker.
func HasTerminalMarker(reply string) bool {
	for _, m := range terminalMarkers {
		if strings.Contains(reply, m) {
			return true
		}
	}
	return false
}

// AnswerText returns the text after the earliest marker in content, or the
// whole content when no marker is present. Of markers starting at the same
// offset the longest wins.
func AnswerText(content string) string {
	at, size := -1, 0
	for _, m := range terminalMarkers {
		i := strings.Index(content, m)
		if i < 0 {
			continue
		}
		if at < 0 || i < at || (i == at && len(m) > size) {
			at, size = i, len(m)
		}
	}
	if at < 0 {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(content[at+size:])
}

func wantsToStop(reply string) bool {
	lower := strings.ToLower(reply)
	for _, p := range redirectPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
