package monitor

import "strings"

// DefaultSeverity applies to labels missing from the table.
const DefaultSeverity = 0.3

// Ordinal severity per emotion label, calm-like near 0.1 up to panic-like at 0.9.
var severityTable = map[string]float64{
	"HAPPY":          0.1,
	"CALM":           0.2,
	"FOCUSED":        0.2,
	"NEUTRAL":        0.3,
	"SLIGHT_ANXIETY": 0.4,
	"MILD_STRESS":    0.5,
	"ANXIETY":        0.6,
	"STRESSED":       0.7,
	"ANGRY":          0.8,
	"PANIC":          0.9,
}

// NormalizeEmotion upper-cases a label and joins words with underscores,
// so "mild stress" and "Mild-Stress" both map to MILD_STRESS.
func NormalizeEmotion(label string) string {
	label = strings.ToUpper(strings.TrimSpace(label))
	label = strings.Trim(label, `"'`)
	return strings.Join(strings.FieldsFunc(label, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\t'
	}), "_")
}

// Severity returns the ordinal severity of a label.
func Severity(label string) float64 {
	if v, ok := severityTable[NormalizeEmotion(label)]; ok {
		return v
	}
	return DefaultSeverity
}
