package agent

import (
	"fmt"
	"strings"
)

// Corrective prompts fed back to the model.
const (
	promptRedirect    = "You have enough information. Provide your final answer using this format: Answer: [your complete response]"
	promptRepeat      = "You are repeating the same action. Please provide your final answer now using: Answer: [your response]"
	promptTooLong     = "The analysis is taking too long. Please try a more specific question or break it into smaller parts."
	promptCompletionE = "The previous request to the model failed. Continue with one Action line or give your final answer using: Answer: [your response]"
)

func unknownToolPrompt(tool string, names []string) string {
	return fmt.Sprintf("Error: Unknown tool '%s'. Available tools: %s. Please use a valid tool or provide your final answer.",
		tool, strings.Join(names, ", "))
}

func toolErrorPrompt(err error) string {
	return fmt.Sprintf("Tool error: %v. Please try a different approach or provide your final answer.", err)
}

func extraActionsNote(ignored []Action) string {
	names := make([]string, len(ignored))
	for i, a := range ignored {
		names[i] = a.Tool
	}
	return fmt.Sprintf("\n(Only one action runs per reply. Ignored: %s. Issue them one at a time.)", strings.Join(names, ", "))
}

// ToolDoc is the prompt-facing description of one tool.
type ToolDoc struct {
	Name        string
	Description string
	Example     string
}

// SystemPrompt renders the agent instructions around the tool catalogue.
func SystemPrompt(docs []ToolDoc) string {
	var b strings.Builder
	b.WriteString(`You are the DAWOS neurotherapy agent. You monitor a user's emotional state from periodic emotion frames and give evidence-based guidance.

REPLY FORMAT (exact):
Thought: <what you need and why>
Action: <tool_name>: <input>
or, when you are done:
Answer: <final response to the user>

RULES:
- One Action per reply. Wait for the "Observation:" that follows before acting again.
- Never invent observations.
- Give an Answer after at most two tool calls unless an observation tells you more data is required.
- Greetings and small talk need no tools; answer directly.
- Questions about neurotherapy concepts: search the knowledge base first, then answer. Do not load user context for purely educational questions.
- Personal or clinical questions: load the user's session history or progress, then search the knowledge base.
- Tool errors come back as "Error: ..." observations; read them and adapt.
- In the final Answer speak plainly ("research shows", "studies indicate"), without citations or researcher names.
- If the knowledge base has nothing on a specific protocol or frequency, say so and recommend a qualified practitioner instead of guessing.
- Never write "Action: None needed"; use "Answer:" instead.

EMOTION MONITORING:
- Frames arrive every 5 seconds; 12 frames make one analysed minute.
- Severity above 0.4 (or baseline + 0.2 once a baseline exists) is a signal to consider intervention.
- Base intervention decisions on the analysed trend, the user's history and research evidence.

TOOLS:
`)
	for _, d := range docs {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
		if d.Example != "" {
			fmt.Fprintf(&b, "  example: Action: %s: %s\n", d.Name, d.Example)
		}
	}
	b.WriteString(`
EXAMPLE:
Thought: This is an educational question, I need research evidence.
Action: search_neurotherapeutic_knowledge: alpha waves relaxation
(then, after the Observation)
Thought: The research answers the question.
Answer: Alpha frequencies around 10 Hz are associated with relaxed alertness...`)
	return b.String()
}
