package models

type TraceKind string

const (
	TraceUserQuestion  TraceKind = "user_question"
	TraceAgentResponse TraceKind = "agent_response"
	TraceToolExecution TraceKind = "tool_execution"
	TraceToolResult    TraceKind = "tool_result"
	TraceToolError     TraceKind = "tool_error"
	TraceError         TraceKind = "error"
	TraceFinalAnswer   TraceKind = "final_answer"
)

// TraceEntry is one audit record of a query. Tool fields are set on
// tool_execution entries, ErrorCount on error and tool_error entries.
type TraceEntry struct {
	Kind       TraceKind `json:"type"`
	Turn       int       `json:"turn"`
	Content    string    `json:"content,omitempty"`
	ToolName   string    `json:"tool_name,omitempty"`
	ToolInput  string    `json:"tool_input,omitempty"`
	ErrorCount int       `json:"error_count,omitempty"`
}
