package models

import "time"

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ChatSession is a persisted conversation thread for one user.
// Messages are owned by their session: deleting the session deletes them.
type ChatSession struct {
	ID        string     `json:"id"`
	UserEmail string     `json:"user_email"`
	Title     string     `json:"title"`
	AgentID   string     `json:"agent_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Messages  []*Message `json:"messages"`
}

// Message is a single turn within a chat session. ChatID is a denormalized
// lookup key back to the owning session, not an ownership reference.
type Message struct {
	ID           string        `json:"id"`
	ChatID       string        `json:"chat_id"`
	Role         Role          `json:"role"`
	Content      string        `json:"content"`
	Timestamp    time.Time     `json:"timestamp"`
	TraceID      string        `json:"trace_id,omitempty"`
	TraceSummary *TraceSummary `json:"trace_summary,omitempty"`
}

// ToolCall is one tool invocation reconstructed from the event stream.
// Arguments and Output tolerate both structured values and raw strings:
// serving endpoints emit either depending on the deployment type.
type ToolCall struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments any    `json:"arguments,omitempty"`
	Output    any    `json:"output,omitempty"`
}

// ToolCallStatus values attached to trace summaries.
const (
	ToolStatusOK      = "OK"
	ToolStatusUnknown = "UNKNOWN"
)

// CalledTool is the per-tool entry of a TraceSummary.
type CalledTool struct {
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
	Inputs     any    `json:"inputs,omitempty"`
	Outputs    any    `json:"outputs,omitempty"`
	Status     string `json:"status"`
}

// TraceSummary is the structured record of one inference call, attached to
// the assistant message it produced. The key set is stable; consumers treat
// the payload as opaque beyond these keys.
type TraceSummary struct {
	TraceID        string       `json:"trace_id,omitempty"`
	DurationMS     int64        `json:"duration_ms"`
	Status         string       `json:"status"`
	ToolsCalled    []CalledTool `json:"tools_called"`
	RetrievalCalls []any        `json:"retrieval_calls"`
	LLMCalls       []any        `json:"llm_calls"`
	TotalTokens    int          `json:"total_tokens"`
	SpansCount     int          `json:"spans_count"`
	FunctionCalls  []ToolCall   `json:"function_calls"`
	TraceOutput    any          `json:"trace_output,omitempty"`
}
