package stream

import (
	"encoding/json"
	"strings"

	"github.com/finchat-ai/finchat/pkg/models"
)

// Extractor folds a sequence of streamed event payloads into structured
// state: the final assistant text, the ordered tool calls, and the trace
// identifier. It is a pure accumulator; feed every payload to Fold and
// read the outcome with Result once the stream has drained.
type Extractor struct {
	finalText   string
	toolCalls   []models.ToolCall
	traceID     string
	traceOutput any
}

// ExtractResult is the folded outcome of one invocation stream.
type ExtractResult struct {
	FinalText   string
	ToolCalls   []models.ToolCall
	TraceID     string
	TraceOutput any
}

// Empty reports whether the stream produced neither text nor tool calls.
// An empty result must not be persisted as an assistant message.
func (r ExtractResult) Empty() bool {
	return r.FinalText == "" && len(r.ToolCalls) == 0
}

// Summary converts the result into the trace summary attached to the
// assistant message, or nil when there is nothing to record.
func (r ExtractResult) Summary() *models.TraceSummary {
	if len(r.ToolCalls) == 0 && r.TraceID == "" {
		return nil
	}
	tools := make([]models.CalledTool, 0, len(r.ToolCalls))
	for _, tc := range r.ToolCalls {
		status := models.ToolStatusUnknown
		if tc.Output != nil {
			status = models.ToolStatusOK
		}
		tools = append(tools, models.CalledTool{
			Name:    tc.Name,
			Inputs:  tc.Arguments,
			Outputs: tc.Output,
			Status:  status,
		})
	}
	return &models.TraceSummary{
		TraceID:        r.TraceID,
		Status:         models.ToolStatusOK,
		ToolsCalled:    tools,
		RetrievalCalls: []any{},
		LLMCalls:       []any{},
		SpansCount:     len(r.ToolCalls),
		FunctionCalls:  r.ToolCalls,
		TraceOutput:    r.TraceOutput,
	}
}

// NewExtractor creates an extractor with no accumulated state.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// event mirrors the discriminated wire shapes loosely; unknown fields are
// ignored so new event kinds pass through without breaking extraction.
type event struct {
	Type        string          `json:"type"`
	Item        json.RawMessage `json:"item"`
	Response    json.RawMessage `json:"response"`
	TraceOutput json.RawMessage `json:"trace_output"`
}

type outputItem struct {
	Type        string          `json:"type"`
	CallID      string          `json:"call_id"`
	Name        string          `json:"name"`
	Arguments   json.RawMessage `json:"arguments"`
	Output      json.RawMessage `json:"output"`
	Content     []contentBlock  `json:"content"`
	TraceOutput json.RawMessage `json:"trace_output"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Fold consumes one raw event payload. Malformed JSON is skipped; the
// extractor never fails the stream.
func (e *Extractor) Fold(data []byte) {
	var ev event
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}

	// Trace metadata can ride on the event itself regardless of type.
	e.latchTrace(ev.TraceOutput)

	switch ev.Type {
	case EventOutputItemDone:
		e.foldItem(ev.Item)
	case EventResponseDone:
		var resp struct {
			TraceOutput json.RawMessage `json:"trace_output"`
		}
		if err := json.Unmarshal(ev.Response, &resp); err == nil {
			e.latchTrace(resp.TraceOutput)
		}
	}
}

func (e *Extractor) foldItem(raw json.RawMessage) {
	var item outputItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return
	}

	switch item.Type {
	case ItemMessage:
		// The last message item wins: earlier deltas are superseded.
		for _, block := range item.Content {
			if block.Type == "output_text" {
				e.finalText = block.Text
				break
			}
		}
	case ItemFunctionCall:
		e.toolCalls = append(e.toolCalls, models.ToolCall{
			CallID:    item.CallID,
			Name:      item.Name,
			Arguments: parseTolerant(item.Arguments),
		})
	case ItemFunctionCallOutput:
		// Call counts are small; a linear scan is fine.
		for i := range e.toolCalls {
			if e.toolCalls[i].CallID == item.CallID {
				e.toolCalls[i].Output = parseTolerant(item.Output)
				break
			}
		}
	}

	e.latchTrace(item.TraceOutput)
}

// latchTrace records the first trace id seen across every known nesting
// location and ignores later values, even conflicting ones.
func (e *Extractor) latchTrace(raw json.RawMessage) {
	if e.traceID != "" || len(raw) == 0 {
		return
	}
	var out struct {
		Trace struct {
			Info struct {
				TraceID string `json:"trace_id"`
			} `json:"info"`
		} `json:"trace"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return
	}
	if out.Trace.Info.TraceID == "" {
		return
	}
	e.traceID = out.Trace.Info.TraceID

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err == nil {
		e.traceOutput = parsed
	}
}

// Result returns the accumulated state. Safe to call after every fold;
// typically called once after the stream ends.
func (e *Extractor) Result() ExtractResult {
	return ExtractResult{
		FinalText:   e.finalText,
		ToolCalls:   e.toolCalls,
		TraceID:     e.traceID,
		TraceOutput: e.traceOutput,
	}
}

// parseTolerant decodes a field that may be a structured value or a string
// that itself encodes JSON. Malformed payloads fall back to the raw string
// rather than failing.
func parseTolerant(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var nested any
		if err := json.Unmarshal([]byte(trimmed), &nested); err == nil {
			return nested
		}
	}
	return s
}
