// Package stream defines the server-sent event payloads exchanged with the
// client during an agent invocation, and the extractor that folds those
// events back into structured state.
package stream

import "encoding/json"

// Event type discriminators on the streaming wire.
const (
	EventChatCreated     = "chat.created"
	EventOutputItemDone  = "response.output_item.done"
	EventOutputTextDelta = "response.output_text.delta"
	EventResponseDone    = "response.done"
	EventError           = "error"
)

// Item kinds carried by response.output_item.done events.
const (
	ItemMessage            = "message"
	ItemFunctionCall       = "function_call"
	ItemFunctionCallOutput = "function_call_output"
)

// Frame is one streamed payload. The web layer writes it as
// "data: <json>\n\n"; a closed frame channel terminates the stream
// with "data: [DONE]\n\n".
type Frame struct {
	JSON []byte
}

// ChatCreatedEvent builds the session-identity event, always emitted first
// so the client can associate the stream with a chat before any output.
func ChatCreatedEvent(chatID string) Frame {
	return marshalFrame(map[string]any{
		"type":    EventChatCreated,
		"chat_id": chatID,
	})
}

// ErrorEvent builds a terminal error payload. Errors during a started
// stream are data, not exceptions.
func ErrorEvent(msg string) Frame {
	return marshalFrame(map[string]any{
		"type":  EventError,
		"error": msg,
	})
}

// TextDeltaEvent builds an incremental text chunk.
func TextDeltaEvent(delta string) Frame {
	return marshalFrame(map[string]any{
		"type":  EventOutputTextDelta,
		"delta": delta,
	})
}

// FunctionCallEvent announces a tool invocation requested by the model.
// Arguments stay in their raw wire form (often a JSON-encoded string).
func FunctionCallEvent(callID, name, arguments string) Frame {
	return marshalFrame(map[string]any{
		"type": EventOutputItemDone,
		"item": map[string]any{
			"type":      ItemFunctionCall,
			"call_id":   callID,
			"name":      name,
			"arguments": arguments,
		},
	})
}

// FunctionCallOutputEvent carries the result of an executed tool call.
func FunctionCallOutputEvent(callID, output string) Frame {
	return marshalFrame(map[string]any{
		"type": EventOutputItemDone,
		"item": map[string]any{
			"type":    ItemFunctionCallOutput,
			"call_id": callID,
			"output":  output,
		},
	})
}

// MessageItemEvent carries the final assistant message item.
func MessageItemEvent(text string) Frame {
	return marshalFrame(map[string]any{
		"type": EventOutputItemDone,
		"item": map[string]any{
			"type": ItemMessage,
			"content": []map[string]any{
				{"type": "output_text", "text": text},
			},
		},
	})
}

func marshalFrame(v any) Frame {
	data, err := json.Marshal(v)
	if err != nil {
		// Maps of strings cannot fail to marshal; keep the stream alive
		// with an explicit error payload if they somehow do.
		data = []byte(`{"type":"error","error":"internal encoding failure"}`)
	}
	return Frame{JSON: data}
}
