package inference

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/finchat-ai/finchat/internal/finance"
	"github.com/finchat-ai/finchat/internal/stream"
)

type wireEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
	Error string `json:"error"`
	Item  struct {
		Type    string `json:"type"`
		CallID  string `json:"call_id"`
		Name    string `json:"name"`
		Output  string `json:"output"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"item"`
}

func drainStream(t *testing.T, es EventStream) []wireEvent {
	t.Helper()
	var events []wireEvent
	for {
		payload, err := es.Recv()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		var ev wireEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("payload is not JSON: %v", err)
		}
		events = append(events, ev)
	}
}

func toolCallResponse(name, args string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{{
			"message": map[string]any{
				"role": "assistant",
				"tool_calls": []map[string]any{{
					"id":   "call_1",
					"type": "function",
					"function": map[string]any{
						"name":      name,
						"arguments": args,
					},
				}},
			},
		}},
	}
}

func textResponse(text string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{{
			"message": map[string]any{
				"role":    "assistant",
				"content": text,
			},
		}},
	}
}

func TestStreamToolLoop(t *testing.T) {
	var calls int32
	var secondRequest []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			json.NewEncoder(w).Encode(toolCallResponse("get_financial_summary", "{}"))
			return
		}
		body, _ := io.ReadAll(r.Body)
		secondRequest = body
		json.NewEncoder(w).Encode(textResponse("Your net worth is $335,000."))
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "test-key", 5, nil, nil, nil)
	es, err := client.Stream(context.Background(), Request{
		Endpoint: "fin-endpoint",
		User:     "alice@example.com",
		Messages: []ChatMessage{{Role: "user", Content: "What is my net worth?"}},
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer es.Close()

	events := drainStream(t, es)
	if len(events) < 4 {
		t.Fatalf("expected call, output, deltas, message; got %d events", len(events))
	}

	if events[0].Type != stream.EventOutputItemDone || events[0].Item.Type != stream.ItemFunctionCall {
		t.Fatalf("first event must be the tool call, got %+v", events[0])
	}
	if events[0].Item.Name != "get_financial_summary" {
		t.Errorf("unexpected tool name %q", events[0].Item.Name)
	}

	if events[1].Item.Type != stream.ItemFunctionCallOutput || events[1].Item.CallID != "call_1" {
		t.Fatalf("second event must be the tool output, got %+v", events[1])
	}
	var summary finance.Summary
	if err := json.Unmarshal([]byte(events[1].Item.Output), &summary); err != nil {
		t.Errorf("tool output is not a summary: %v", err)
	}

	var sawDelta bool
	var deltas strings.Builder
	for _, ev := range events[2:] {
		if ev.Type == stream.EventOutputTextDelta {
			sawDelta = true
			deltas.WriteString(ev.Delta)
		}
	}
	if !sawDelta {
		t.Error("expected text delta events")
	}
	if deltas.String() != "Your net worth is $335,000." {
		t.Errorf("deltas do not reassemble the answer: %q", deltas.String())
	}

	last := events[len(events)-1]
	if last.Item.Type != stream.ItemMessage {
		t.Fatalf("stream must end with the message item, got %+v", last)
	}
	if len(last.Item.Content) != 1 || last.Item.Content[0].Text != "Your net worth is $335,000." {
		t.Errorf("unexpected message content: %+v", last.Item.Content)
	}

	// The follow-up completion request must carry the tool result back.
	if !strings.Contains(string(secondRequest), `"role":"tool"`) {
		t.Errorf("second request missing tool message: %s", secondRequest)
	}
}

func TestStreamEndpointFailureBecomesErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "test-key", 5, nil, nil, nil)
	es, err := client.Stream(context.Background(), Request{Endpoint: "fin-endpoint"})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer es.Close()

	events := drainStream(t, es)
	if len(events) != 1 || events[0].Type != stream.EventError {
		t.Fatalf("expected a single error event, got %+v", events)
	}
}

func TestStreamIterationCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toolCallResponse("get_user_profile", "{}"))
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "test-key", 2, nil, nil, nil)
	es, err := client.Stream(context.Background(), Request{Endpoint: "fin-endpoint"})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer es.Close()

	events := drainStream(t, es)
	last := events[len(events)-1]
	if last.Type != stream.EventError || !strings.Contains(last.Error, "iterations") {
		t.Errorf("expected iteration-cap error event, got %+v", last)
	}
}

func TestStreamRequiresEndpoint(t *testing.T) {
	client := NewOpenAIClient("http://localhost:0", "key", 1, nil, nil, nil)
	if _, err := client.Stream(context.Background(), Request{}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

func TestChunkText(t *testing.T) {
	chunks := chunkText("abcdefghij", 4)
	want := []string{"abcd", "efgh", "ij"}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %v", len(want), chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, chunks[i], want[i])
		}
	}

	if got := chunkText("", 4); len(got) != 0 {
		t.Errorf("empty text must produce no chunks, got %v", got)
	}

	// Multibyte runes must not split mid-character.
	chunks = chunkText("ééééé", 2)
	if len(chunks) != 3 || chunks[0] != "éé" {
		t.Errorf("unexpected multibyte chunks: %v", chunks)
	}
}
