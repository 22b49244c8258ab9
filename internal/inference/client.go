// Package inference opens streaming invocations against model serving
// endpoints. The stream is a blocking pull iterator; the bridge moves it
// onto a worker goroutine so the request handler never blocks on it.
package inference

import "context"

// ChatMessage is one conversation turn sent to the endpoint.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one streaming invocation.
type Request struct {
	// Endpoint is the serving endpoint (model) name.
	Endpoint string

	// Messages is the conversation history, oldest first.
	Messages []ChatMessage

	// Instructions optionally extends the system prompt, e.g. with the
	// agent descriptor's persona instructions.
	Instructions string

	// User is the invoking user's email, used to scope tool execution.
	User string
}

// EventStream is a blocking pull iterator over raw event payloads (the
// JSON bodies later framed as SSE data lines). Recv returns io.EOF on
// normal completion and a non-EOF error on transport failure; endpoint-
// level errors arrive as error events in the payload itself.
type EventStream interface {
	Recv() ([]byte, error)
	Close() error
}

// Client opens event streams against serving endpoints.
type Client interface {
	Stream(ctx context.Context, req Request) (EventStream, error)
}
