package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/finchat-ai/finchat/internal/agents"
	"github.com/finchat-ai/finchat/internal/bridge"
	"github.com/finchat-ai/finchat/internal/inference"
)

// invokeRequest is the POST /api/invoke body.
type invokeRequest struct {
	AgentID  string                  `json:"agent_id"`
	ChatID   string                  `json:"chat_id,omitempty"`
	Messages []inference.ChatMessage `json:"messages"`
}

// handleInvoke starts an agent invocation and streams frames back as
// server-sent events. Pre-stream failures (unknown agent or chat) return
// structured JSON errors; once streaming has begun every failure is
// delivered as an error event inside the stream.
func (h *Handler) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var body invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.AgentID == "" {
		h.jsonError(w, "agent_id is required", http.StatusBadRequest)
		return
	}
	if len(body.Messages) == 0 {
		h.jsonError(w, "messages are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	h.logger.Info(ctx, "invoking agent", "agent_id", body.AgentID, "chat_id", body.ChatID, "user", user)

	frames, err := h.bridge.Invoke(ctx, user, bridge.InvokeRequest{
		AgentID:  body.AgentID,
		ChatID:   body.ChatID,
		Messages: body.Messages,
	})
	if errors.Is(err, agents.ErrAgentNotFound) {
		h.jsonError(w, "agent not found: "+body.AgentID, http.StatusNotFound)
		return
	}
	if errors.Is(err, bridge.ErrSessionNotFound) {
		h.jsonError(w, "chat not found: "+body.ChatID, http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error(ctx, "failed to start invocation", "agent_id", body.AgentID, "error", err)
		h.jsonError(w, "failed to start invocation", http.StatusBadGateway)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for frame := range frames {
		if _, err := w.Write([]byte("data: ")); err != nil {
			break
		}
		w.Write(frame.JSON)
		w.Write([]byte("\n\n"))
		flusher.Flush()
	}

	// The frame channel closing is the stream's natural end; the DONE
	// literal terminates the SSE protocol for the client.
	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}
