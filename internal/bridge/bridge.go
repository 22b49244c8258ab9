// Package bridge orchestrates one agent invocation: it resolves the chat
// session, relays the inference event stream to the caller as it arrives,
// folds a copy of every event through the trace extractor, and persists
// the turn once the stream ends.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/finchat-ai/finchat/internal/agents"
	"github.com/finchat-ai/finchat/internal/inference"
	"github.com/finchat-ai/finchat/internal/observability"
	"github.com/finchat-ai/finchat/internal/store"
	"github.com/finchat-ai/finchat/internal/stream"
	"github.com/finchat-ai/finchat/pkg/models"
)

// ErrSessionNotFound is returned when a supplied chat id does not resolve
// to a session owned by the caller.
var ErrSessionNotFound = errors.New("session not found")

// defaultQueueSize bounds the hand-off queue between the blocking
// producer and the draining consumer.
const defaultQueueSize = 32

// InvokeRequest describes one inbound chat turn.
type InvokeRequest struct {
	AgentID string
	// ChatID is optional; empty means create a new session.
	ChatID   string
	Messages []inference.ChatMessage
}

// Config wires a Bridge.
type Config struct {
	Store     store.Store
	Agents    *agents.Service
	Inference inference.Client
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	QueueSize int
}

// Bridge turns blocking inference streams into frame channels for the
// HTTP layer.
type Bridge struct {
	store     store.Store
	agents    *agents.Service
	inference inference.Client
	logger    *observability.Logger
	metrics   *observability.Metrics
	queueSize int
}

// New creates a Bridge.
func New(cfg Config) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Bridge{
		store:     cfg.Store,
		agents:    cfg.Agents,
		inference: cfg.Inference,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		queueSize: cfg.QueueSize,
	}
}

// Invoke starts an invocation. Failures before the stream begins (unknown
// agent, unknown session) are returned as errors; everything after is
// delivered as data on the frame channel, which always ends after a
// terminal event. The first frame is always the session identity.
func (b *Bridge) Invoke(ctx context.Context, owner string, req InvokeRequest) (<-chan stream.Frame, error) {
	desc, err := b.agents.Resolve(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	endpoint, ok := b.agents.Endpoint(req.AgentID)
	if !ok {
		return nil, agents.ErrAgentNotFound
	}

	chat, err := b.resolveChat(ctx, owner, req)
	if err != nil {
		return nil, err
	}

	out := make(chan stream.Frame)
	go b.run(ctx, owner, req, desc.Instructions, endpoint, chat.ID, out)
	return out, nil
}

func (b *Bridge) resolveChat(ctx context.Context, owner string, req InvokeRequest) (*models.ChatSession, error) {
	if req.ChatID != "" {
		chat, err := b.store.Get(ctx, owner, req.ChatID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		if err != nil {
			return nil, err
		}
		return chat, nil
	}

	title := store.DefaultTitle
	if last := lastUserContent(req.Messages); last != "" {
		title = store.DeriveTitle(last)
	}
	chat, err := b.store.Create(ctx, owner, title, req.AgentID)
	if err != nil {
		return nil, err
	}
	b.logger.Info(ctx, "created chat for invocation", "chat_id", chat.ID, "agent_id", req.AgentID)
	return chat, nil
}

// handoff is one item moved from the producer goroutine to the consumer.
// Exactly one of payload or err is set.
type handoff struct {
	payload []byte
	err     error
}

func (b *Bridge) run(ctx context.Context, owner string, req InvokeRequest, instructions, endpoint, chatID string, out chan<- stream.Frame) {
	defer close(out)
	started := time.Now()
	extractor := stream.NewExtractor()
	status := "success"

	// Session identity goes out before anything else, even when the
	// inference call is going to fail: partial session state is still
	// useful to the caller.
	delivered := b.send(ctx, out, stream.ChatCreatedEvent(chatID))

	es, err := b.inference.Stream(ctx, inference.Request{
		Endpoint:     endpoint,
		Messages:     req.Messages,
		Instructions: instructions,
		User:         owner,
	})
	if err != nil {
		b.logger.Error(ctx, "failed to open inference stream", "endpoint", endpoint, "error", err)
		b.send(ctx, out, stream.ErrorEvent(err.Error()))
		status = "error"
	} else {
		// The producer's blocking Recv loop runs on its own goroutine,
		// pushing into a bounded queue. Channel close marks completion;
		// an err item carries a transport failure.
		queue := make(chan handoff, b.queueSize)
		go func() {
			defer close(queue)
			defer es.Close()
			for {
				payload, recvErr := es.Recv()
				if recvErr == io.EOF {
					return
				}
				if recvErr != nil {
					queue <- handoff{err: recvErr}
					return
				}
				queue <- handoff{payload: payload}
			}
		}()

	drain:
		for delivered {
			select {
			case item, ok := <-queue:
				if !ok {
					break drain
				}
				if item.err != nil {
					b.logger.Error(ctx, "inference stream failed", "endpoint", endpoint, "error", item.err)
					b.send(ctx, out, stream.ErrorEvent(item.err.Error()))
					status = "error"
					break drain
				}
				extractor.Fold(item.payload)
				b.countFrame(item.payload)
				delivered = b.send(ctx, out, stream.Frame{JSON: item.payload})
			case <-ctx.Done():
				// Caller went away: stop emitting. The producer drains to
				// completion on its own; we still persist what we have.
				delivered = false
			}
		}
		if !delivered {
			// Keep the extractor fed with whatever the producer already
			// queued before the disconnect.
			for item := range queue {
				if item.err == nil {
					extractor.Fold(item.payload)
				}
			}
			if ctx.Err() != nil {
				status = "cancelled"
			}
		}
	}

	b.persist(owner, chatID, req, extractor.Result())

	if b.metrics != nil {
		b.metrics.InvocationCounter.WithLabelValues(req.AgentID, status).Inc()
		b.metrics.InvocationDuration.WithLabelValues(req.AgentID).Observe(time.Since(started).Seconds())
	}
}

// send forwards a frame unless the caller has gone away. Returns false
// once delivery is no longer possible.
func (b *Bridge) send(ctx context.Context, out chan<- stream.Frame, frame stream.Frame) bool {
	select {
	case out <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

// persist appends the user turn and, when the stream produced anything,
// the assistant turn. Runs on a fresh context: the request context may
// already be cancelled, and persistence failures are logged, never
// surfaced into the stream already delivered to the client.
func (b *Bridge) persist(owner, chatID string, req InvokeRequest, result stream.ExtractResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if last := lastMessage(req.Messages); last != nil {
		msg := &models.Message{
			ID:        store.NewMessageID(),
			Role:      models.Role(last.Role),
			Content:   last.Content,
			Timestamp: time.Now(),
		}
		if ok, err := b.store.AppendMessage(ctx, owner, chatID, msg); err != nil || !ok {
			b.logger.Error(ctx, "failed to persist user message",
				"chat_id", chatID, "found", ok, "error", err)
			b.countStoreError("append_user")
		}
	}

	if result.Empty() {
		return
	}
	assistant := &models.Message{
		ID:           store.NewMessageID(),
		Role:         models.RoleAssistant,
		Content:      result.FinalText,
		Timestamp:    time.Now(),
		TraceID:      result.TraceID,
		TraceSummary: result.Summary(),
	}
	if ok, err := b.store.AppendMessage(ctx, owner, chatID, assistant); err != nil || !ok {
		b.logger.Error(ctx, "failed to persist assistant message",
			"chat_id", chatID, "found", ok, "error", err)
		b.countStoreError("append_assistant")
	} else {
		b.logger.Info(ctx, "saved invocation result",
			"chat_id", chatID,
			"text_len", len(result.FinalText),
			"tools", len(result.ToolCalls),
			"trace_id", result.TraceID)
	}
}

func (b *Bridge) countFrame(payload []byte) {
	if b.metrics == nil {
		return
	}
	var ev struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil || ev.Type == "" {
		return
	}
	b.metrics.FrameCounter.WithLabelValues(ev.Type).Inc()
}

func (b *Bridge) countStoreError(op string) {
	if b.metrics != nil {
		b.metrics.StoreErrorCounter.WithLabelValues(op).Inc()
	}
}

func lastMessage(msgs []inference.ChatMessage) *inference.ChatMessage {
	if len(msgs) == 0 {
		return nil
	}
	return &msgs[len(msgs)-1]
}

func lastUserContent(msgs []inference.ChatMessage) string {
	if last := lastMessage(msgs); last != nil {
		return last.Content
	}
	return ""
}
