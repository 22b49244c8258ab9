package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/finchat-ai/finchat/internal/finance"
	"github.com/finchat-ai/finchat/internal/observability"
	"github.com/finchat-ai/finchat/internal/stream"
)

// defaultMaxToolIterations caps the tool-calling loop so a confused model
// cannot spin forever.
const defaultMaxToolIterations = 10

// textChunkSize is how many characters each output_text.delta carries.
const textChunkSize = 20

// OpenAIClient drives OpenAI-compatible serving endpoints with the finance
// tool-calling loop: each iteration makes a non-streaming completion call,
// executes any requested tools, and feeds the results back until the model
// produces a final text answer. Every step is emitted as a stream event.
type OpenAIClient struct {
	client        *openai.Client
	maxIterations int
	profile       finance.ProfileFunc
	logger        *observability.Logger
	metrics       *observability.Metrics
}

// NewOpenAIClient creates a client for the given endpoint host. baseURL
// points at the serving host's OpenAI-compatible API root.
func NewOpenAIClient(baseURL, apiKey string, maxIterations int, profile finance.ProfileFunc, logger *observability.Logger, metrics *observability.Metrics) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if maxIterations <= 0 {
		maxIterations = defaultMaxToolIterations
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &OpenAIClient{
		client:        openai.NewClientWithConfig(cfg),
		maxIterations: maxIterations,
		profile:       profile,
		logger:        logger,
		metrics:       metrics,
	}
}

// Stream starts the tool-calling loop for one invocation. The loop runs on
// its own goroutine; the returned stream blocks in Recv until events are
// available.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (EventStream, error) {
	if req.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}

	s := &chanStream{
		events: make(chan []byte, 8),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.events)
		c.run(ctx, req, s)
	}()
	return s, nil
}

func (c *OpenAIClient) run(ctx context.Context, req Request, s *chanStream) {
	executor := finance.NewExecutor(req.User, c.profile, c.logger, c.metrics)

	profile, err := executor.Profile(ctx)
	if err != nil {
		// The prompt degrades gracefully without profile context.
		c.logger.Warn(ctx, "failed to fetch profile for system prompt", "error", err)
		profile = nil
	}

	messages := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: buildSystemPrompt(req.Instructions, profile),
	}}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	for iteration := 1; iteration <= c.maxIterations; iteration++ {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    req.Endpoint,
			Messages: messages,
			Tools:    finance.Tools(),
		})
		if err != nil {
			c.logger.Error(ctx, "completion call failed", "endpoint", req.Endpoint, "error", err)
			s.emit(ctx, stream.ErrorEvent(err.Error()).JSON)
			return
		}
		if len(resp.Choices) == 0 {
			s.emit(ctx, stream.ErrorEvent("endpoint returned no choices").JSON)
			return
		}
		choice := resp.Choices[0].Message

		if len(choice.ToolCalls) > 0 {
			c.logger.Debug(ctx, "model requested tools",
				"iteration", iteration, "count", len(choice.ToolCalls))

			for _, tc := range choice.ToolCalls {
				s.emit(ctx, stream.FunctionCallEvent(tc.ID, tc.Function.Name, tc.Function.Arguments).JSON)
			}
			messages = append(messages, choice)

			for _, tc := range choice.ToolCalls {
				result := executor.Execute(ctx, tc.Function.Name, tc.Function.Arguments)
				s.emit(ctx, stream.FunctionCallOutputEvent(tc.ID, result).JSON)
				messages = append(messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    result,
					Name:       tc.Function.Name,
					ToolCallID: tc.ID,
				})
			}
			continue
		}

		// Final answer: chunked deltas for the typing effect, then the
		// complete message item so consumers can reconstruct the text.
		if choice.Content != "" {
			for _, chunk := range chunkText(choice.Content, textChunkSize) {
				s.emit(ctx, stream.TextDeltaEvent(chunk).JSON)
			}
			s.emit(ctx, stream.MessageItemEvent(choice.Content).JSON)
		}
		return
	}

	s.emit(ctx, stream.ErrorEvent(fmt.Sprintf("tool loop exceeded %d iterations", c.maxIterations)).JSON)
}

func buildSystemPrompt(instructions string, profile *finance.Profile) string {
	var b strings.Builder
	if instructions != "" {
		b.WriteString(instructions)
		b.WriteString("\n\nYou have access to the user's financial data through tools. ")
		b.WriteString("Use them to provide personalized advice.\n\n")
	} else {
		b.WriteString("You are a helpful personal finance assistant. ")
		b.WriteString("You have access to the user's financial data through tools.\n\n")
	}
	b.WriteString("When answering questions about the user's finances:\n")
	b.WriteString("1. Use the available tools to fetch current data - don't make assumptions about their financial situation\n")
	b.WriteString("2. Provide specific numbers and actionable insights\n")
	b.WriteString("3. Be conversational but accurate\n")
	b.WriteString("4. If data is missing or unavailable, acknowledge this clearly\n\n")
	b.WriteString("Available tools:\n")
	b.WriteString("- get_user_profile: Get user demographics, employment, income, and financial goals\n")
	b.WriteString("- get_financial_summary: Get net worth, assets, and liabilities breakdown\n")
	b.WriteString("- get_transactions: Get recent transaction history and cashflow patterns")

	if profile != nil {
		b.WriteString("\n\nUser Context (for personalization):")
		if profile.Age > 0 {
			fmt.Fprintf(&b, "\n- Age: %d", profile.Age)
		}
		if profile.EmploymentStatus != "" {
			fmt.Fprintf(&b, "\n- Employment: %s", strings.ReplaceAll(profile.EmploymentStatus, "_", " "))
			if profile.JobTitle != "" && profile.EmployerName != "" {
				fmt.Fprintf(&b, " (%s at %s)", profile.JobTitle, profile.EmployerName)
			}
		}
		if profile.AnnualIncome > 0 {
			fmt.Fprintf(&b, "\n- Annual Income: $%.0f", profile.AnnualIncome)
		}
		if profile.RiskTolerance != "" {
			fmt.Fprintf(&b, "\n- Risk Tolerance: %s", strings.ReplaceAll(profile.RiskTolerance, "_", " "))
		}
		if profile.RetirementAge > 0 {
			fmt.Fprintf(&b, "\n- Retirement Target Age: %d", profile.RetirementAge)
		}
		if len(profile.Goals) > 0 {
			names := make([]string, 0, 3)
			for i, g := range profile.Goals {
				if i == 3 {
					break
				}
				names = append(names, g.Name)
			}
			fmt.Fprintf(&b, "\n- Financial Goals: %s", strings.Join(names, ", "))
		}
	}
	return b.String()
}

func chunkText(text string, size int) []string {
	runes := []rune(text)
	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// chanStream adapts the goroutine-driven tool loop to the blocking
// EventStream pull interface.
type chanStream struct {
	events    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *chanStream) emit(ctx context.Context, payload []byte) {
	select {
	case s.events <- payload:
	case <-s.done:
	case <-ctx.Done():
	}
}

// Recv blocks until the next event payload. io.EOF signals completion.
func (s *chanStream) Recv() ([]byte, error) {
	payload, ok := <-s.events
	if !ok {
		return nil, io.EOF
	}
	return payload, nil
}

// Close releases the producer; pending events are discarded.
func (s *chanStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
