package finance

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/finchat-ai/finchat/internal/observability"
)

// Tool names exposed to the model.
const (
	ToolGetUserProfile      = "get_user_profile"
	ToolGetFinancialSummary = "get_financial_summary"
	ToolGetTransactions     = "get_transactions"
)

// Tools returns the tool definitions in OpenAI function format.
func Tools() []openai.Tool {
	return []openai.Tool{
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name: ToolGetUserProfile,
				Description: "Get the current user profile including demographics, employment status, " +
					"income, risk tolerance, and financial goals.",
				Parameters: json.RawMessage(`{"type":"object","properties":{},"required":[]}`),
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name: ToolGetFinancialSummary,
				Description: "Get the user financial summary including total assets, total liabilities, " +
					"net worth, and detailed breakdown of each asset and liability.",
				Parameters: json.RawMessage(`{"type":"object","properties":{},"required":[]}`),
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name: ToolGetTransactions,
				Description: "Get recent transactions and cashflow data. Returns transaction list " +
					"and summary statistics.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"days": {
							"type": "integer",
							"description": "Number of days of transaction history to retrieve. Defaults to 30.",
							"default": 30
						}
					},
					"required": []
				}`),
			},
		},
	}
}

// ProfileFunc looks up the profile for a user, or nil when none exists.
type ProfileFunc func(ctx context.Context, userEmail string) (*Profile, error)

// Executor runs finance tools on behalf of one user.
type Executor struct {
	userEmail string
	profile   ProfileFunc
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewExecutor creates a tool executor scoped to a user. profile may be nil
// to serve the sample profile.
func NewExecutor(userEmail string, profile ProfileFunc, logger *observability.Logger, metrics *observability.Metrics) *Executor {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if profile == nil {
		profile = func(ctx context.Context, userEmail string) (*Profile, error) {
			p := SampleProfile()
			return &p, nil
		}
	}
	return &Executor{userEmail: userEmail, profile: profile, logger: logger, metrics: metrics}
}

// Profile returns the user's profile for system prompt construction.
func (e *Executor) Profile(ctx context.Context) (*Profile, error) {
	return e.profile(ctx, e.userEmail)
}

// Execute runs one tool and returns the result as a JSON string. Tool
// failures become JSON error payloads, never Go errors: the model should
// see them and recover.
func (e *Executor) Execute(ctx context.Context, name string, arguments string) string {
	result, err := e.execute(ctx, name, arguments)
	status := "success"
	if err != nil {
		status = "error"
		e.logger.Error(ctx, "tool execution failed", "tool", name, "error", err)
		result = errorPayload(err)
	}
	if e.metrics != nil {
		e.metrics.ToolExecutionCounter.WithLabelValues(name, status).Inc()
	}
	return result
}

func (e *Executor) execute(ctx context.Context, name string, arguments string) (string, error) {
	switch name {
	case ToolGetUserProfile:
		profile, err := e.profile(ctx, e.userEmail)
		if err != nil {
			return "", err
		}
		if profile == nil {
			return `{"message":"No profile found. User has not set up their profile yet."}`, nil
		}
		return marshalResult(profile)

	case ToolGetFinancialSummary:
		return marshalResult(SampleSummary())

	case ToolGetTransactions:
		var args struct {
			Days int `json:"days"`
		}
		if arguments != "" {
			// Malformed arguments fall through to the default window.
			_ = json.Unmarshal([]byte(arguments), &args)
		}
		if args.Days <= 0 {
			args.Days = 30
		}
		return marshalResult(SampleTransactions(args.Days))

	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

func marshalResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return string(data), nil
}

func errorPayload(err error) string {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(data)
}
