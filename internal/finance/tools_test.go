package finance

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestToolsDefinitions(t *testing.T) {
	tools := Tools()
	if len(tools) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(tools))
	}
	names := map[string]bool{}
	for _, tool := range tools {
		if tool.Function == nil {
			t.Fatal("tool has no function definition")
		}
		names[tool.Function.Name] = true

		// Parameters must be valid JSON schema payloads.
		raw, ok := tool.Function.Parameters.(json.RawMessage)
		if !ok {
			t.Fatalf("unexpected parameters type %T", tool.Function.Parameters)
		}
		var schema map[string]any
		if err := json.Unmarshal(raw, &schema); err != nil {
			t.Errorf("tool %s has invalid parameters: %v", tool.Function.Name, err)
		}
	}
	for _, want := range []string{ToolGetUserProfile, ToolGetFinancialSummary, ToolGetTransactions} {
		if !names[want] {
			t.Errorf("missing tool %s", want)
		}
	}
}

func TestExecuteProfile(t *testing.T) {
	e := NewExecutor("alice@example.com", nil, nil, nil)
	out := e.Execute(context.Background(), ToolGetUserProfile, "")

	var profile Profile
	if err := json.Unmarshal([]byte(out), &profile); err != nil {
		t.Fatalf("profile result is not JSON: %v", err)
	}
	if profile.Age != 34 || profile.EmployerName != "Acme Corp" {
		t.Errorf("unexpected sample profile: %+v", profile)
	}
}

func TestExecuteProfileMissing(t *testing.T) {
	none := func(ctx context.Context, userEmail string) (*Profile, error) { return nil, nil }
	e := NewExecutor("alice@example.com", none, nil, nil)
	out := e.Execute(context.Background(), ToolGetUserProfile, "")

	if !strings.Contains(out, "No profile found") {
		t.Errorf("expected no-profile message, got %q", out)
	}
}

func TestExecuteProfileFromStore(t *testing.T) {
	store := NewMemoryProfileStore()
	stored := Profile{Age: 52, RiskTolerance: "conservative", Goals: []Goal{{Name: "Retirement", Target: 1500000}}}
	if err := store.Upsert(context.Background(), "alice@example.com", stored); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	e := NewExecutor("alice@example.com", store.Get, nil, nil)
	out := e.Execute(context.Background(), ToolGetUserProfile, "")

	var profile Profile
	if err := json.Unmarshal([]byte(out), &profile); err != nil {
		t.Fatalf("profile result is not JSON: %v", err)
	}
	if profile.Age != 52 || profile.RiskTolerance != "conservative" {
		t.Errorf("expected the stored profile, got %+v", profile)
	}

	// A user with no stored profile sees the no-profile message, not the
	// sample data.
	other := NewExecutor("bob@example.com", store.Get, nil, nil)
	out = other.Execute(context.Background(), ToolGetUserProfile, "")
	if !strings.Contains(out, "No profile found") {
		t.Errorf("expected no-profile message for user without a profile, got %q", out)
	}
}

func TestExecuteProfileErrorBecomesPayload(t *testing.T) {
	failing := func(ctx context.Context, userEmail string) (*Profile, error) {
		return nil, errors.New("warehouse unavailable")
	}
	e := NewExecutor("alice@example.com", failing, nil, nil)
	out := e.Execute(context.Background(), ToolGetUserProfile, "")

	var payload map[string]string
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("error payload is not JSON: %v", err)
	}
	if !strings.Contains(payload["error"], "warehouse unavailable") {
		t.Errorf("expected error payload, got %q", out)
	}
}

func TestExecuteFinancialSummary(t *testing.T) {
	e := NewExecutor("alice@example.com", nil, nil, nil)
	out := e.Execute(context.Background(), ToolGetFinancialSummary, "")

	var summary Summary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("summary result is not JSON: %v", err)
	}
	if summary.NetWorth != summary.TotalAssets-summary.TotalLiabilities {
		t.Errorf("net worth does not balance: %+v", summary)
	}
	if len(summary.Assets) == 0 || len(summary.Liabilities) == 0 {
		t.Error("expected asset and liability breakdowns")
	}
}

func TestExecuteTransactions(t *testing.T) {
	e := NewExecutor("alice@example.com", nil, nil, nil)

	tests := []struct {
		name     string
		args     string
		wantDays int
	}{
		{"default window", "", 30},
		{"explicit days", `{"days":7}`, 7},
		{"zero days falls back", `{"days":0}`, 30},
		{"malformed args fall back", `{"days":`, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := e.Execute(context.Background(), ToolGetTransactions, tt.args)
			var data TransactionsData
			if err := json.Unmarshal([]byte(out), &data); err != nil {
				t.Fatalf("transactions result is not JSON: %v", err)
			}
			if data.Days != tt.wantDays {
				t.Errorf("expected %d day window, got %d", tt.wantDays, data.Days)
			}
			if len(data.Transactions) == 0 {
				t.Error("expected transactions in the window")
			}
		})
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	e := NewExecutor("alice@example.com", nil, nil, nil)
	out := e.Execute(context.Background(), "send_wire_transfer", "{}")

	if !strings.Contains(out, "unknown tool") {
		t.Errorf("expected unknown-tool error payload, got %q", out)
	}
}

func TestSampleTransactionsDeterministic(t *testing.T) {
	a := SampleTransactions(30)
	b := SampleTransactions(30)
	if len(a.Transactions) != len(b.Transactions) {
		t.Fatalf("lengths differ: %d vs %d", len(a.Transactions), len(b.Transactions))
	}
	for i := range a.Transactions {
		if a.Transactions[i].Amount != b.Transactions[i].Amount ||
			a.Transactions[i].ID != b.Transactions[i].ID {
			t.Fatalf("transaction %d differs between runs", i)
		}
	}
	if a.NetCashflow != round2(a.TotalInflow-a.TotalOutflow) {
		t.Errorf("cashflow does not balance: %+v", a)
	}
}

func TestSampleTransactionsAmountsRounded(t *testing.T) {
	data := SampleTransactions(60)
	for _, tx := range data.Transactions {
		cents := tx.Amount * 100
		if math.Abs(cents-math.Round(cents)) > 1e-6 {
			t.Errorf("amount %v is not rounded to cents", tx.Amount)
		}
	}
}
