// Package finance provides the finance tools an agent can call during an
// invocation: user profile, financial summary, and transaction history.
// Data comes from sample generators until a warehouse connection is wired.
package finance

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Asset is one entry on the asset side of the balance sheet.
type Asset struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Value       float64 `json:"value"`
	Description string  `json:"description,omitempty"`
}

// Liability is one entry on the liability side of the balance sheet.
type Liability struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description,omitempty"`
}

// Summary is the user's net-worth breakdown.
type Summary struct {
	TotalAssets      float64     `json:"total_assets"`
	TotalLiabilities float64     `json:"total_liabilities"`
	NetWorth         float64     `json:"net_worth"`
	Assets           []Asset     `json:"assets"`
	Liabilities      []Liability `json:"liabilities"`
	AsOf             time.Time   `json:"as_of"`
}

// Transaction is one cashflow event.
type Transaction struct {
	ID       string    `json:"id"`
	Date     time.Time `json:"date"`
	Name     string    `json:"name"`
	Merchant string    `json:"merchant"`
	Category string    `json:"category"`
	Amount   float64   `json:"amount"` // positive inflow, negative outflow
}

// TransactionsData bundles a transaction window with summary statistics.
type TransactionsData struct {
	Transactions []Transaction `json:"transactions"`
	TotalInflow  float64       `json:"total_inflow"`
	TotalOutflow float64       `json:"total_outflow"`
	NetCashflow  float64       `json:"net_cashflow"`
	Days         int           `json:"days"`
}

// Profile holds the demographic and financial context used to personalize
// advice.
type Profile struct {
	Age              int     `json:"age,omitempty"`
	MaritalStatus    string  `json:"marital_status,omitempty"`
	EmploymentStatus string  `json:"employment_status,omitempty"`
	EmployerName     string  `json:"employer_name,omitempty"`
	JobTitle         string  `json:"job_title,omitempty"`
	AnnualIncome     float64 `json:"annual_income,omitempty"`
	RiskTolerance    string  `json:"risk_tolerance,omitempty"`
	RetirementAge    int     `json:"retirement_age_target,omitempty"`
	Goals            []Goal  `json:"financial_goals,omitempty"`
}

// Goal is one named financial goal.
type Goal struct {
	Name   string  `json:"name"`
	Target float64 `json:"target,omitempty"`
}

var sampleAssets = []Asset{
	{ID: "asset-001", Name: "Checking Account", Category: "cash", Value: 15000, Description: "Primary checking account"},
	{ID: "asset-002", Name: "Emergency Savings", Category: "cash", Value: 25000, Description: "6-month emergency fund"},
	{ID: "asset-003", Name: "401(k)", Category: "investment", Value: 120000, Description: "Employer retirement plan"},
	{ID: "asset-004", Name: "Brokerage Account", Category: "investment", Value: 45000, Description: "Index fund portfolio"},
	{ID: "asset-005", Name: "Primary Residence", Category: "property", Value: 450000, Description: "Home equity value"},
}

var sampleLiabilities = []Liability{
	{ID: "liability-001", Name: "Mortgage", Category: "mortgage", Amount: 320000, Description: "30-year fixed, 6.5% APR"},
	{ID: "liability-002", Name: "Auto Loan", Category: "loan", Amount: 18000, Description: "5-year term, 4.9% APR"},
	{ID: "liability-003", Name: "Credit Card", Category: "credit_card", Amount: 2500, Description: "Monthly balance"},
	{ID: "liability-004", Name: "Student Loan", Category: "loan", Amount: 35000, Description: "Federal student loans"},
}

// SampleSummary builds the sample net-worth summary.
func SampleSummary() Summary {
	var assets, liabilities float64
	for _, a := range sampleAssets {
		assets += a.Value
	}
	for _, l := range sampleLiabilities {
		liabilities += l.Amount
	}
	return Summary{
		TotalAssets:      assets,
		TotalLiabilities: liabilities,
		NetWorth:         assets - liabilities,
		Assets:           sampleAssets,
		Liabilities:      sampleLiabilities,
		AsOf:             time.Now(),
	}
}

type spendPattern struct {
	category string
	merchant string
	name     string
	perMonth int
	min, max float64
	inflow   bool
}

var spendPatterns = []spendPattern{
	{category: "salary", merchant: "Acme Corp", name: "Paycheck", perMonth: 2, min: 4000, max: 6000, inflow: true},
	{category: "housing", merchant: "Mortgage Payment", name: "Mortgage", perMonth: 1, min: 1500, max: 2500},
	{category: "food", merchant: "Whole Foods", name: "Groceries", perMonth: 8, min: 40, max: 180},
	{category: "food", merchant: "DoorDash", name: "Takeout", perMonth: 6, min: 15, max: 60},
	{category: "transport", merchant: "Shell Gas", name: "Gas", perMonth: 4, min: 30, max: 80},
	{category: "shopping", merchant: "Amazon", name: "Online Order", perMonth: 5, min: 20, max: 250},
	{category: "entertainment", merchant: "Netflix", name: "Subscription", perMonth: 2, min: 10, max: 40},
	{category: "utilities", merchant: "PG&E", name: "Electric Bill", perMonth: 1, min: 80, max: 200},
}

// SampleTransactions generates a deterministic transaction window covering
// the past `days` days. The generator is seeded so repeated tool calls in
// one conversation agree with each other.
func SampleTransactions(days int) TransactionsData {
	if days <= 0 {
		days = 30
	}
	rng := rand.New(rand.NewSource(42))
	now := time.Now()

	data := TransactionsData{Days: days, Transactions: []Transaction{}}
	months := days/30 + 1
	seq := 0
	for m := 0; m < months; m++ {
		for _, p := range spendPatterns {
			for i := 0; i < p.perMonth; i++ {
				seq++
				daysAgo := rng.Intn(days)
				amount := p.min + rng.Float64()*(p.max-p.min)
				if !p.inflow {
					amount = -amount
				}
				data.Transactions = append(data.Transactions, Transaction{
					ID:       txID(seq),
					Date:     now.AddDate(0, 0, -daysAgo),
					Name:     p.name,
					Merchant: p.merchant,
					Category: p.category,
					Amount:   round2(amount),
				})
			}
		}
	}

	for _, tx := range data.Transactions {
		if tx.Amount > 0 {
			data.TotalInflow += tx.Amount
		} else {
			data.TotalOutflow -= tx.Amount
		}
	}
	data.TotalInflow = round2(data.TotalInflow)
	data.TotalOutflow = round2(data.TotalOutflow)
	data.NetCashflow = round2(data.TotalInflow - data.TotalOutflow)
	return data
}

// SampleProfile is the demo profile used when no profile store is wired.
func SampleProfile() Profile {
	return Profile{
		Age:              34,
		MaritalStatus:    "married",
		EmploymentStatus: "employed_full_time",
		EmployerName:     "Acme Corp",
		JobTitle:         "Staff Engineer",
		AnnualIncome:     165000,
		RiskTolerance:    "moderate",
		RetirementAge:    60,
		Goals: []Goal{
			{Name: "Emergency fund", Target: 40000},
			{Name: "College savings", Target: 120000},
			{Name: "Early retirement"},
		},
	}
}

func txID(seq int) string {
	return fmt.Sprintf("txn-%04d", seq)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
