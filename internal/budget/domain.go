package budget

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

// Budget is an authored target for one account and scope. Actuals are never
// stored; they are derived from posted journal lines on read.
type Budget struct {
	ID             int64           `json:"id"`
	Year           int             `json:"year"`
	Month          *int            `json:"month,omitempty"`
	Type           string          `json:"type"`
	CostCenterID   *int64          `json:"cost_center_id,omitempty"`
	ProjectID      *int64          `json:"project_id,omitempty"`
	AccountID      int64           `json:"account_id"`
	AccountCode    string          `json:"account_code"`
	BudgetedAmount decimal.Decimal `json:"budgeted_amount"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CreateInput declares a budget.
type CreateInput struct {
	Year           int
	Month          *int
	Type           string
	CostCenterID   *int64
	ProjectID      *int64
	AccountCode    string
	BudgetedAmount decimal.Decimal
	CreatedBy      string
}

// Validate checks the request shape.
func (in CreateInput) Validate() error {
	if in.Year < 1900 || in.Year > 9999 {
		return shared.Validationf("year %d out of range", in.Year)
	}
	if in.Month != nil && (*in.Month < 1 || *in.Month > 12) {
		return shared.Validationf("month %d out of range", *in.Month)
	}
	if strings.TrimSpace(in.AccountCode) == "" {
		return shared.Validationf("account required")
	}
	if in.BudgetedAmount.IsNegative() {
		return shared.Validationf("budgeted amount must not be negative")
	}
	if strings.TrimSpace(in.CreatedBy) == "" {
		return shared.Validationf("created_by required")
	}
	return nil
}

// Line is a budget with its derived read-model fields.
type Line struct {
	Budget
	AccountName      string              `json:"account_name"`
	Nature           accounting.Nature   `json:"nature"`
	ActualAmount     decimal.Decimal     `json:"actual_amount"`
	Variance         decimal.Decimal     `json:"variance"`
	ExecutionPercent decimal.Decimal     `json:"execution_percent"`
	Movement         accounting.Movement `json:"movement"`
}

// Comparison is the budget versus actual report for a scope.
type Comparison struct {
	Year             int             `json:"year"`
	Month            *int            `json:"month,omitempty"`
	Lines            []Line          `json:"lines"`
	TotalBudgeted    decimal.Decimal `json:"total_budgeted"`
	TotalActual      decimal.Decimal `json:"total_actual"`
	TotalVariance    decimal.Decimal `json:"total_variance"`
	ExecutionPercent decimal.Decimal `json:"execution_percent"`
}

// ComparisonFilter scopes a comparison.
type ComparisonFilter struct {
	Year         int
	Month        *int
	CostCenterID *int64
	ProjectID    *int64
}

var hundred = decimal.NewFromInt(100)

// Variance is budgeted minus actual.
func Variance(budgeted, actual decimal.Decimal) decimal.Decimal {
	return shared.Round2(budgeted.Sub(actual))
}

// ExecutionPercent is actual over budgeted times 100, zero when nothing is budgeted.
func ExecutionPercent(budgeted, actual decimal.Decimal) decimal.Decimal {
	if budgeted.IsZero() {
		return decimal.Zero
	}
	return actual.Mul(hundred).DivRound(budgeted, 2)
}
